package refrange

import "fmt"

type nameKey struct {
	analysis  string
	parameter string
}

// PlanMigration copies legacy ranges into the modern parameters with exactly
// the same analysis and parameter names. It only ever inserts: rows whose
// identity already exists in the modern table are left out of the plan.
func PlanMigration(legacy, modern []*ParameterRanges) []*Change {
	targets := make(map[nameKey]*ParameterRanges, len(modern))
	existing := identitySet{}
	for _, m := range modern {
		k := nameKey{analysis: m.Analysis.Name, parameter: m.Parameter.Name}
		if _, dup := targets[k]; !dup {
			targets[k] = m
		}
		for _, r := range m.Ranges {
			if !existing.has(r.Identity()) {
				existing.add(r)
			}
		}
	}

	var changes []*Change
	for _, lp := range legacy {
		target, ok := targets[nameKey{analysis: lp.Analysis.Name, parameter: lp.Parameter.Name}]
		if !ok {
			c := newChange(KindMigrateLegacy, ActionSkip, lp, nil)
			c.Reason = fmt.Sprintf("no modern parameter named %q in analysis %q", lp.Parameter.Name, lp.Analysis.Name)
			changes = append(changes, c)
			continue
		}

		for _, rj := range lp.Rejected {
			c := newChange(KindMigrateLegacy, ActionSkip, target, nil)
			c.Reason = fmt.Sprintf("legacy range %s: %s", rj.RangeID, rj.Reason)
			changes = append(changes, c)
		}

		for _, lr := range sortedRanges(lp.Ranges) {
			r := lr.Clone()
			r.ParameterID = target.Parameter.ID
			r.AgeUnit = AgeUnitYears
			if r.Unit == nil && target.Parameter.Unit != nil {
				r.Unit = copyStr(target.Parameter.Unit)
			}
			r.Notes = strPtr(NoteMigrated)

			if existing.has(r.Identity()) {
				continue
			}
			existing.add(r)
			c := newChange(KindMigrateLegacy, ActionInsert, target, r)
			c.Reason = fmt.Sprintf("from legacy range %s", lr.ID)
			changes = append(changes, c)
		}
	}
	return changes
}
