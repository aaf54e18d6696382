package refrange

import "fmt"

// SplitOptions tunes the Ambos split.
type SplitOptions struct {
	// Band limits the split to Ambos rows lying inside it. Nil means all.
	Band *Interval
	// RemoveSource deletes the Ambos row once both sex-specific copies
	// exist or are planned.
	RemoveSource bool
}

// PlanSplit clones every Ambos row of p into a Masculino and a Femenino row
// with identical values. An Ambos row whose age band already has
// sex-specific coverage with different values is left alone and reported.
func PlanSplit(p *ParameterRanges, opts SplitOptions) []*Change {
	existing := newIdentitySet(p.Ranges)
	var changes []*Change

	for _, a := range sortedRanges(p.BySex(SexBoth)) {
		if opts.Band != nil && !a.Interval().Within(*opts.Band) {
			continue
		}
		if conflict := sexConflict(p, a); conflict != nil {
			c := newChange(KindSplitAmbos, ActionWarn, p, a)
			c.Reason = fmt.Sprintf("%s %s already covers part of %s with different values", conflict.Sex, conflict.Interval(), a.Interval())
			changes = append(changes, c)
			continue
		}

		for _, sex := range []Sex{SexMale, SexFemale} {
			clone := a.Clone()
			clone.Sex = sex
			clone.Notes = strPtr(NoteAutoSplit)
			if existing.has(clone.Identity()) {
				continue
			}
			existing.add(clone)
			c := newChange(KindSplitAmbos, ActionInsert, p, clone)
			c.Reason = fmt.Sprintf("clone of Ambos %s", a.Interval())
			changes = append(changes, c)
		}

		if opts.RemoveSource {
			c := newChange(KindSplitAmbos, ActionDelete, p, a)
			c.Reason = "Masculino and Femenino copies exist"
			changes = append(changes, c)
		}
	}
	return changes
}

// sexConflict returns a sex-specific row overlapping a whose values differ
// from a's, or nil.
func sexConflict(p *ParameterRanges, a *ReferenceRange) *ReferenceRange {
	for _, sex := range []Sex{SexMale, SexFemale} {
		for _, r := range sortedRanges(p.BySex(sex)) {
			if r.Interval().Overlaps(a.Interval()) && r.ValueKey() != a.ValueKey() {
				return r
			}
		}
	}
	return nil
}

// PlanCollapse deletes Ambos rows whose interval, method and values are
// matched exactly by both a Masculino and a Femenino row. Ambos rows that
// overlap sex-specific rows without such evidence are reported for review.
func PlanCollapse(p *ParameterRanges) []*Change {
	male := valueKeys(p.BySex(SexMale))
	female := valueKeys(p.BySex(SexFemale))

	var changes []*Change
	for _, a := range sortedRanges(p.BySex(SexBoth)) {
		k := a.ValueKey()
		if male[k] && female[k] {
			c := newChange(KindCollapseAmbos, ActionDelete, p, a)
			c.Reason = "identical Masculino and Femenino rows exist"
			changes = append(changes, c)
			continue
		}
		if conflict := overlappingSexRow(p, a); conflict != nil {
			c := newChange(KindCollapseAmbos, ActionWarn, p, a)
			c.Reason = fmt.Sprintf("overlaps %s %s without an exact match on both sexes", conflict.Sex, conflict.Interval())
			changes = append(changes, c)
		}
	}
	return changes
}

func overlappingSexRow(p *ParameterRanges, a *ReferenceRange) *ReferenceRange {
	for _, sex := range []Sex{SexMale, SexFemale} {
		for _, r := range sortedRanges(p.BySex(sex)) {
			if r.Interval().Overlaps(a.Interval()) {
				return r
			}
		}
	}
	return nil
}

// PlanForceSex converts every Ambos row of p into target: rows already
// present for target are resolved by deleting the Ambos copy, others are
// updated in place.
func PlanForceSex(p *ParameterRanges, target Sex) []*Change {
	existing := newIdentitySet(p.Ranges)
	var changes []*Change
	for _, a := range sortedRanges(p.BySex(SexBoth)) {
		moved := a.Clone()
		moved.ID = a.ID
		moved.Sex = target

		if existing.has(moved.Identity()) {
			c := newChange(KindForceSex, ActionDelete, p, a)
			c.Reason = fmt.Sprintf("identical %s row exists", target)
			changes = append(changes, c)
			continue
		}
		existing.add(moved)
		c := newChange(KindForceSex, ActionUpdate, p, a)
		c.Target = moved
		c.Reason = fmt.Sprintf("Ambos -> %s", target)
		changes = append(changes, c)
	}
	return changes
}

func valueKeys(ranges []*ReferenceRange) map[ValueKey]bool {
	out := make(map[ValueKey]bool, len(ranges))
	for _, r := range ranges {
		out[r.ValueKey()] = true
	}
	return out
}
