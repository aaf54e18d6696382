package catalogversion

import "sort"

// Diff is the shallow difference between two snapshots. Analyses are keyed
// by name and parameters by name within their analysis.
type Diff struct {
	AddedAnalyses   []string       `json:"added_analyses,omitempty"`
	RemovedAnalyses []string       `json:"removed_analyses,omitempty"`
	Analyses        []AnalysisDiff `json:"analyses,omitempty"`
}

// AnalysisDiff lists parameter changes inside an analysis present in both
// snapshots.
type AnalysisDiff struct {
	Analysis          string   `json:"analysis"`
	AddedParameters   []string `json:"added_parameters,omitempty"`
	RemovedParameters []string `json:"removed_parameters,omitempty"`
	ChangedParameters []string `json:"changed_parameters,omitempty"`
}

// Empty reports whether the diff records nothing.
func (d *Diff) Empty() bool {
	return d == nil || (len(d.AddedAnalyses) == 0 && len(d.RemovedAnalyses) == 0 && len(d.Analyses) == 0)
}

// Compare returns what changed from prev to next. A nil prev treats every
// analysis of next as added.
func Compare(prev, next *Snapshot) *Diff {
	if prev == nil {
		prev = &Snapshot{}
	}
	before, after := indexAnalyses(prev), indexAnalyses(next)

	d := &Diff{}
	for _, name := range sortedKeys(after) {
		a, ok := before[name]
		if !ok {
			d.AddedAnalyses = append(d.AddedAnalyses, name)
			continue
		}
		if ad := compareAnalysis(name, a, after[name]); ad != nil {
			d.Analyses = append(d.Analyses, *ad)
		}
	}
	for _, name := range sortedKeys(before) {
		if _, ok := after[name]; !ok {
			d.RemovedAnalyses = append(d.RemovedAnalyses, name)
		}
	}
	return d
}

func compareAnalysis(name string, before, after *Analysis) *AnalysisDiff {
	bp, ap := indexParameters(before), indexParameters(after)
	ad := &AnalysisDiff{Analysis: name}
	for _, pname := range sortedKeys(ap) {
		p, ok := bp[pname]
		if !ok {
			ad.AddedParameters = append(ad.AddedParameters, pname)
			continue
		}
		if !sameRanges(p, ap[pname]) {
			ad.ChangedParameters = append(ad.ChangedParameters, pname)
		}
	}
	for _, pname := range sortedKeys(bp) {
		if _, ok := ap[pname]; !ok {
			ad.RemovedParameters = append(ad.RemovedParameters, pname)
		}
	}
	if len(ad.AddedParameters) == 0 && len(ad.RemovedParameters) == 0 && len(ad.ChangedParameters) == 0 {
		return nil
	}
	return ad
}

// sameRanges compares the range projections of two parameters as sets.
// Rejected rows take part in the comparison.
func sameRanges(a, b *Parameter) bool {
	as, bs := projections(a), projections(b)
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if !bs[k] {
			return false
		}
	}
	return true
}

func projections(p *Parameter) map[string]bool {
	out := make(map[string]bool, len(p.Ranges)+len(p.Rejected))
	for _, r := range p.Ranges {
		out[r.Projection()] = true
	}
	for _, r := range p.Rejected {
		out[r.Projection()] = true
	}
	return out
}

// indexAnalyses keys analyses by name; on a name collision the parameters
// of both are merged.
func indexAnalyses(s *Snapshot) map[string]*Analysis {
	out := make(map[string]*Analysis, len(s.Analyses))
	for i := range s.Analyses {
		a := s.Analyses[i]
		if cur, ok := out[a.Name]; ok {
			cur.Parameters = append(cur.Parameters, a.Parameters...)
			continue
		}
		a.Parameters = append([]Parameter(nil), a.Parameters...)
		out[a.Name] = &a
	}
	return out
}

// indexParameters keys parameters by name; ranges of same-named parameters
// are pooled.
func indexParameters(a *Analysis) map[string]*Parameter {
	out := make(map[string]*Parameter, len(a.Parameters))
	for i := range a.Parameters {
		p := a.Parameters[i]
		if cur, ok := out[p.Name]; ok {
			cur.Ranges = append(cur.Ranges, p.Ranges...)
			cur.Rejected = append(cur.Rejected, p.Rejected...)
			continue
		}
		p.Ranges = append([]Range(nil), p.Ranges...)
		p.Rejected = append([]StoredRow(nil), p.Rejected...)
		out[p.Name] = &p
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
