package refrange

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// IssueKind classifies a detected inconsistency.
type IssueKind string

const (
	IssueDuplicateRange         IssueKind = "HIGH_DUPLICATE_RANGE"
	IssueOverlapSameSex         IssueKind = "HIGH_OVERLAP_SAME_SEX"
	IssueAmbosOverlapSex        IssueKind = "WARN_AMBOS_OVERLAP_SEX"
	IssueDuplicateParameterName IssueKind = "HIGH_DUPLICATE_PARAMETER_NAME"
)

// Severity is the HIGH or WARN prefix of the kind.
func (k IssueKind) Severity() string {
	if i := strings.IndexByte(string(k), '_'); i > 0 {
		return string(k)[:i]
	}
	return string(k)
}

// Issue is one finding of the detector.
type Issue struct {
	Analysis  string      `json:"analysis"`
	Parameter string      `json:"parameter"`
	Sex       Sex         `json:"sex,omitempty"`
	Kind      IssueKind   `json:"kind"`
	A         *Interval   `json:"interval_a,omitempty"`
	B         *Interval   `json:"interval_b,omitempty"`
	Detail    string      `json:"detail"`
	RangeIDs  []uuid.UUID `json:"range_ids,omitempty"`
}

// RejectedRow is a stored row the canonicalizer could not accept.
type RejectedRow struct {
	Analysis  string    `json:"analysis"`
	Parameter string    `json:"parameter"`
	RangeID   uuid.UUID `json:"range_id"`
	Reason    string    `json:"reason"`
}

// Report is the output of an audit.
type Report struct {
	OK         bool          `json:"ok"`
	Parameters int           `json:"parameters"`
	Ranges     int           `json:"ranges"`
	High       int           `json:"high"`
	Warn       int           `json:"warn"`
	Issues     []Issue       `json:"issues"`
	Rejected   []RejectedRow `json:"rejected,omitempty"`
	// Notes are rows accepted with a permissive default.
	Notes []RejectedRow `json:"notes,omitempty"`
}

// Detect inspects params and returns every duplicate, overlap and naming
// issue, ordered by parameter then by check. It never mutates its input.
func Detect(params []*ParameterRanges) *Report {
	rep := &Report{OK: true, Parameters: len(params)}

	nameGroups := duplicateNameGroups(params)

	for _, p := range params {
		rep.Ranges += len(p.Ranges)
		for _, rj := range p.Rejected {
			rep.Rejected = append(rep.Rejected, RejectedRow{
				Analysis: p.Analysis.Name, Parameter: p.Parameter.Name,
				RangeID: rj.RangeID, Reason: rj.Reason,
			})
		}

		for _, n := range p.Notes {
			rep.Notes = append(rep.Notes, RejectedRow{
				Analysis: p.Analysis.Name, Parameter: p.Parameter.Name,
				RangeID: n.RangeID, Reason: n.Reason,
			})
		}

		if group, ok := nameGroups[p.Parameter.ID]; ok {
			rep.Issues = append(rep.Issues, group)
		}
		rep.Issues = append(rep.Issues, detectDuplicates(p)...)
		for _, sex := range []Sex{SexMale, SexFemale, SexBoth} {
			rep.Issues = append(rep.Issues, detectOverlaps(p, sex)...)
		}
		rep.Issues = append(rep.Issues, detectAmbosOverlaps(p)...)
	}

	for _, is := range rep.Issues {
		if is.Kind.Severity() == "HIGH" {
			rep.High++
		} else {
			rep.Warn++
		}
	}
	return rep
}

// duplicateNameGroups flags distinct parameters of one analysis whose names
// are equal after case folding. The issue is attached to the first parameter
// of each group so it is reported once.
func duplicateNameGroups(params []*ParameterRanges) map[uuid.UUID]Issue {
	type key struct {
		analysis uuid.UUID
		name     string
	}
	groups := map[key][]*ParameterRanges{}
	var order []key
	for _, p := range params {
		k := key{analysis: p.Analysis.ID, name: Fold(p.Parameter.Name)}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		if !containsParam(groups[k], p.Parameter.ID) {
			groups[k] = append(groups[k], p)
		}
	}

	out := map[uuid.UUID]Issue{}
	for _, k := range order {
		g := groups[k]
		if len(g) < 2 {
			continue
		}
		names := make([]string, 0, len(g))
		ids := make([]uuid.UUID, 0, len(g))
		for _, p := range g {
			names = append(names, fmt.Sprintf("%q", p.Parameter.Name))
			ids = append(ids, p.Parameter.ID)
		}
		out[g[0].Parameter.ID] = Issue{
			Analysis:  g[0].Analysis.Name,
			Parameter: g[0].Parameter.Name,
			Kind:      IssueDuplicateParameterName,
			Detail:    fmt.Sprintf("%d parameters share the name %s", len(g), strings.Join(names, ", ")),
			RangeIDs:  ids,
		}
	}
	return out
}

func containsParam(ps []*ParameterRanges, id uuid.UUID) bool {
	for _, p := range ps {
		if p.Parameter.ID == id {
			return true
		}
	}
	return false
}

func detectDuplicates(p *ParameterRanges) []Issue {
	groups := map[Identity][]*ReferenceRange{}
	var order []Identity
	for _, r := range p.Ranges {
		id := r.Identity()
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], r)
	}

	var issues []Issue
	for _, id := range order {
		g := groups[id]
		if len(g) < 2 {
			continue
		}
		iv := g[0].Interval()
		issues = append(issues, Issue{
			Analysis:  p.Analysis.Name,
			Parameter: p.Parameter.Name,
			Sex:       id.Sex,
			Kind:      IssueDuplicateRange,
			A:         &iv,
			Detail:    fmt.Sprintf("%d identical rows %s", len(g), g[0].ValueString()),
			RangeIDs:  rangeIDs(g),
		})
	}
	return issues
}

func detectOverlaps(p *ParameterRanges, sex Sex) []Issue {
	ranges := sortedRanges(p.BySex(sex))
	var issues []Issue
	for i := 0; i < len(ranges); i++ {
		a := ranges[i]
		for j := i + 1; j < len(ranges) && ranges[j].AgeMin < a.AgeMax; j++ {
			b := ranges[j]
			if a.Identity() == b.Identity() || !a.Interval().Overlaps(b.Interval()) {
				continue
			}
			ia, ib := a.Interval(), b.Interval()
			issues = append(issues, Issue{
				Analysis:  p.Analysis.Name,
				Parameter: p.Parameter.Name,
				Sex:       sex,
				Kind:      IssueOverlapSameSex,
				A:         &ia,
				B:         &ib,
				Detail:    fmt.Sprintf("%s %s overlaps %s %s", ia, a.ValueString(), ib, b.ValueString()),
				RangeIDs:  []uuid.UUID{a.ID, b.ID},
			})
		}
	}
	return issues
}

func detectAmbosOverlaps(p *ParameterRanges) []Issue {
	var issues []Issue
	for _, a := range sortedRanges(p.BySex(SexBoth)) {
		for _, sex := range []Sex{SexMale, SexFemale} {
			for _, s := range sortedRanges(p.BySex(sex)) {
				if !a.Interval().Overlaps(s.Interval()) {
					continue
				}
				ia, ib := a.Interval(), s.Interval()
				issues = append(issues, Issue{
					Analysis:  p.Analysis.Name,
					Parameter: p.Parameter.Name,
					Sex:       sex,
					Kind:      IssueAmbosOverlapSex,
					A:         &ia,
					B:         &ib,
					Detail:    fmt.Sprintf("Ambos %s overlaps %s %s", ia, sex, ib),
					RangeIDs:  []uuid.UUID{a.ID, s.ID},
				})
			}
		}
	}
	return issues
}

// sortedRanges returns a copy of ranges ordered by (AgeMin, AgeMax) and then
// by value so that output is stable.
func sortedRanges(ranges []*ReferenceRange) []*ReferenceRange {
	out := append([]*ReferenceRange(nil), ranges...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AgeMin != b.AgeMin {
			return a.AgeMin < b.AgeMin
		}
		if a.AgeMax != b.AgeMax {
			return a.AgeMax < b.AgeMax
		}
		return a.ValueString() < b.ValueString()
	})
	return out
}

func rangeIDs(rs []*ReferenceRange) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}
