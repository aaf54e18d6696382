package refrange

import (
	"fmt"

	"github.com/google/uuid"
)

// LifeStageCuts are the ages at which strict filling splits adult gaps.
var LifeStageCuts = []float64{18, 65}

// DefaultNarrowBands are the boundary bands that naive manual entry most
// often leaves uncovered.
var DefaultNarrowBands = []Interval{{Min: 12, Max: 13}, {Min: 17, Max: 18}, {Min: 64, Max: 65}}

// FillOptions tunes the gap filler.
type FillOptions struct {
	// Sex restricts filling to one sex. Empty means every sex the parameter
	// is partitioned by.
	Sex Sex
	// Strict splits gaps at the life-stage cuts.
	Strict bool
	// Bands, when set, limits fills to the parts of gaps inside these bands.
	Bands []Interval
	// Placeholder is the text value used when no template exists.
	Placeholder string
}

// CoverageFor returns the intervals of p that answer a lookup for sex.
// Ambos rows cover both sexes; an age band covered by both a Masculino and a
// Femenino row is covered for Ambos lookups too.
func CoverageFor(p *ParameterRanges, sex Sex) []Interval {
	own := intervalsOf(p.BySex(sex))
	switch sex {
	case SexMale, SexFemale:
		return Merge(append(own, intervalsOf(p.BySex(SexBoth))...))
	default:
		both := IntersectAll(intervalsOf(p.BySex(SexMale)), intervalsOf(p.BySex(SexFemale)))
		return Merge(append(own, both...))
	}
}

// FillSexes returns the sexes whose coverage the filler closes: Ambos for a
// parameter without sex-specific rows, otherwise its sex-specific
// partitions. When Ambos rows sit next to sex-specific ones both sexes are
// returned, since the Ambos rows already describe the sex that has no rows of
// its own. A parameter with rows for one sex only and no Ambos rows is left
// sex-specific.
func FillSexes(p *ParameterRanges) []Sex {
	present := p.Sexes()
	hasBoth := false
	var out []Sex
	for _, s := range present {
		if s == SexBoth {
			hasBoth = true
			continue
		}
		out = append(out, s)
	}
	switch {
	case len(out) == 0:
		return []Sex{SexBoth}
	case hasBoth:
		return []Sex{SexMale, SexFemale}
	}
	return out
}

// PlanFill proposes one insert per uncovered age band of p. Values are
// always cloned from an existing range of the same coverage; when none exists
// the insert carries the placeholder text and a provisional note.
func PlanFill(p *ParameterRanges, opts FillOptions) []*Change {
	placeholder := opts.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	sexes := FillSexes(p)
	if opts.Sex != "" {
		sexes = []Sex{opts.Sex}
	}

	existing := newIdentitySet(p.Ranges)
	var changes []*Change
	for _, sex := range sexes {
		candidates := templateCandidates(p, sex)
		for _, gap := range fillTargets(Gaps(CoverageFor(p, sex), DomainMin, DomainMax), opts) {
			fill := newFill(p.Parameter.ID, sex, gap, pickTemplate(candidates, gap), placeholder)
			if existing.has(fill.Identity()) {
				continue
			}
			existing.add(fill)
			candidates = append(candidates, fill)

			c := newChange(KindFillGaps, ActionInsert, p, fill)
			c.Reason = fmt.Sprintf("gap %s", gap)
			changes = append(changes, c)
		}
	}
	return changes
}

func fillTargets(gaps []Interval, opts FillOptions) []Interval {
	var pieces []Interval
	for _, g := range gaps {
		if opts.Strict {
			pieces = append(pieces, SplitAt(g, LifeStageCuts...)...)
		} else {
			pieces = append(pieces, g)
		}
	}
	if len(opts.Bands) == 0 {
		return pieces
	}
	var out []Interval
	for _, piece := range pieces {
		for _, band := range opts.Bands {
			if x := piece.Intersect(band); !x.Empty() {
				out = append(out, x)
			}
		}
	}
	return out
}

// templateCandidates lists same-sex rows first, then the Ambos rows that
// also cover the sex.
func templateCandidates(p *ParameterRanges, sex Sex) []*ReferenceRange {
	out := sortedRanges(p.BySex(sex))
	if sex != SexBoth {
		out = append(out, sortedRanges(p.BySex(SexBoth))...)
	}
	return out
}

// pickTemplate prefers the range ending where the gap starts, then the range
// starting where the gap ends, then the first candidate.
func pickTemplate(candidates []*ReferenceRange, gap Interval) *ReferenceRange {
	for _, r := range candidates {
		if r.AgeMax == gap.Min {
			return r
		}
	}
	for _, r := range candidates {
		if r.AgeMin == gap.Max {
			return r
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return nil
}

func newFill(parameterID uuid.UUID, sex Sex, gap Interval, tpl *ReferenceRange, placeholder string) *ReferenceRange {
	if tpl == nil {
		return &ReferenceRange{
			ParameterID: parameterID,
			Sex:         sex,
			AgeMin:      gap.Min,
			AgeMax:      gap.Max,
			AgeUnit:     AgeUnitYears,
			TextValue:   strPtr(placeholder),
			Notes:       strPtr(NoteAutoFillPending),
		}
	}
	fill := tpl.Clone()
	fill.ParameterID = parameterID
	fill.Sex = sex
	fill.AgeMin, fill.AgeMax = gap.Min, gap.Max
	fill.AgeUnit = AgeUnitYears
	fill.Notes = strPtr(NoteAutoFill)
	return fill
}

func intervalsOf(ranges []*ReferenceRange) []Interval {
	out := make([]Interval, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, r.Interval())
	}
	return out
}
