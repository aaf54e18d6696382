package refrange

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ehr/refrange/internal/platform/apperr"
)

// Interval is a half-open age interval [Min, Max) in years.
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s,%s)", formatAge(i.Min), formatAge(i.Max))
}

// Empty reports whether i covers nothing.
func (i Interval) Empty() bool { return i.Min >= i.Max }

// Overlaps reports whether i and o share any point. Touching intervals do not.
func (i Interval) Overlaps(o Interval) bool {
	return Overlaps(i.Min, i.Max, o.Min, o.Max)
}

// Intersect returns the common part of i and o, which may be empty.
func (i Interval) Intersect(o Interval) Interval {
	out := Interval{Min: i.Min, Max: i.Max}
	if o.Min > out.Min {
		out.Min = o.Min
	}
	if o.Max < out.Max {
		out.Max = o.Max
	}
	return out
}

// Within reports whether i lies entirely inside o.
func (i Interval) Within(o Interval) bool {
	return i.Min >= o.Min && i.Max <= o.Max
}

// Overlaps is the open-interval overlap test s1 < e2 && s2 < e1.
func Overlaps(s1, e1, s2, e2 float64) bool {
	return s1 < e2 && s2 < e1
}

// SortIntervals orders ivs by (Min, Max) in place.
func SortIntervals(ivs []Interval) {
	sort.Slice(ivs, func(a, b int) bool {
		if ivs[a].Min != ivs[b].Min {
			return ivs[a].Min < ivs[b].Min
		}
		return ivs[a].Max < ivs[b].Max
	})
}

// Merge returns the union of ivs as sorted, disjoint, non-touching intervals.
// Empty intervals are dropped.
func Merge(ivs []Interval) []Interval {
	sorted := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Empty() {
			sorted = append(sorted, iv)
		}
	}
	SortIntervals(sorted)

	var out []Interval
	for _, iv := range sorted {
		if n := len(out); n > 0 && iv.Min <= out[n-1].Max {
			if iv.Max > out[n-1].Max {
				out[n-1].Max = iv.Max
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Gaps returns the parts of [lo, hi) not covered by ivs, left to right.
// Coverage outside [lo, hi) is ignored.
func Gaps(ivs []Interval, lo, hi float64) []Interval {
	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	SortIntervals(sorted)

	var gaps []Interval
	cursor := lo
	for _, iv := range sorted {
		if iv.Empty() {
			continue
		}
		if iv.Min > cursor && cursor < hi {
			end := iv.Min
			if end > hi {
				end = hi
			}
			gaps = append(gaps, Interval{Min: cursor, Max: end})
		}
		if iv.Max > cursor {
			cursor = iv.Max
		}
	}
	if cursor < hi {
		gaps = append(gaps, Interval{Min: cursor, Max: hi})
	}
	return gaps
}

// IntersectAll returns the points covered by both a and b.
func IntersectAll(a, b []Interval) []Interval {
	ma, mb := Merge(a), Merge(b)
	var out []Interval
	i, j := 0, 0
	for i < len(ma) && j < len(mb) {
		if x := ma[i].Intersect(mb[j]); !x.Empty() {
			out = append(out, x)
		}
		if ma[i].Max < mb[j].Max {
			i++
		} else {
			j++
		}
	}
	return out
}

// SplitAt cuts iv at every point strictly inside it.
func SplitAt(iv Interval, points ...float64) []Interval {
	sorted := append([]float64(nil), points...)
	sort.Float64s(sorted)
	var out []Interval
	start := iv.Min
	for _, p := range sorted {
		if p > start && p < iv.Max {
			out = append(out, Interval{Min: start, Max: p})
			start = p
		}
	}
	return append(out, Interval{Min: start, Max: iv.Max})
}

// ParseBand parses "a-b" into [a, b).
func ParseBand(s string) (Interval, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Interval{}, apperr.NewInputError("band", fmt.Sprintf("%q is not of the form min-max", s))
	}
	var iv Interval
	var err error
	if iv.Min, err = parseNumber(lo); err != nil {
		return Interval{}, apperr.NewInputError("band", fmt.Sprintf("%q: bad lower age", s))
	}
	if iv.Max, err = parseNumber(hi); err != nil {
		return Interval{}, apperr.NewInputError("band", fmt.Sprintf("%q: bad upper age", s))
	}
	if iv.Empty() || iv.Min < DomainMin || iv.Max > DomainMax {
		return Interval{}, apperr.NewInputError("band", fmt.Sprintf("%q must be a non-empty interval within %s", s, Interval{Min: DomainMin, Max: DomainMax}))
	}
	return iv, nil
}

// ParseBands parses a comma-separated list of bands such as "12-13,64-65".
func ParseBands(s string) ([]Interval, error) {
	var out []Interval
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		iv, err := ParseBand(part)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}
