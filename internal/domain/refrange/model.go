package refrange

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Sex is the three-valued patient partition of a reference range.
type Sex string

const (
	SexMale   Sex = "Masculino"
	SexFemale Sex = "Femenino"
	SexBoth   Sex = "Ambos"
)

// Valid reports whether s is one of the three canonical values.
func (s Sex) Valid() bool {
	return s == SexMale || s == SexFemale || s == SexBoth
}

// Canonical age domain, in years.
const (
	DomainMin = 0.0
	DomainMax = 120.0

	AgeUnitYears = "years"
)

// Provenance markers written to the notes column.
const (
	NoteAutoFill        = "Auto-fill gap"
	NoteAutoFillPending = "Auto-fill gap (pending interpretation)"
	NoteAutoSplit       = "Auto-split from Ambos"
	NoteMigrated        = "Migrated from legacy"
)

// DefaultPlaceholder is the text value inserted when a gap has no template.
const DefaultPlaceholder = "pending interpretation for this age band"

// Analysis is a laboratory test grouping parameters.
type Analysis struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category,omitempty"`
	Position int       `json:"position"`
}

// Parameter is a measurable or qualitative analyte of an Analysis.
type Parameter struct {
	ID         uuid.UUID `json:"id"`
	AnalysisID uuid.UUID `json:"analysis_id"`
	Name       string    `json:"name"`
	Unit       *string   `json:"unit,omitempty"`
	Decimals   int       `json:"decimals"`
	Position   int       `json:"position"`
}

// ReferenceRange is one canonical age-and-sex scoped normal-value interval.
// The age interval is half-open: [AgeMin, AgeMax).
type ReferenceRange struct {
	ID          uuid.UUID `json:"id"`
	ParameterID uuid.UUID `json:"parameter_id"`
	Sex         Sex       `json:"sex"`
	AgeMin      float64   `json:"age_min"`
	AgeMax      float64   `json:"age_max"`
	AgeUnit     string    `json:"age_unit"`
	Lower       *float64  `json:"lower,omitempty"`
	Upper       *float64  `json:"upper,omitempty"`
	TextValue   *string   `json:"text_value,omitempty"`
	Unit        *string   `json:"unit,omitempty"`
	Method      *string   `json:"method,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
}

// Interval returns the age interval covered by r.
func (r *ReferenceRange) Interval() Interval {
	return Interval{Min: r.AgeMin, Max: r.AgeMax}
}

// HasValue reports whether r carries a numeric bound or a text value.
func (r *ReferenceRange) HasValue() bool {
	return r.Lower != nil || r.Upper != nil || (r.TextValue != nil && *r.TextValue != "")
}

// Identity returns the duplicate-detection tuple of r.
func (r *ReferenceRange) Identity() Identity {
	return Identity{
		ParameterID: r.ParameterID,
		Sex:         r.Sex,
		Value:       r.ValueKey(),
	}
}

// ValueKey returns the sex-independent part of the identity tuple.
func (r *ReferenceRange) ValueKey() ValueKey {
	return ValueKey{
		AgeMin:    r.AgeMin,
		AgeMax:    r.AgeMax,
		Method:    strVal(r.Method),
		Lower:     floatKey(r.Lower),
		Upper:     floatKey(r.Upper),
		TextValue: strVal(r.TextValue),
	}
}

// ValueString renders the value fields for plan output.
func (r *ReferenceRange) ValueString() string {
	switch {
	case r.Lower != nil || r.Upper != nil:
		s := floatKey(r.Lower) + "–" + floatKey(r.Upper)
		if r.Unit != nil && *r.Unit != "" {
			s += " " + *r.Unit
		}
		return s
	case r.TextValue != nil:
		return *r.TextValue
	}
	return ""
}

// Clone returns a deep copy of r with a zero ID.
func (r *ReferenceRange) Clone() *ReferenceRange {
	c := *r
	c.ID = uuid.Nil
	c.Lower = copyFloat(r.Lower)
	c.Upper = copyFloat(r.Upper)
	c.TextValue = copyStr(r.TextValue)
	c.Unit = copyStr(r.Unit)
	c.Method = copyStr(r.Method)
	c.Notes = copyStr(r.Notes)
	return &c
}

// ValueKey is (age_min, age_max, method, lower, upper, text_value). Two rows of
// different sex with equal ValueKeys carry the same clinical content.
type ValueKey struct {
	AgeMin    float64
	AgeMax    float64
	Method    string
	Lower     string
	Upper     string
	TextValue string
}

// Identity is the full duplicate-detection tuple
// (parameter_id, sex, age_min, age_max, method, lower, upper, text_value).
type Identity struct {
	ParameterID uuid.UUID
	Sex         Sex
	Value       ValueKey
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/[%s,%s)/%s/%s-%s/%s", id.ParameterID, id.Sex,
		formatAge(id.Value.AgeMin), formatAge(id.Value.AgeMax),
		id.Value.Method, id.Value.Lower, id.Value.Upper, id.Value.TextValue)
}

// ParameterRanges is the unit every pass consumes: one parameter with the
// name of its analysis, its canonical ranges and the rows that could not be
// canonicalized.
type ParameterRanges struct {
	Analysis  Analysis          `json:"analysis"`
	Parameter Parameter         `json:"parameter"`
	Ranges    []*ReferenceRange `json:"ranges"`
	Rejected  []Rejected        `json:"rejected,omitempty"`
	// Notes lists accepted rows whose stored form needed a permissive
	// default, such as an unrecognized sex read as Ambos.
	Notes []Rejected `json:"notes,omitempty"`
}

// Rejected is a stored row excluded from repairs because of a data error.
// The same shape carries non-fatal canonicalization notes. Raw keeps the
// stored columns so that catalog fingerprints see what is actually stored.
type Rejected struct {
	RangeID uuid.UUID `json:"range_id"`
	Reason  string    `json:"reason"`
	Raw     *RawRange `json:"-"`
}

// BySex returns the ranges of p with the given sex.
func (p *ParameterRanges) BySex(sex Sex) []*ReferenceRange {
	var out []*ReferenceRange
	for _, r := range p.Ranges {
		if r.Sex == sex {
			out = append(out, r)
		}
	}
	return out
}

// Sexes returns the sexes present in p, in Masculino, Femenino, Ambos order.
func (p *ParameterRanges) Sexes() []Sex {
	seen := map[Sex]bool{}
	for _, r := range p.Ranges {
		seen[r.Sex] = true
	}
	var out []Sex
	for _, s := range []Sex{SexMale, SexFemale, SexBoth} {
		if seen[s] {
			out = append(out, s)
		}
	}
	return out
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatKey(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatAge(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func strPtr(s string) *string { return &s }
