package refrange

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RawRange is a range row as read from either table shape, before
// normalization. Every column arrives as text so that malformed values can be
// reported instead of failing the scan.
type RawRange struct {
	ID          uuid.UUID
	ParameterID uuid.UUID
	Sex         *string
	AgeMin      *string
	AgeMax      *string
	AgeUnit     *string
	Lower       *string
	Upper       *string
	TextValue   *string
	Unit        *string
	Method      *string
	Notes       *string
}

// Problem is something Canonicalize noticed about a raw row. Fatal problems
// make the row ineligible for any repair.
type Problem struct {
	Field  string `json:"field"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
	Fatal  bool   `json:"fatal"`
}

func (p Problem) String() string {
	if p.Value != "" {
		return fmt.Sprintf("%s %q: %s", p.Field, p.Value, p.Reason)
	}
	return fmt.Sprintf("%s: %s", p.Field, p.Reason)
}

var sexSynonyms = map[string]Sex{
	"m":         SexMale,
	"masc":      SexMale,
	"masculino": SexMale,
	"male":      SexMale,
	"man":       SexMale,
	"hombre":    SexMale,
	"varon":     SexMale,
	"h":         SexMale,
	"f":         SexFemale,
	"fem":       SexFemale,
	"femenino":  SexFemale,
	"female":    SexFemale,
	"woman":     SexFemale,
	"mujer":     SexFemale,
	"a":         SexBoth,
	"ambos":     SexBoth,
	"all":       SexBoth,
	"both":      SexBoth,
	"todos":     SexBoth,
	"any":       SexBoth,
	"":          SexBoth,
}

var yearUnits = map[string]bool{
	"": true, "y": true, "yr": true, "yrs": true, "year": true, "years": true,
	"a": true, "ano": true, "anos": true,
}

// Fold lower-cases s, strips diacritics and trims surrounding space so that
// "Varón", "VARON " and "varon" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		folded = strings.TrimSpace(s)
	}
	return cases.Fold().String(folded)
}

// NormalizeSex maps a free-form sex string onto the three-valued enum.
// Unrecognized input maps to SexBoth; ok is false in that case.
func NormalizeSex(raw string) (sex Sex, ok bool) {
	if s, found := sexSynonyms[Fold(raw)]; found {
		return s, true
	}
	return SexBoth, false
}

// Canonicalize converts a raw row into the canonical record. It never fails:
// anything it cannot interpret is reported as a Problem. Null age bounds mean
// an open end and become the domain limits.
func Canonicalize(raw RawRange) (ReferenceRange, []Problem) {
	var problems []Problem
	r := ReferenceRange{
		ID:          raw.ID,
		ParameterID: raw.ParameterID,
		AgeUnit:     AgeUnitYears,
		TextValue:   trimmed(raw.TextValue),
		Unit:        trimmed(raw.Unit),
		Method:      trimmed(raw.Method),
		Notes:       trimmed(raw.Notes),
	}

	sex, ok := NormalizeSex(strVal(raw.Sex))
	r.Sex = sex
	if !ok {
		problems = append(problems, Problem{Field: "sex", Value: strVal(raw.Sex), Reason: "unrecognized sex, defaulted to Ambos"})
	}

	if raw.AgeUnit != nil && !yearUnits[Fold(*raw.AgeUnit)] {
		problems = append(problems, Problem{Field: "age_unit", Value: *raw.AgeUnit, Reason: "treated as years"})
	}

	var fatal bool
	r.AgeMin, fatal = parseAge(raw.AgeMin, DomainMin, "age_min", &problems)
	if fatal {
		r.AgeMin = DomainMin
	}
	var fatalMax bool
	r.AgeMax, fatalMax = parseAge(raw.AgeMax, DomainMax, "age_max", &problems)
	if fatalMax {
		r.AgeMax = DomainMax
	}
	if !fatal && !fatalMax && r.AgeMin >= r.AgeMax {
		problems = append(problems, Problem{
			Field:  "age",
			Value:  fmt.Sprintf("[%s,%s)", formatAge(r.AgeMin), formatAge(r.AgeMax)),
			Reason: "empty age interval",
			Fatal:  true,
		})
	}

	r.Lower = parseValue(raw.Lower, "lower", &problems)
	r.Upper = parseValue(raw.Upper, "upper", &problems)
	if r.Lower != nil && r.Upper != nil && *r.Lower > *r.Upper {
		problems = append(problems, Problem{
			Field:  "value",
			Value:  r.ValueString(),
			Reason: "lower bound exceeds upper bound",
			Fatal:  true,
		})
	}
	if !r.HasValue() && !hasFatalField(problems, "lower", "upper") {
		problems = append(problems, Problem{Field: "value", Reason: "missing both numeric bounds and text value", Fatal: true})
	}

	return r, problems
}

// HasFatal reports whether any problem excludes the row from repairs.
func HasFatal(problems []Problem) bool {
	for _, p := range problems {
		if p.Fatal {
			return true
		}
	}
	return false
}

// JoinProblems renders problems as one reason string.
func JoinProblems(problems []Problem) string {
	parts := make([]string, 0, len(problems))
	for _, p := range problems {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, "; ")
}

func hasFatalField(problems []Problem, fields ...string) bool {
	for _, p := range problems {
		if !p.Fatal {
			continue
		}
		for _, f := range fields {
			if p.Field == f {
				return true
			}
		}
	}
	return false
}

func parseAge(s *string, def float64, field string, problems *[]Problem) (float64, bool) {
	v := trimmed(s)
	if v == nil {
		return def, false
	}
	f, err := parseNumber(*v)
	if err != nil {
		*problems = append(*problems, Problem{Field: field, Value: *v, Reason: "not a number", Fatal: true})
		return def, true
	}
	if f < DomainMin || f > DomainMax {
		*problems = append(*problems, Problem{Field: field, Value: *v, Reason: "clamped to [0,120]"})
		f = clamp(f, DomainMin, DomainMax)
	}
	return f, false
}

func parseValue(s *string, field string, problems *[]Problem) *float64 {
	v := trimmed(s)
	if v == nil {
		return nil
	}
	f, err := parseNumber(*v)
	if err != nil {
		*problems = append(*problems, Problem{Field: field, Value: *v, Reason: "not a number", Fatal: true})
		return nil
	}
	return &f
}

// parseNumber accepts a decimal comma, which legacy rows use.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return f, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
