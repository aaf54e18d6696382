// Package catalogversion fingerprints the reference range catalog and keeps
// an append-only ledger of its versions.
package catalogversion

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/refrange/internal/domain/refrange"
)

// Snapshot is the ordered catalog: analyses, their parameters and their
// ranges. Storage ids are left out so that equal content hashes equally.
type Snapshot struct {
	Analyses []Analysis `json:"analyses"`
}

type Analysis struct {
	Name       string      `json:"name"`
	Category   string      `json:"category,omitempty"`
	Position   int         `json:"position"`
	Parameters []Parameter `json:"parameters"`
}

type Parameter struct {
	Name     string  `json:"name"`
	Unit     *string `json:"unit"`
	Decimals int     `json:"decimals"`
	Position int     `json:"position"`
	Ranges   []Range `json:"ranges"`
	// Rejected holds stored rows that could not be canonicalized, as they
	// are stored.
	Rejected []StoredRow `json:"rejected,omitempty"`
}

type Range struct {
	Sex       string   `json:"sex"`
	AgeMin    float64  `json:"age_min"`
	AgeMax    float64  `json:"age_max"`
	AgeUnit   string   `json:"age_unit"`
	Lower     *float64 `json:"lower"`
	Upper     *float64 `json:"upper"`
	TextValue *string  `json:"text_value"`
	Unit      *string  `json:"unit"`
	Method    *string  `json:"method"`
	// StoredSex is the stored sex when it was not recognized and Sex holds
	// the default it was read as.
	StoredSex string `json:"stored_sex,omitempty"`
}

// StoredRow is the raw column text of a range row.
type StoredRow struct {
	Sex       *string `json:"sex"`
	AgeMin    *string `json:"age_min"`
	AgeMax    *string `json:"age_max"`
	AgeUnit   *string `json:"age_unit"`
	Lower     *string `json:"lower"`
	Upper     *string `json:"upper"`
	TextValue *string `json:"text_value"`
	Unit      *string `json:"unit"`
	Method    *string `json:"method"`
}

func storedRow(raw *refrange.RawRange) StoredRow {
	return StoredRow{
		Sex: raw.Sex, AgeMin: raw.AgeMin, AgeMax: raw.AgeMax, AgeUnit: raw.AgeUnit,
		Lower: raw.Lower, Upper: raw.Upper, TextValue: raw.TextValue,
		Unit: raw.Unit, Method: raw.Method,
	}
}

// Projection is the simplified string form used to compare rows.
func (r StoredRow) Projection() string {
	return "rejected:" + strings.Join([]string{
		str(r.Sex), str(r.AgeMin), str(r.AgeMax), str(r.AgeUnit), str(r.Lower),
		str(r.Upper), str(r.TextValue), str(r.Unit), str(r.Method),
	}, "|")
}

// Projection is the simplified string form used to compare range sets.
func (r Range) Projection() string {
	sex := r.Sex
	if r.StoredSex != "" {
		sex += "(" + r.StoredSex + ")"
	}
	return fmt.Sprintf("%s|%s-%s|%s-%s|%s|%s|%s", sex,
		num(&r.AgeMin), num(&r.AgeMax), num(r.Lower), num(r.Upper),
		str(r.TextValue), str(r.Unit), str(r.Method))
}

// Counts returns the number of analyses and of stored range rows in s,
// rejected rows included.
func (s *Snapshot) Counts() (items, ranges int) {
	for _, a := range s.Analyses {
		for _, p := range a.Parameters {
			ranges += len(p.Ranges) + len(p.Rejected)
		}
	}
	return len(s.Analyses), ranges
}

// Build assembles a snapshot from loaded parameters. Analyses lists every
// analysis of the catalog so that those without parameters are part of the
// snapshot too. The result does not depend on the order params arrive in.
func Build(params []*refrange.ParameterRanges, analyses ...refrange.Analysis) *Snapshot {
	byAnalysis := map[uuid.UUID]*Analysis{}
	var order []uuid.UUID
	add := func(ra refrange.Analysis) *Analysis {
		a, ok := byAnalysis[ra.ID]
		if !ok {
			a = &Analysis{Name: ra.Name, Category: ra.Category, Position: ra.Position, Parameters: []Parameter{}}
			byAnalysis[ra.ID] = a
			order = append(order, ra.ID)
		}
		return a
	}
	for _, ra := range analyses {
		add(ra)
	}
	for _, p := range params {
		a := add(p.Analysis)
		param := Parameter{
			Name:     p.Parameter.Name,
			Unit:     p.Parameter.Unit,
			Decimals: p.Parameter.Decimals,
			Position: p.Parameter.Position,
			Ranges:   make([]Range, 0, len(p.Ranges)),
		}
		storedSex := map[uuid.UUID]string{}
		for _, n := range p.Notes {
			if n.Raw != nil && n.Raw.Sex != nil {
				storedSex[n.RangeID] = *n.Raw.Sex
			}
		}
		for _, r := range p.Ranges {
			rg := Range{
				Sex:       string(r.Sex),
				AgeMin:    r.AgeMin,
				AgeMax:    r.AgeMax,
				AgeUnit:   r.AgeUnit,
				Lower:     r.Lower,
				Upper:     r.Upper,
				TextValue: r.TextValue,
				Unit:      r.Unit,
				Method:    r.Method,
			}
			if sex, ok := storedSex[r.ID]; ok && sex != rg.Sex {
				rg.StoredSex = sex
			}
			param.Ranges = append(param.Ranges, rg)
		}
		sort.SliceStable(param.Ranges, func(i, j int) bool {
			return rangeLess(param.Ranges[i], param.Ranges[j])
		})
		for _, rej := range p.Rejected {
			if rej.Raw != nil {
				param.Rejected = append(param.Rejected, storedRow(rej.Raw))
			}
		}
		sort.SliceStable(param.Rejected, func(i, j int) bool {
			return param.Rejected[i].Projection() < param.Rejected[j].Projection()
		})
		a.Parameters = append(a.Parameters, param)
	}

	snap := &Snapshot{Analyses: make([]Analysis, 0, len(order))}
	for _, id := range order {
		a := byAnalysis[id]
		sort.SliceStable(a.Parameters, func(i, j int) bool {
			pi, pj := a.Parameters[i], a.Parameters[j]
			if pi.Position != pj.Position {
				return pi.Position < pj.Position
			}
			return pi.Name < pj.Name
		})
		snap.Analyses = append(snap.Analyses, *a)
	}
	sort.SliceStable(snap.Analyses, func(i, j int) bool {
		ai, aj := snap.Analyses[i], snap.Analyses[j]
		if ai.Position != aj.Position {
			return ai.Position < aj.Position
		}
		return ai.Name < aj.Name
	})
	return snap
}

var sexOrder = map[string]int{
	string(refrange.SexMale):   0,
	string(refrange.SexFemale): 1,
	string(refrange.SexBoth):   2,
}

func rangeLess(a, b Range) bool {
	if a.Sex != b.Sex {
		return sexOrder[a.Sex] < sexOrder[b.Sex]
	}
	if a.AgeMin != b.AgeMin {
		return a.AgeMin < b.AgeMin
	}
	if a.AgeMax != b.AgeMax {
		return a.AgeMax < b.AgeMax
	}
	return a.Projection() < b.Projection()
}

// Canonical serializes v as JSON with object keys sorted at every depth.
// Array order is kept.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical snapshot: %w", err)
	}
	return out, nil
}

// Fingerprint returns the hex SHA-256 of the canonical form of v together
// with that form.
func Fingerprint(v any) (string, []byte, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), canonical, nil
}

func num(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
