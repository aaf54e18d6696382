package catalogversion

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/refrange/internal/domain/refrange"
)

func fptr(v float64) *float64 { return &v }
func sptr(v string) *string   { return &v }

type catalogBuilder struct {
	analyses map[string]refrange.Analysis
	params   []*refrange.ParameterRanges
}

func newCatalog() *catalogBuilder {
	return &catalogBuilder{analyses: map[string]refrange.Analysis{}}
}

func (b *catalogBuilder) param(analysis, name string, ranges ...*refrange.ReferenceRange) *catalogBuilder {
	a, ok := b.analyses[analysis]
	if !ok {
		a = refrange.Analysis{ID: uuid.New(), Name: analysis, Position: len(b.analyses)}
		b.analyses[analysis] = a
	}
	p := &refrange.ParameterRanges{
		Analysis:  a,
		Parameter: refrange.Parameter{ID: uuid.New(), AnalysisID: a.ID, Name: name, Position: len(b.params)},
	}
	for _, r := range ranges {
		r.ParameterID = p.Parameter.ID
		r.ID = uuid.New()
		p.Ranges = append(p.Ranges, r)
	}
	b.params = append(b.params, p)
	return b
}

func rng(sex refrange.Sex, min, max, lower, upper float64) *refrange.ReferenceRange {
	return &refrange.ReferenceRange{Sex: sex, AgeMin: min, AgeMax: max, AgeUnit: refrange.AgeUnitYears, Lower: fptr(lower), Upper: fptr(upper)}
}

func sampleCatalog() *catalogBuilder {
	return newCatalog().
		param("Hemograma", "Hemoglobina",
			rng(refrange.SexMale, 0, 18, 12, 16),
			rng(refrange.SexFemale, 0, 18, 11, 15),
			rng(refrange.SexBoth, 18, 120, 12, 16)).
		param("Hemograma", "Hematocrito", rng(refrange.SexBoth, 0, 120, 36, 50)).
		param("Perfil Tiroideo", "TSH", rng(refrange.SexBoth, 0, 120, 0.5, 4.5))
}

func fingerprint(t *testing.T, params []*refrange.ParameterRanges) string {
	t.Helper()
	hash, _, err := Fingerprint(Build(params))
	require.NoError(t, err)
	return hash
}

func TestCanonical_SortsKeysAtEveryDepth(t *testing.T) {
	a, err := Canonical(json.RawMessage(`{"b":1,"a":{"d":[3,1],"c":"x"}}`))
	require.NoError(t, err)
	b, err := Canonical(json.RawMessage(`{"a":{"c":"x","d":[3,1]},"b":1}`))
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":{"c":"x","d":[3,1]},"b":1}`, string(a))
}

func TestCanonical_KeepsArrayOrder(t *testing.T) {
	a, err := Canonical([]int{1, 2})
	require.NoError(t, err)
	b, err := Canonical([]int{2, 1})
	require.NoError(t, err)
	assert.NotEqual(t, string(a), string(b))
}

func TestFingerprint_IndependentOfLoadOrder(t *testing.T) {
	params := sampleCatalog().params
	reversed := make([]*refrange.ParameterRanges, len(params))
	for i, p := range params {
		q := *p
		q.Ranges = append([]*refrange.ReferenceRange(nil), p.Ranges...)
		for l, r := 0, len(q.Ranges)-1; l < r; l, r = l+1, r-1 {
			q.Ranges[l], q.Ranges[r] = q.Ranges[r], q.Ranges[l]
		}
		reversed[len(params)-1-i] = &q
	}

	assert.Equal(t, fingerprint(t, params), fingerprint(t, reversed))
}

func TestFingerprint_IgnoresStorageIDs(t *testing.T) {
	assert.Equal(t, fingerprint(t, sampleCatalog().params), fingerprint(t, sampleCatalog().params))
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	base := fingerprint(t, sampleCatalog().params)

	mutations := map[string]func(r *refrange.ReferenceRange){
		"lower":      func(r *refrange.ReferenceRange) { r.Lower = fptr(11.5) },
		"upper":      func(r *refrange.ReferenceRange) { r.Upper = fptr(17) },
		"text_value": func(r *refrange.ReferenceRange) { r.TextValue = sptr("ver nota") },
		"age_min":    func(r *refrange.ReferenceRange) { r.AgeMin = 1 },
		"age_max":    func(r *refrange.ReferenceRange) { r.AgeMax = 17 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			params := sampleCatalog().params
			mutate(params[0].Ranges[0])
			assert.NotEqual(t, base, fingerprint(t, params))
		})
	}
}

func TestSnapshot_Counts(t *testing.T) {
	items, ranges := Build(sampleCatalog().params).Counts()
	assert.Equal(t, 2, items)
	assert.Equal(t, 5, ranges)
}

func TestBuild_OrdersRangesBySexThenAge(t *testing.T) {
	snap := Build(newCatalog().param("A", "P",
		rng(refrange.SexBoth, 0, 120, 1, 2),
		rng(refrange.SexFemale, 18, 120, 1, 2),
		rng(refrange.SexMale, 18, 120, 1, 2),
		rng(refrange.SexMale, 0, 18, 1, 2),
	).params)

	got := snap.Analyses[0].Parameters[0].Ranges
	require.Len(t, got, 4)
	assert.Equal(t, "Masculino", got[0].Sex)
	assert.Equal(t, 0.0, got[0].AgeMin)
	assert.Equal(t, "Masculino", got[1].Sex)
	assert.Equal(t, "Femenino", got[2].Sex)
	assert.Equal(t, "Ambos", got[3].Sex)
}

func rejectedRow(lower, upper string) refrange.Rejected {
	return refrange.Rejected{
		RangeID: uuid.New(),
		Reason:  "lower bound exceeds upper bound",
		Raw: &refrange.RawRange{
			Sex: sptr("Ambos"), AgeMin: sptr("0"), AgeMax: sptr("120"),
			Lower: sptr(lower), Upper: sptr(upper),
		},
	}
}

func TestFingerprint_CoversRejectedRows(t *testing.T) {
	base := sampleCatalog().params
	baseHash := fingerprint(t, base)

	withRejected := sampleCatalog().params
	withRejected[0].Rejected = append(withRejected[0].Rejected, rejectedRow("9", "3"))
	added := fingerprint(t, withRejected)
	assert.NotEqual(t, baseHash, added, "adding a rejected row must change the hash")

	_, ranges := Build(withRejected).Counts()
	assert.Equal(t, 6, ranges)

	edited := sampleCatalog().params
	edited[0].Rejected = append(edited[0].Rejected, rejectedRow("9", "4"))
	assert.NotEqual(t, added, fingerprint(t, edited), "editing a rejected row must change the hash")
}

func TestFingerprint_RejectedRowOrderIsStable(t *testing.T) {
	a := sampleCatalog().params
	a[0].Rejected = []refrange.Rejected{rejectedRow("9", "3"), rejectedRow("abc", "")}
	b := sampleCatalog().params
	b[0].Rejected = []refrange.Rejected{rejectedRow("abc", ""), rejectedRow("9", "3")}
	assert.Equal(t, fingerprint(t, a), fingerprint(t, b))
}

func TestFingerprint_CoversStoredSex(t *testing.T) {
	withSex := func(stored string) []*refrange.ParameterRanges {
		params := sampleCatalog().params
		r := params[2].Ranges[0]
		params[2].Notes = []refrange.Rejected{{
			RangeID: r.ID,
			Reason:  "unrecognized sex, defaulted to Ambos",
			Raw:     &refrange.RawRange{ID: r.ID, Sex: sptr(stored)},
		}}
		return params
	}
	x := fingerprint(t, withSex("X"))
	assert.NotEqual(t, fingerprint(t, sampleCatalog().params), x)
	assert.NotEqual(t, x, fingerprint(t, withSex("Y")))

	snap := Build(withSex("X"))
	assert.Equal(t, "Ambos", snap.Analyses[1].Parameters[0].Ranges[0].Sex)
	assert.Equal(t, "X", snap.Analyses[1].Parameters[0].Ranges[0].StoredSex)
}

func TestBuild_KeepsAnalysesWithoutParameters(t *testing.T) {
	empty := refrange.Analysis{ID: uuid.New(), Name: "Coprologico", Position: 9}
	cat := sampleCatalog()
	snap := Build(cat.params, cat.analyses["Hemograma"], empty)

	require.Len(t, snap.Analyses, 3)
	assert.Equal(t, "Coprologico", snap.Analyses[2].Name)
	assert.Empty(t, snap.Analyses[2].Parameters)
	assert.Len(t, snap.Analyses[0].Parameters, 2)
	assert.NotEqual(t, fingerprint(t, cat.params), mustHash(t, snap))
}

func mustHash(t *testing.T, snap *Snapshot) string {
	t.Helper()
	hash, _, err := Fingerprint(snap)
	require.NoError(t, err)
	return hash
}
