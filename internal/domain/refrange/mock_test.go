package refrange

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRangeRepo struct {
	params   []*ParameterRanges
	ranges   map[uuid.UUID]*ReferenceRange
	order    []uuid.UUID
	rejected map[uuid.UUID][]Rejected
	// filters records every filter LoadParameters was called with.
	filters []Filter

	// failAfter makes the write with this 1-based index fail. Zero disables.
	failAfter int
	writes    int
	txCount   int
}

func newMockRangeRepo() *mockRangeRepo {
	return &mockRangeRepo{
		ranges:   make(map[uuid.UUID]*ReferenceRange),
		rejected: make(map[uuid.UUID][]Rejected),
	}
}

// addParameter registers a parameter and its ranges and returns it.
func (m *mockRangeRepo) addParameter(analysis, name string, ranges ...*ReferenceRange) *ParameterRanges {
	var a Analysis
	for _, p := range m.params {
		if p.Analysis.Name == analysis {
			a = p.Analysis
		}
	}
	if a.ID == uuid.Nil {
		a = Analysis{ID: uuid.New(), Name: analysis, Position: len(m.params)}
	}
	p := &ParameterRanges{
		Analysis:  a,
		Parameter: Parameter{ID: uuid.New(), AnalysisID: a.ID, Name: name, Position: len(m.params)},
	}
	m.params = append(m.params, p)
	for _, r := range ranges {
		r.ParameterID = p.Parameter.ID
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		m.ranges[r.ID] = r
		m.order = append(m.order, r.ID)
	}
	return p
}

func (m *mockRangeRepo) rangesOf(parameterID uuid.UUID) []*ReferenceRange {
	var out []*ReferenceRange
	for _, id := range m.order {
		if r, ok := m.ranges[id]; ok && r.ParameterID == parameterID {
			c := r.Clone()
			c.ID = r.ID
			out = append(out, c)
		}
	}
	return out
}

func (m *mockRangeRepo) LoadParameters(_ context.Context, f Filter) ([]*ParameterRanges, error) {
	m.filters = append(m.filters, f)
	var out []*ParameterRanges
	for _, p := range m.params {
		if !f.Match(p.Analysis.Name, p.Parameter.Name) {
			continue
		}
		out = append(out, &ParameterRanges{
			Analysis:  p.Analysis,
			Parameter: p.Parameter,
			Ranges:    m.rangesOf(p.Parameter.ID),
			Rejected:  m.rejected[p.Parameter.ID],
		})
	}
	sortParameters(out)
	return out, nil
}

func (m *mockRangeRepo) LoadAnalyses(_ context.Context) ([]Analysis, error) {
	var out []Analysis
	seen := map[uuid.UUID]bool{}
	for _, p := range m.params {
		if !seen[p.Analysis.ID] {
			seen[p.Analysis.ID] = true
			out = append(out, p.Analysis)
		}
	}
	return out, nil
}

func (m *mockRangeRepo) LoadRanges(_ context.Context, parameterID uuid.UUID) ([]*ReferenceRange, error) {
	return m.rangesOf(parameterID), nil
}

func (m *mockRangeRepo) write() error {
	m.writes++
	if m.failAfter > 0 && m.writes >= m.failAfter {
		return fmt.Errorf("connection reset")
	}
	return nil
}

func (m *mockRangeRepo) Insert(_ context.Context, r *ReferenceRange) error {
	if err := m.write(); err != nil {
		return err
	}
	c := r.Clone()
	c.ID = uuid.New()
	r.ID = c.ID
	m.ranges[c.ID] = c
	m.order = append(m.order, c.ID)
	return nil
}

func (m *mockRangeRepo) Update(_ context.Context, r *ReferenceRange) error {
	if err := m.write(); err != nil {
		return err
	}
	cur, ok := m.ranges[r.ID]
	if !ok {
		return fmt.Errorf("not found")
	}
	cur.Sex, cur.AgeMin, cur.AgeMax = r.Sex, r.AgeMin, r.AgeMax
	return nil
}

func (m *mockRangeRepo) Delete(_ context.Context, id uuid.UUID) error {
	if err := m.write(); err != nil {
		return err
	}
	delete(m.ranges, id)
	return nil
}

// WithTx snapshots the rows and restores them when fn fails.
func (m *mockRangeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txCount++
	saved := make(map[uuid.UUID]*ReferenceRange, len(m.ranges))
	for id, r := range m.ranges {
		c := r.Clone()
		c.ID = r.ID
		saved[id] = c
	}
	order := append([]uuid.UUID(nil), m.order...)
	if err := fn(ctx); err != nil {
		m.ranges, m.order = saved, order
		return err
	}
	return nil
}

func (m *mockRangeRepo) count(parameterID uuid.UUID) int {
	return len(m.rangesOf(parameterID))
}

// -- Builders --

func num(f float64) *float64 { return &f }

func numeric(sex Sex, min, max, lower, upper float64) *ReferenceRange {
	return &ReferenceRange{Sex: sex, AgeMin: min, AgeMax: max, AgeUnit: AgeUnitYears, Lower: num(lower), Upper: num(upper)}
}

func textual(sex Sex, min, max float64, text string) *ReferenceRange {
	return &ReferenceRange{Sex: sex, AgeMin: min, AgeMax: max, AgeUnit: AgeUnitYears, TextValue: strPtr(text)}
}

func paramWith(ranges ...*ReferenceRange) *ParameterRanges {
	p := &ParameterRanges{
		Analysis:  Analysis{ID: uuid.New(), Name: "Perfil"},
		Parameter: Parameter{ID: uuid.New(), Name: "Param"},
	}
	for _, r := range ranges {
		r.ParameterID = p.Parameter.ID
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		p.Ranges = append(p.Ranges, r)
	}
	return p
}

func actions(changes []*Change) map[Action]int {
	out := map[Action]int{}
	for _, c := range changes {
		out[c.Action]++
	}
	return out
}
