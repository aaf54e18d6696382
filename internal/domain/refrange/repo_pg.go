package refrange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/refrange/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type rangeRepoPG struct {
	pool   *pgxpool.Pool
	tables TableSet

	mu sync.Mutex
	// mappings is keyed by tenant; each tenant schema is probed once.
	mappings map[string]*Mappings
}

// NewRangeRepoPG returns a Repository over the given table set. Column
// mappings are probed on first use per tenant and then reused.
func NewRangeRepoPG(pool *pgxpool.Pool, tables TableSet) Repository {
	return &rangeRepoPG{pool: pool, tables: tables, mappings: map[string]*Mappings{}}
}

func (r *rangeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *rangeRepoPG) resolve(ctx context.Context) (*Mappings, error) {
	tenant := db.TenantFromContext(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mappings[tenant]; ok {
		return m, nil
	}
	m, err := Introspect(ctx, r.conn(ctx), r.tables)
	if err != nil {
		return nil, err
	}
	r.mappings[tenant] = m
	return m, nil
}

func (r *rangeRepoPG) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, fn)
}

func (r *rangeRepoPG) LoadParameters(ctx context.Context, f Filter) ([]*ParameterRanges, error) {
	m, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	pm, am := m.Parameters, m.Analyses

	query := fmt.Sprintf(`SELECT p.%s, a.%s, %s, %s, %s, %s, %s, %s, %s
		FROM %s p JOIN %s a ON %s = %s`,
		pgx.Identifier{pm.columns[colID].Name}.Sanitize(),
		pgx.Identifier{am.columns[colID].Name}.Sanitize(),
		pm.TextExpr("p", colName), pm.TextExpr("p", colUnit),
		pm.TextExpr("p", colDecimals), pm.TextExpr("p", colPosition),
		am.TextExpr("a", colName), am.TextExpr("a", colCategory), am.TextExpr("a", colPosition),
		pgx.Identifier{pm.Table}.Sanitize(), pgx.Identifier{am.Table}.Sanitize(),
		pm.Ident("p", colAnalysisID), am.Ident("a", colID))

	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	defer rows.Close()

	var params []*ParameterRanges
	byID := map[uuid.UUID]*ParameterRanges{}
	for rows.Next() {
		var (
			pr                                   ParameterRanges
			pName, aName                         *string
			unit, decimals, pPos, category, aPos *string
		)
		if err := rows.Scan(&pr.Parameter.ID, &pr.Analysis.ID, &pName, &unit, &decimals, &pPos, &aName, &category, &aPos); err != nil {
			return nil, fmt.Errorf("scan parameter: %w", err)
		}
		pr.Parameter.AnalysisID = pr.Analysis.ID
		pr.Parameter.Name = strVal(pName)
		pr.Parameter.Unit = trimmed(unit)
		pr.Parameter.Decimals = atoi(decimals)
		pr.Parameter.Position = atoi(pPos)
		pr.Analysis.Name = strVal(aName)
		pr.Analysis.Category = strVal(category)
		pr.Analysis.Position = atoi(aPos)

		if !f.Match(pr.Analysis.Name, pr.Parameter.Name) {
			continue
		}
		p := pr
		params = append(params, &p)
		byID[p.Parameter.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	sortParameters(params)

	if len(params) == 0 {
		return params, nil
	}
	ids := make([]uuid.UUID, 0, len(params))
	for _, p := range params {
		ids = append(ids, p.Parameter.ID)
	}
	raws, err := r.loadRaw(ctx, m.Ranges, ids)
	if err != nil {
		return nil, err
	}
	for _, raw := range raws {
		p, ok := byID[raw.ParameterID]
		if !ok {
			continue
		}
		rng, problems := Canonicalize(raw)
		stored := raw
		if HasFatal(problems) {
			p.Rejected = append(p.Rejected, Rejected{RangeID: raw.ID, Reason: JoinProblems(problems), Raw: &stored})
			continue
		}
		if len(problems) > 0 {
			p.Notes = append(p.Notes, Rejected{RangeID: raw.ID, Reason: JoinProblems(problems), Raw: &stored})
		}
		rr := rng
		p.Ranges = append(p.Ranges, &rr)
	}
	return params, nil
}

func (r *rangeRepoPG) LoadAnalyses(ctx context.Context) ([]Analysis, error) {
	m, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	am := m.Analyses
	query := fmt.Sprintf(`SELECT a.%s, %s, %s, %s FROM %s a`,
		pgx.Identifier{am.columns[colID].Name}.Sanitize(),
		am.TextExpr("a", colName), am.TextExpr("a", colCategory), am.TextExpr("a", colPosition),
		pgx.Identifier{am.Table}.Sanitize())

	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		var (
			a                   Analysis
			name, category, pos *string
		)
		if err := rows.Scan(&a.ID, &name, &category, &pos); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		a.Name = strVal(name)
		a.Category = strVal(category)
		a.Position = atoi(pos)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load analyses: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *rangeRepoPG) LoadRanges(ctx context.Context, parameterID uuid.UUID) ([]*ReferenceRange, error) {
	m, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	raws, err := r.loadRaw(ctx, m.Ranges, []uuid.UUID{parameterID})
	if err != nil {
		return nil, err
	}
	out := make([]*ReferenceRange, 0, len(raws))
	for _, raw := range raws {
		rng, problems := Canonicalize(raw)
		if HasFatal(problems) {
			continue
		}
		rr := rng
		out = append(out, &rr)
	}
	return out, nil
}

func (r *rangeRepoPG) loadRaw(ctx context.Context, rm *ColumnMapping, parameterIDs []uuid.UUID) ([]RawRange, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s WHERE %s = ANY($1)`,
		rm.Ident("", colID), rm.Ident("", colParameterID),
		rm.TextExpr("", colSex), rm.TextExpr("", colAgeMin), rm.TextExpr("", colAgeMax),
		rm.TextExpr("", colAgeUnit), rm.TextExpr("", colLower), rm.TextExpr("", colUpper),
		rm.TextExpr("", colText), rm.TextExpr("", colUnit), rm.TextExpr("", colMethod),
		rm.TextExpr("", colNotes),
		pgx.Identifier{rm.Table}.Sanitize(), rm.Ident("", colParameterID))

	rows, err := r.conn(ctx).Query(ctx, query, parameterIDs)
	if err != nil {
		return nil, fmt.Errorf("load ranges from %s: %w", rm.Table, err)
	}
	defer rows.Close()

	var out []RawRange
	for rows.Next() {
		var raw RawRange
		if err := rows.Scan(&raw.ID, &raw.ParameterID, &raw.Sex, &raw.AgeMin, &raw.AgeMax,
			&raw.AgeUnit, &raw.Lower, &raw.Upper, &raw.TextValue, &raw.Unit, &raw.Method, &raw.Notes); err != nil {
			return nil, fmt.Errorf("scan range: %w", err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load ranges from %s: %w", rm.Table, err)
	}
	return out, nil
}

func (r *rangeRepoPG) Insert(ctx context.Context, rng *ReferenceRange) error {
	m, err := r.resolve(ctx)
	if err != nil {
		return err
	}
	rm := m.Ranges
	if rng.ID == uuid.Nil {
		rng.ID = uuid.New()
	}

	values := []struct {
		logical string
		value   *string
	}{
		{colSex, strPtr(string(rng.Sex))},
		{colAgeMin, strPtr(formatAge(rng.AgeMin))},
		{colAgeMax, strPtr(formatAge(rng.AgeMax))},
		{colAgeUnit, strPtr(rng.AgeUnit)},
		{colLower, floatText(rng.Lower)},
		{colUpper, floatText(rng.Upper)},
		{colText, rng.TextValue},
		{colUnit, rng.Unit},
		{colMethod, rng.Method},
		{colNotes, rng.Notes},
	}

	cols := []string{rm.Ident("", colID), rm.Ident("", colParameterID)}
	exprs := []string{"$1", "$2"}
	args := []interface{}{rng.ID, rng.ParameterID}
	for _, v := range values {
		if !rm.Has(v.logical) {
			continue
		}
		args = append(args, v.value)
		cols = append(cols, rm.Ident("", v.logical))
		exprs = append(exprs, rm.Placeholder(v.logical, len(args)))
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		pgx.Identifier{rm.Table}.Sanitize(), strings.Join(cols, ", "), strings.Join(exprs, ", "))
	if _, err := r.conn(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert range into %s: %w", rm.Table, err)
	}
	return nil
}

func (r *rangeRepoPG) Update(ctx context.Context, rng *ReferenceRange) error {
	m, err := r.resolve(ctx)
	if err != nil {
		return err
	}
	rm := m.Ranges
	query := fmt.Sprintf(`UPDATE %s SET %s = %s, %s = %s, %s = %s WHERE %s = $1`,
		pgx.Identifier{rm.Table}.Sanitize(),
		rm.Ident("", colSex), rm.Placeholder(colSex, 2),
		rm.Ident("", colAgeMin), rm.Placeholder(colAgeMin, 3),
		rm.Ident("", colAgeMax), rm.Placeholder(colAgeMax, 4),
		rm.Ident("", colID))
	tag, err := r.conn(ctx).Exec(ctx, query, rng.ID, string(rng.Sex), formatAge(rng.AgeMin), formatAge(rng.AgeMax))
	if err != nil {
		return fmt.Errorf("update range %s: %w", rng.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update range %s: row no longer exists", rng.ID)
	}
	return nil
}

func (r *rangeRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	m, err := r.resolve(ctx)
	if err != nil {
		return err
	}
	rm := m.Ranges
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, pgx.Identifier{rm.Table}.Sanitize(), rm.Ident("", colID))
	if _, err := r.conn(ctx).Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete range %s: %w", id, err)
	}
	return nil
}

func floatText(f *float64) *string {
	if f == nil {
		return nil
	}
	return strPtr(floatKey(f))
}

func atoi(s *string) int {
	if s == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(*s))
	if err != nil {
		return 0
	}
	return n
}
