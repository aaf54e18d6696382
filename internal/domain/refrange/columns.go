package refrange

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// TableSet names the three tables a catalog is stored in.
type TableSet struct {
	Analyses   string
	Parameters string
	Ranges     string
}

// ModernTables is the current schema.
var ModernTables = TableSet{
	Analyses:   "analysis",
	Parameters: "parameter",
	Ranges:     "reference_range",
}

// LegacyTables is the schema ranges were first entered in.
var LegacyTables = TableSet{
	Analyses:   "legacy_analisis",
	Parameters: "legacy_parametro",
	Ranges:     "legacy_rango_referencia",
}

// Logical column names. Each resolves to the first existing physical column
// among its candidates.
const (
	colID          = "id"
	colParameterID = "parameter_id"
	colAnalysisID  = "analysis_id"
	colName        = "name"
	colCategory    = "category"
	colPosition    = "position"
	colDecimals    = "decimals"
	colSex         = "sex"
	colAgeMin      = "age_min"
	colAgeMax      = "age_max"
	colAgeUnit     = "age_unit"
	colLower       = "lower"
	colUpper       = "upper"
	colText        = "text"
	colUnit        = "unit"
	colMethod      = "method"
	colNotes       = "notes"
)

type columnSpec struct {
	logical    string
	candidates []string
	required   bool
}

var rangeColumns = []columnSpec{
	{colID, []string{"id"}, true},
	{colParameterID, []string{"parameter_id", "parametro_id", "param_id"}, true},
	{colSex, []string{"sex", "sexo", "gender"}, true},
	{colAgeMin, []string{"age_min", "edad_min", "edad_minima", "min_age"}, true},
	{colAgeMax, []string{"age_max", "edad_max", "edad_maxima", "max_age"}, true},
	{colAgeUnit, []string{"age_unit", "unidad_edad"}, false},
	{colLower, []string{"lower_value", "lower", "min_value", "valor_min", "valor_minimo", "valor_inferior"}, false},
	{colUpper, []string{"upper_value", "upper", "max_value", "valor_max", "valor_maximo", "valor_superior"}, false},
	{colText, []string{"text_value", "valor_texto", "texto", "valor_referencial"}, false},
	{colUnit, []string{"unit", "unidad"}, false},
	{colMethod, []string{"method", "metodo"}, false},
	{colNotes, []string{"notes", "notas", "observaciones"}, false},
}

var parameterColumns = []columnSpec{
	{colID, []string{"id"}, true},
	{colAnalysisID, []string{"analysis_id", "analisis_id"}, true},
	{colName, []string{"name", "nombre"}, true},
	{colUnit, []string{"unit", "unidad"}, false},
	{colDecimals, []string{"decimals", "decimales"}, false},
	{colPosition, []string{"position", "posicion", "orden"}, false},
}

var analysisColumns = []columnSpec{
	{colID, []string{"id"}, true},
	{colName, []string{"name", "nombre"}, true},
	{colCategory, []string{"category", "categoria"}, false},
	{colPosition, []string{"position", "posicion", "orden"}, false},
}

// Column is a resolved physical column.
type Column struct {
	Name string
	// Type is the SQL type used to cast text parameters on write.
	Type string
}

// ColumnMapping maps logical columns onto the physical columns of one table.
// Logical columns absent from the table are simply not in the map.
type ColumnMapping struct {
	Table   string
	columns map[string]Column
}

// NewColumnMapping builds a mapping from the physical columns of table.
// It fails when a required logical column has no candidate.
func NewColumnMapping(table string, physical map[string]Column, specs []columnSpec) (*ColumnMapping, error) {
	m := &ColumnMapping{Table: table, columns: map[string]Column{}}
	var missing []string
	for _, spec := range specs {
		found := false
		for _, cand := range spec.candidates {
			if col, ok := physical[cand]; ok {
				m.columns[spec.logical] = col
				found = true
				break
			}
		}
		if !found && spec.required {
			missing = append(missing, spec.logical)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("table %s has no column for %s", table, strings.Join(missing, ", "))
	}
	return m, nil
}

// Has reports whether the logical column exists.
func (m *ColumnMapping) Has(logical string) bool {
	_, ok := m.columns[logical]
	return ok
}

// Column returns the physical column of a logical name.
func (m *ColumnMapping) Column(logical string) (Column, bool) {
	c, ok := m.columns[logical]
	return c, ok
}

// Ident returns the quoted physical column, optionally qualified by alias.
func (m *ColumnMapping) Ident(alias, logical string) string {
	col := m.columns[logical]
	if alias == "" {
		return pgx.Identifier{col.Name}.Sanitize()
	}
	return alias + "." + pgx.Identifier{col.Name}.Sanitize()
}

// TextExpr selects a logical column as text, or NULL when it does not exist.
func (m *ColumnMapping) TextExpr(alias, logical string) string {
	if !m.Has(logical) {
		return "NULL::text"
	}
	return "CAST(" + m.Ident(alias, logical) + " AS text)"
}

// Placeholder returns the parameter expression writing a text argument into
// a logical column of any type.
func (m *ColumnMapping) Placeholder(logical string, n int) string {
	col := m.columns[logical]
	return fmt.Sprintf("CAST($%d::text AS %s)", n, col.Type)
}

// Mappings holds the resolved mapping of each table of a TableSet.
type Mappings struct {
	Analyses   *ColumnMapping
	Parameters *ColumnMapping
	Ranges     *ColumnMapping
}

const introspectSQL = `
SELECT column_name, data_type, udt_schema, udt_name
FROM information_schema.columns
WHERE table_name = $1 AND table_schema = ANY(current_schemas(false))
ORDER BY array_position(current_schemas(false), table_schema::name), ordinal_position`

// Introspect probes the storage schema for the tables of set.
func Introspect(ctx context.Context, q queryable, set TableSet) (*Mappings, error) {
	analyses, err := introspectTable(ctx, q, set.Analyses, analysisColumns)
	if err != nil {
		return nil, err
	}
	params, err := introspectTable(ctx, q, set.Parameters, parameterColumns)
	if err != nil {
		return nil, err
	}
	ranges, err := introspectTable(ctx, q, set.Ranges, rangeColumns)
	if err != nil {
		return nil, err
	}
	return &Mappings{Analyses: analyses, Parameters: params, Ranges: ranges}, nil
}

func introspectTable(ctx context.Context, q queryable, table string, specs []columnSpec) (*ColumnMapping, error) {
	rows, err := q.Query(ctx, introspectSQL, table)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	defer rows.Close()

	physical := map[string]Column{}
	for rows.Next() {
		var name, dataType, udtSchema, udtName string
		if err := rows.Scan(&name, &dataType, &udtSchema, &udtName); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		if _, seen := physical[name]; seen {
			continue
		}
		physical[name] = Column{Name: name, Type: castType(dataType, udtSchema, udtName)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	if len(physical) == 0 {
		return nil, fmt.Errorf("table %s not found in search path", table)
	}
	return NewColumnMapping(table, physical, specs)
}

func castType(dataType, udtSchema, udtName string) string {
	if dataType == "USER-DEFINED" {
		return pgx.Identifier{udtSchema, udtName}.Sanitize()
	}
	return dataType
}
