package querysql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/docstore/internal/queryir"
)

// deletedFlag mirrors keystore.FlagDeleted; queries never return tombstones.
const deletedFlag = 1

// SQLCompiler compiles QueryIR to parameterized SQL for one SQLite store table.
//
// CRITICAL: ALL queries include ORDER BY key for deterministic results.
// CRITICAL: All values are parameterized (never interpolated). Property paths
// are validated before they are embedded in json_extract expressions.
type SQLCompiler struct {
	// Table is the store's table name, e.g. "kv_default".
	Table string
}

// NewSQLCompiler creates a compiler for the given store table.
func NewSQLCompiler(table string) *SQLCompiler {
	return &SQLCompiler{Table: table}
}

// Arg is one positional SQL argument: a literal, or the name of a parameter
// bound when the query runs.
type Arg struct {
	Value    any
	BoundVar string
}

// Compiled is the output of Compile.
type Compiled struct {
	SQL     string
	Columns []string // "key", "sequence", then binding columns in path order
	Args    []Arg
}

// Bind resolves the positional arguments against params.
func (c *Compiled) Bind(params map[string]any) ([]any, error) {
	out := make([]any, len(c.Args))
	for i, a := range c.Args {
		if a.BoundVar == "" {
			out[i] = a.Value
			continue
		}
		v, ok := params[a.BoundVar]
		if !ok {
			return nil, fmt.Errorf("missing query parameter %q", a.BoundVar)
		}
		p, err := toParam(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", a.BoundVar, err)
		}
		out[i] = p
	}
	return out, nil
}

// Compile converts a QueryIR query to parameterized SQL.
func (c *SQLCompiler) Compile(q queryir.Query) (*Compiled, error) {
	if q == nil {
		return nil, fmt.Errorf("cannot compile nil query")
	}
	if res := queryir.Validate(q); !res.Valid {
		return nil, res.Err()
	}
	sel, ok := queryir.AsSelect(q)
	if !ok {
		return nil, fmt.Errorf("unsupported query type: %T", q)
	}
	return c.compileSelect(sel)
}

// compileSelect compiles a queryir.Select to SQL.
// MANDATORY: Includes ORDER BY key.
func (c *SQLCompiler) compileSelect(q queryir.Select) (*Compiled, error) {
	selectClause, columns := c.compileBindings(q.Bindings)

	where := fmt.Sprintf("(flags & %d) = 0", deletedFlag)
	var args []Arg
	if q.Filter != nil {
		filterSQL, filterArgs, err := c.compilePredicate(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("compile filter: %w", err)
		}
		where += " AND " + filterSQL
		args = filterArgs
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY key %s",
		selectClause,
		quoteIdent(c.Table),
		where,
		dir)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	return &Compiled{SQL: sql, Columns: columns, Args: args}, nil
}

// compileBindings converts the bindings map to a SELECT column list.
// Example: {"customer.name": "name"} → json_extract(body, '$.customer.name') AS "name"
// Paths are sorted for deterministic output.
func (c *SQLCompiler) compileBindings(bindings map[string]string) (string, []string) {
	parts := []string{"key", "sequence"}
	columns := []string{"key", "sequence"}

	paths := make([]string, 0, len(bindings))
	for p := range bindings {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		column := bindings[path]
		parts = append(parts, fmt.Sprintf("%s AS %s", JSONExtract(path), quoteIdent(column)))
		columns = append(columns, column)
	}
	return strings.Join(parts, ", "), columns
}

// compilePredicate compiles a predicate to a WHERE fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []Arg, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.BoundEquals:
		return c.compileBoundEquals(pred)
	case *queryir.BoundEquals:
		return c.compileBoundEquals(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles "property = ?", or "property IS NULL" for nil.
func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []Arg, error) {
	if eq.Value == nil {
		return JSONExtract(eq.Field) + " IS NULL", nil, nil
	}
	param, err := toParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}
	return JSONExtract(eq.Field) + " = ?", []Arg{{Value: param}}, nil
}

// compileBoundEquals compiles a parameter comparison; the value is bound by
// Compiled.Bind at run time.
func (c *SQLCompiler) compileBoundEquals(beq queryir.BoundEquals) (string, []Arg, error) {
	return JSONExtract(beq.Field) + " = ?", []Arg{{BoundVar: beq.BoundVar}}, nil
}

// compileAnd compiles a conjunction.
func (c *SQLCompiler) compileAnd(and queryir.And) (string, []Arg, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // vacuous truth
	}

	var sqlParts []string
	var allArgs []Arg
	for _, pred := range and.Predicates {
		sql, args, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allArgs = append(allArgs, args...)
	}
	return "(" + strings.Join(sqlParts, " AND ") + ")", allArgs, nil
}

// JSONExtract returns the SQL expression reading a property of the body
// column. The same text is used by index definitions so SQLite can match
// query expressions to indexes. path must already be validated.
func JSONExtract(path string) string {
	return fmt.Sprintf("json_extract(CAST(body AS TEXT), '$.%s')", path)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// toParam converts a scalar to a SQLite driver value.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
