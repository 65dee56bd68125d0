package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/compiler"
	"github.com/roach88/docstore/internal/database"
	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/queryir"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Where      []string
	Select     []string
	SpecPath   string
	Name       string
	Params     []string
	Descending bool
	Limit      int
}

// QueryResult is the printable form of query output.
type QueryResult struct {
	Columns []string            `json:"columns"`
	Rows    []keystore.QueryRow `json:"rows"`
}

func (r QueryResult) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(r.Columns, "\t"))
	for _, row := range r.Rows {
		cells := make([]string, len(r.Columns))
		for i, col := range r.Columns {
			cells[i] = fmt.Sprint(row[col])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	fmt.Fprintf(&b, "(%d rows)", len(r.Rows))
	return b.String()
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query live documents",
		Long: `Select properties of live documents matching equality filters.

Either build the query from flags, or load a named query from a CUE file.
Values are parsed as JSON scalars and fall back to plain strings.

Examples:
  docstore query --where type=book --select title --select author.name
  docstore query --spec defs.cue --name byAuthor --param author=ann`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "path=value filter (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Select, "select", nil, "property path to return (repeatable)")
	cmd.Flags().StringVar(&opts.SpecPath, "spec", "", "CUE definition file")
	cmd.Flags().StringVar(&opts.Name, "name", "", "query name within --spec")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "name=value query parameter (repeatable)")
	cmd.Flags().BoolVar(&opts.Descending, "desc", false, "descending key order")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows (0 = unlimited)")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions) error {
	f := opts.formatter(cmd)
	q, err := opts.buildQuery()
	if err != nil {
		return fail(f, CodeInvalid, WrapExitError(ExitCommandError, "invalid query", err))
	}
	params, err := parseAssignments(opts.Params)
	if err != nil {
		return fail(f, CodeInvalid, WrapExitError(ExitCommandError, "invalid --param", err))
	}

	return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
		compiled, err := db.Store().CompileQuery(ctx, q)
		if err != nil {
			return fail(f, CodeInvalid, storeExitError("query compile failed", err))
		}
		rows, err := compiled.Run(ctx, params)
		if err != nil {
			return fail(f, CodeInvalid, storeExitError("query failed", err))
		}
		return f.Success(QueryResult{Columns: compiled.Columns(), Rows: rows})
	})
}

// buildQuery resolves the query from --spec/--name or the inline flags.
func (o *QueryOptions) buildQuery() (queryir.Select, error) {
	if o.SpecPath != "" {
		if len(o.Where) > 0 || len(o.Select) > 0 {
			return queryir.Select{}, fmt.Errorf("--where and --select cannot be combined with --spec")
		}
		defs, err := compiler.LoadFile(o.SpecPath)
		if err != nil {
			return queryir.Select{}, err
		}
		q, ok := defs.Queries[o.Name]
		if !ok {
			return queryir.Select{}, fmt.Errorf("query %q not found in %s (have %v)", o.Name, o.SpecPath, defs.QueryNames())
		}
		if o.Descending {
			q.Descending = true
		}
		if o.Limit > 0 {
			q.Limit = o.Limit
		}
		return q, nil
	}

	q := queryir.Select{
		Bindings:   map[string]string{},
		Descending: o.Descending,
		Limit:      o.Limit,
	}
	filters, err := parseAssignments(o.Where)
	if err != nil {
		return queryir.Select{}, err
	}
	var preds []queryir.Predicate
	for _, w := range o.Where {
		path, _, _ := strings.Cut(w, "=")
		preds = append(preds, queryir.Equals{Field: path, Value: filters[path]})
	}
	switch len(preds) {
	case 0:
	case 1:
		q.Filter = preds[0]
	default:
		q.Filter = queryir.And{Predicates: preds}
	}
	for _, path := range o.Select {
		col := path
		if i := strings.LastIndexByte(path, '.'); i >= 0 {
			col = path[i+1:]
		}
		q.Bindings[path] = col
	}
	if res := queryir.Validate(q); !res.Valid {
		return queryir.Select{}, res.Err()
	}
	return q, nil
}

// parseAssignments splits name=value pairs, decoding each value as a JSON
// scalar when possible.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		out[name] = parseScalar(raw)
	}
	return out, nil
}

func parseScalar(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case nil, bool, string:
		return val
	default:
		// Objects and arrays are not scalars; match them as text.
		return raw
	}
}
