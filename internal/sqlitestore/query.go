package sqlitestore

import (
	"context"
	"fmt"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/queryir"
	"github.com/roach88/docstore/internal/querysql"
)

// CompileQuery compiles q to SQL over the store's table.
func (s *KeyStore) CompileQuery(ctx context.Context, q queryir.Query) (keystore.Query, error) {
	if err := s.checkOpen("compile query"); err != nil {
		return nil, err
	}
	compiled, err := querysql.NewSQLCompiler(s.table).Compile(q)
	if err != nil {
		return nil, keystore.NewError(keystore.ErrCodeInvalidArgument, "compile query", s.name, err)
	}
	return &sqlQuery{store: s, compiled: compiled}, nil
}

type sqlQuery struct {
	store    *KeyStore
	compiled *querysql.Compiled
}

func (q *sqlQuery) Columns() []string {
	return append([]string(nil), q.compiled.Columns...)
}

// SQL returns the compiled statement, for explain output.
func (q *sqlQuery) SQL() string {
	return q.compiled.SQL
}

func (q *sqlQuery) Run(ctx context.Context, params map[string]any) ([]keystore.QueryRow, error) {
	s := q.store
	if err := s.checkOpen("run query"); err != nil {
		return nil, err
	}
	args, err := q.compiled.Bind(params)
	if err != nil {
		return nil, keystore.NewError(keystore.ErrCodeInvalidArgument, "run query", s.name, err)
	}

	rows, err := s.df.querier().QueryContext(ctx, q.compiled.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("run query %s: %w", s.name, err)
	}
	defer rows.Close()

	columns := q.compiled.Columns
	results := []keystore.QueryRow{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("run query %s: scan: %w", s.name, err)
		}

		row := make(keystore.QueryRow, len(columns))
		for i, col := range columns {
			row[col] = normalizeColumn(col, values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run query %s: %w", s.name, err)
	}
	return results, nil
}

// normalizeColumn maps driver values to the types the in-memory evaluator
// produces: keys and text as string, sequence as keystore.Sequence.
func normalizeColumn(col string, v any) any {
	if col == "sequence" {
		if n, ok := v.(int64); ok {
			return keystore.Sequence(n)
		}
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
