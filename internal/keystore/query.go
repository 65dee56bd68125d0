package keystore

import "context"

// QueryRow is one result of a compiled query, keyed by column name.
// Every row carries the "key" and "sequence" columns.
type QueryRow map[string]any

// Query is a compiled document query.
type Query interface {
	// Columns returns the result column names in order.
	Columns() []string

	// Run executes the query. params supplies the values of queryir.Param
	// predicates by name.
	Run(ctx context.Context, params map[string]any) ([]QueryRow, error)
}
