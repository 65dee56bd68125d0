package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/queryir"
)

// memQuery evaluates a Select by decoding every live body. Results match
// what the SQLite store returns for the same query.
type memQuery struct {
	store   *KeyStore
	sel     queryir.Select
	paths   []string
	columns []string
	params  []string
}

func newMemQuery(s *KeyStore, sel queryir.Select) *memQuery {
	paths := make([]string, 0, len(sel.Bindings))
	for p := range sel.Bindings {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	columns := []string{"key", "sequence"}
	for _, p := range paths {
		columns = append(columns, sel.Bindings[p])
	}
	return &memQuery{
		store:   s,
		sel:     sel,
		paths:   paths,
		columns: columns,
		params:  queryir.Validate(sel).Params,
	}
}

func (q *memQuery) Columns() []string {
	return append([]string(nil), q.columns...)
}

func (q *memQuery) Run(ctx context.Context, params map[string]any) ([]keystore.QueryRow, error) {
	s := q.store
	for _, name := range q.params {
		if _, ok := params[name]; !ok {
			return nil, keystore.Errorf(keystore.ErrCodeInvalidArgument, "run query", s.name, "missing query parameter %q", name)
		}
	}
	opts := keystore.EnumeratorOptions{Descending: q.sel.Descending, Content: keystore.EntireBody}
	impl, err := s.NewEnumeratorImpl(ctx, false, 0, opts)
	if err != nil {
		return nil, err
	}
	defer impl.Close()

	rows := []keystore.QueryRow{}
	for {
		ok, err := impl.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("run query %s: %w", s.name, err)
		}
		if !ok {
			break
		}
		rec := impl.Record()

		// Bodies that are not JSON objects have no properties.
		doc, err := queryir.DecodeDocument(rec.Body)
		if err != nil {
			doc = queryir.Document{}
		}
		match, err := queryir.Match(q.sel.Filter, doc, params)
		if err != nil {
			return nil, keystore.NewError(keystore.ErrCodeInvalidArgument, "run query", s.name, err)
		}
		if !match {
			continue
		}

		row := keystore.QueryRow{"key": string(rec.Key), "sequence": rec.Sequence}
		for _, p := range q.paths {
			row[q.sel.Bindings[p]] = columnValue(doc.Lookup(p))
		}
		rows = append(rows, row)
		if q.sel.Limit > 0 && len(rows) == q.sel.Limit {
			break
		}
	}
	return rows, nil
}

// columnValue renders objects and arrays as JSON text, as json_extract does.
func columnValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}
