// Package compiler turns CUE definition files into index specs and queries.
//
// A definition file may hold any number of "index" and "query" entries:
//
//	index: by_city: expressions: ["address.city"]
//	query: in_city: where: [{field: "address.city", param: "city"}]
//
// Compilation stops at the first error, which carries the CUE source position.
package compiler

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/queryir"
)

// Definitions is the compiled content of one file.
type Definitions struct {
	Indexes []keystore.IndexSpec      // ordered by name
	Queries map[string]queryir.Select // keyed by query name
}

// QueryNames returns the query names in sorted order.
func (d *Definitions) QueryNames() []string {
	names := make([]string, 0, len(d.Queries))
	for name := range d.Queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads and compiles a CUE definition file.
func LoadFile(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return CompileSource(path, data)
}

// CompileSource compiles CUE source. filename is used in error positions.
func CompileSource(filename string, src []byte) (*Definitions, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(value)
}

// Compile extracts every index and query from a built CUE value.
func Compile(value cue.Value) (*Definitions, error) {
	defs := &Definitions{Queries: map[string]queryir.Select{}}

	indexVal := value.LookupPath(cue.ParsePath("index"))
	if indexVal.Exists() {
		iter, err := indexVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			spec, err := CompileIndex(iter.Value())
			if err != nil {
				return nil, err
			}
			defs.Indexes = append(defs.Indexes, spec)
		}
	}

	queryVal := value.LookupPath(cue.ParsePath("query"))
	if queryVal.Exists() {
		iter, err := queryVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			sel, err := CompileQuery(iter.Value())
			if err != nil {
				return nil, err
			}
			defs.Queries[iter.Selector().String()] = sel
		}
	}

	if len(defs.Indexes) == 0 && len(defs.Queries) == 0 {
		return nil, &CompileError{
			Code:    ErrCodeEmptyStatement,
			Field:   "file",
			Message: "no index or query definitions found",
			Pos:     value.Pos(),
		}
	}
	sort.Slice(defs.Indexes, func(i, j int) bool {
		return defs.Indexes[i].Name < defs.Indexes[j].Name
	})
	return defs, nil
}
