package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/queryir"
)

func compileString(t *testing.T, src string) (*Definitions, error) {
	t.Helper()
	return CompileSource("defs.cue", []byte(src))
}

func requireCode(t *testing.T, err error, code string) *CompileError {
	t.Helper()
	require.Error(t, err)
	var ce *CompileError
	require.True(t, errors.As(err, &ce), "expected CompileError, got %T: %v", err, err)
	assert.Equal(t, code, ce.Code, ce.Error())
	return ce
}

func TestCompileIndexes(t *testing.T) {
	defs, err := compileString(t, `
index: by_name: expressions: ["name"]
index: by_city: {
	type:        "value"
	expressions: ["address.city", "address.zip"]
}
`)
	require.NoError(t, err)
	require.Len(t, defs.Indexes, 2)

	// ordered by name
	assert.Equal(t, keystore.IndexSpec{
		Name:        "by_city",
		Type:        keystore.ValueIndex,
		Expressions: []string{"address.city", "address.zip"},
	}, defs.Indexes[0])
	assert.Equal(t, "by_name", defs.Indexes[1].Name)
	assert.Equal(t, keystore.ValueIndex, defs.Indexes[1].Type)
	assert.Empty(t, defs.Queries)
}

func TestCompileIndex_FullText(t *testing.T) {
	defs, err := compileString(t, `index: body_text: {type: "fulltext", expressions: ["text"]}`)
	require.NoError(t, err)
	assert.Equal(t, keystore.FullTextIndex, defs.Indexes[0].Type)
}

func TestCompileIndex_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"missing expressions", `index: a: type: "value"`, ErrCodeMissingField},
		{"empty expressions", `index: a: expressions: []`, ErrCodeMissingField},
		{"expressions not list", `index: a: expressions: "name"`, ErrCodeWrongType},
		{"expression not string", `index: a: expressions: [1]`, ErrCodeWrongType},
		{"bad path", `index: a: expressions: ["address..city"]`, ErrCodeInvalidPath},
		{"unknown type", `index: a: {type: "spatial", expressions: ["loc"]}`, ErrCodeUnknownType},
		{"bad name", `index: "by city": expressions: ["city"]`, ErrCodeInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(t, tt.src)
			requireCode(t, err, tt.code)
		})
	}
}

func TestCompileQuery(t *testing.T) {
	defs, err := compileString(t, `
query: in_city: {
	where: [
		{field: "address.city", equals: "Paris"},
		{field: "status", param: "status"},
		{field: "age", equals: 42},
		{field: "vip", equals: true},
	]
	select: [
		{path: "name"},
		{path: "address.zip", as: "postcode"},
	]
	descending: true
	limit:      5
}
`)
	require.NoError(t, err)
	require.Equal(t, []string{"in_city"}, defs.QueryNames())

	sel := defs.Queries["in_city"]
	assert.Equal(t, queryir.And{Predicates: []queryir.Predicate{
		queryir.Equals{Field: "address.city", Value: "Paris"},
		queryir.BoundEquals{Field: "status", BoundVar: "status"},
		queryir.Equals{Field: "age", Value: int64(42)},
		queryir.Equals{Field: "vip", Value: true},
	}}, sel.Filter)
	assert.Equal(t, map[string]string{"name": "name", "address.zip": "postcode"}, sel.Bindings)
	assert.True(t, sel.Descending)
	assert.Equal(t, 5, sel.Limit)
}

func TestCompileQuery_SingleTermIsNotWrapped(t *testing.T) {
	defs, err := compileString(t, `query: q: where: [{field: "deleted", equals: null}]`)
	require.NoError(t, err)
	assert.Equal(t, queryir.Equals{Field: "deleted", Value: nil}, defs.Queries["q"].Filter)
}

func TestCompileQuery_NoWhere(t *testing.T) {
	defs, err := compileString(t, `query: all: limit: 3`)
	require.NoError(t, err)
	assert.Nil(t, defs.Queries["all"].Filter)
	assert.Equal(t, 3, defs.Queries["all"].Limit)
}

func TestCompileQuery_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"where not list", `query: q: where: {field: "a"}`, ErrCodeWrongType},
		{"term without field", `query: q: where: [{equals: 1}]`, ErrCodeMissingField},
		{"term without value", `query: q: where: [{field: "a"}]`, ErrCodeMissingField},
		{"equals and param", `query: q: where: [{field: "a", equals: 1, param: "p"}]`, ErrCodeDuplicate},
		{"non-scalar equals", `query: q: where: [{field: "a", equals: [1]}]`, ErrCodeInvalidValue},
		{"bad where path", `query: q: where: [{field: "a b", equals: 1}]`, ErrCodeInvalidPath},
		{"reserved column", `query: q: select: [{path: "key"}]`, ErrCodeInvalidValue},
		{"duplicate select", `query: q: select: [{path: "a"}, {path: "a", as: "b"}]`, ErrCodeDuplicate},
		{"negative limit", `query: q: limit: -1`, ErrCodeWrongType},
		{"descending not bool", `query: q: descending: "yes"`, ErrCodeWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(t, tt.src)
			requireCode(t, err, tt.code)
		})
	}
}

func TestCompile_EmptyFile(t *testing.T) {
	_, err := compileString(t, `other: 1`)
	requireCode(t, err, ErrCodeEmptyStatement)
}

func TestCompile_SyntaxErrorHasPosition(t *testing.T) {
	_, err := compileString(t, "index: a: {\n\texpressions: [\"x\"\n")
	ce := requireCode(t, err, ErrCodeCUE)
	assert.Greater(t, ce.Line(), 0)
	assert.Contains(t, ce.Error(), "defs.cue")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexes.cue")
	require.NoError(t, os.WriteFile(path, []byte(`index: by_name: expressions: ["name"]`), 0644))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs.Indexes, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
