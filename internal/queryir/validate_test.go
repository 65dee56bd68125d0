package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"name", true},
		{"address.city", true},
		{"_private.x1", true},
		{"", false},
		{"a..b", false},
		{".a", false},
		{"1abc", false},
		{"a b", false},
		{"a'b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidPath(tt.path), "ValidPath(%q)", tt.path)
	}
}

func TestValidate_Valid(t *testing.T) {
	q := Select{
		Filter: And{Predicates: []Predicate{
			Equals{Field: "type", Value: "order"},
			&BoundEquals{Field: "customer.id", BoundVar: "customer"},
			BoundEquals{Field: "region", BoundVar: "customer"},
		}},
		Bindings: map[string]string{"total": "total", "customer.name": "name"},
	}

	res := Validate(q)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.NoError(t, res.Err())
	assert.Equal(t, []string{"customer"}, res.Params)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{"nil query", nil, "nil query"},
		{"nil pointer", (*Select)(nil), "unsupported query type"},
		{"negative limit", Select{Limit: -1}, "negative limit"},
		{"bad binding path", Select{Bindings: map[string]string{"a..b": "x"}}, "invalid binding path"},
		{"bad column", Select{Bindings: map[string]string{"a": "x y"}}, "invalid column name"},
		{"reserved column", Select{Bindings: map[string]string{"a": "key"}}, "reserved"},
		{"duplicate column", Select{Bindings: map[string]string{"a": "x", "b": "x"}}, "bound to both"},
		{"bad field", Select{Filter: Equals{Field: "a b", Value: 1}}, "invalid property path"},
		{"non-scalar", Select{Filter: Equals{Field: "a", Value: []int{1}}}, "non-scalar"},
		{"bad param", Select{Filter: BoundEquals{Field: "a", BoundVar: "$x"}}, "invalid parameter name"},
		{"nil inside and", Select{Filter: And{Predicates: []Predicate{nil}}}, "nil predicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.query)
			assert.False(t, res.Valid)
			assert.ErrorContains(t, res.Err(), tt.want)
		})
	}
}
