package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocument_Normalizes(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"n":3,"f":1.5,"ok":true,"no":false,"nested":{"list":[1,true]}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(3), doc.Lookup("n"))
	assert.Equal(t, 1.5, doc.Lookup("f"))
	assert.Equal(t, int64(1), doc.Lookup("ok"))
	assert.Equal(t, int64(0), doc.Lookup("no"))
	assert.Equal(t, []any{int64(1), int64(1)}, doc.Lookup("nested.list"))
	assert.Nil(t, doc.Lookup("nested.missing"))
	assert.Nil(t, doc.Lookup("n.deeper"))
}

func TestDecodeDocument_RejectsNonObjects(t *testing.T) {
	for _, body := range []string{``, `[1,2]`, `"text"`, `not json`} {
		_, err := DecodeDocument([]byte(body))
		assert.Error(t, err, "body %q", body)
	}
}

func TestMatch(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"type":"order","total":42,"paid":true,"customer":{"id":"c1"},"note":null}`))
	require.NoError(t, err)
	params := map[string]any{"cust": "c1", "other": "c2"}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"nil matches all", nil, true},
		{"string equal", Equals{Field: "type", Value: "order"}, true},
		{"string differs", Equals{Field: "type", Value: "refund"}, false},
		{"int equals float", Equals{Field: "total", Value: 42.0}, true},
		{"bool literal", Equals{Field: "paid", Value: true}, true},
		{"bool vs 1", Equals{Field: "paid", Value: 1}, true},
		{"string never equals number", Equals{Field: "total", Value: "42"}, false},
		{"nil matches null", Equals{Field: "note", Value: nil}, true},
		{"nil matches missing", Equals{Field: "absent", Value: nil}, true},
		{"nil does not match present", Equals{Field: "type", Value: nil}, false},
		{"bound", BoundEquals{Field: "customer.id", BoundVar: "cust"}, true},
		{"bound differs", &BoundEquals{Field: "customer.id", BoundVar: "other"}, false},
		{"empty and", And{}, true},
		{"and all", &And{Predicates: []Predicate{Equals{Field: "type", Value: "order"}, Equals{Field: "total", Value: 42}}}, true},
		{"and one fails", And{Predicates: []Predicate{Equals{Field: "type", Value: "order"}, Equals{Field: "total", Value: 41}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.pred, doc, params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_MissingParameter(t *testing.T) {
	_, err := Match(BoundEquals{Field: "a", BoundVar: "x"}, Document{}, nil)
	assert.ErrorContains(t, err, `missing query parameter "x"`)
}
