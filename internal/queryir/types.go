package queryir

import (
	"regexp"
	"strings"
)

// Query represents an abstract document query.
//
// This is a sealed interface - only types in this package implement it.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition over a document body.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: property = literal_value
//   - BoundEquals: property = parameter supplied at run time
//   - And: all predicates must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select selects the live documents of a store whose bodies match Filter.
//
// Semantics:
//
//	SELECT key, sequence, <bindings> FROM <store> WHERE <filter> ORDER BY key
//
// Example:
//
//	Select{
//	  Filter: &And{Predicates: []Predicate{
//	    &Equals{Field: "type", Value: "order"},
//	    &BoundEquals{Field: "customer.id", BoundVar: "customer"},
//	  }},
//	  Bindings: map[string]string{
//	    "total":         "total",
//	    "customer.name": "name",
//	  },
//	}
//
// Results are always ordered by document key (then nothing else, keys are
// unique), optionally descending, and truncated to Limit when Limit > 0.
type Select struct {
	Filter     Predicate         // nil = every document
	Bindings   map[string]string // property path → result column
	Descending bool
	Limit      int
}

func (Select) queryNode() {}

// Equals compares a property to a literal.
// A nil Value matches documents where the property is null or missing.
type Equals struct {
	Field string // property path
	Value any    // string, bool, nil, integer or float
}

func (Equals) predicateNode() {}

// BoundEquals compares a property to a named parameter supplied to Query.Run.
type BoundEquals struct {
	Field    string // property path
	BoundVar string // parameter name
}

func (BoundEquals) predicateNode() {}

// And is a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

var pathSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidPath reports whether path is a dotted sequence of identifiers.
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if !pathSegment.MatchString(seg) {
			return false
		}
	}
	return true
}

// AsSelect returns the Select behind q, accepting both value and pointer forms.
func AsSelect(q Query) (Select, bool) {
	switch query := q.(type) {
	case Select:
		return query, true
	case *Select:
		if query == nil {
			return Select{}, false
		}
		return *query, true
	default:
		return Select{}, false
	}
}
