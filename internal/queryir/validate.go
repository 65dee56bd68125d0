package queryir

import (
	"fmt"
	"sort"
)

// ValidationResult lists the problems found in a query.
type ValidationResult struct {
	// Valid is true when Errors is empty.
	Valid bool

	// Errors describes each problem in traversal order.
	Errors []string

	// Params lists the BoundEquals parameter names, sorted and deduplicated.
	Params []string
}

// Err returns the first validation error, or nil.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("invalid query: %s", r.Errors[0])
}

// Validate checks property paths, literal types and parameter names.
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{
		errors: []string{},
		params: map[string]struct{}{},
	}
	v.validateQuery(query)

	params := make([]string, 0, len(v.params))
	for p := range v.params {
		params = append(params, p)
	}
	sort.Strings(params)

	return ValidationResult{
		Valid:  len(v.errors) == 0,
		Errors: v.errors,
		Params: params,
	}
}

// validator accumulates errors during traversal.
type validator struct {
	errors []string
	params map[string]struct{}
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	if q == nil {
		v.addError("nil query")
		return
	}
	sel, ok := AsSelect(q)
	if !ok {
		v.addError("unsupported query type: %T", q)
		return
	}
	if sel.Limit < 0 {
		v.addError("negative limit %d", sel.Limit)
	}

	columns := map[string]string{}
	for _, path := range sortedKeys(sel.Bindings) {
		column := sel.Bindings[path]
		if !ValidPath(path) {
			v.addError("invalid binding path %q", path)
		}
		if !pathSegment.MatchString(column) {
			v.addError("invalid column name %q for path %q", column, path)
		}
		if column == "key" || column == "sequence" {
			v.addError("column name %q is reserved", column)
		}
		if prev, dup := columns[column]; dup {
			v.addError("column %q bound to both %q and %q", column, prev, path)
		}
		columns[column] = path
	}

	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		return
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case BoundEquals:
		v.validateBoundEquals(pred)
	case *BoundEquals:
		v.validateBoundEquals(*pred)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addError("unsupported predicate type: %T", p)
	}
}

func (v *validator) validateEquals(eq Equals) {
	if !ValidPath(eq.Field) {
		v.addError("invalid property path %q", eq.Field)
	}
	if !IsScalar(eq.Value) {
		v.addError("property %q compared to non-scalar value of type %T", eq.Field, eq.Value)
	}
}

func (v *validator) validateBoundEquals(beq BoundEquals) {
	if !ValidPath(beq.Field) {
		v.addError("invalid property path %q", beq.Field)
	}
	if !pathSegment.MatchString(beq.BoundVar) {
		v.addError("invalid parameter name %q", beq.BoundVar)
		return
	}
	v.params[beq.BoundVar] = struct{}{}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		if sub == nil {
			v.addError("nil predicate inside And")
			continue
		}
		v.validatePredicate(sub)
	}
}

// IsScalar reports whether value is usable as a literal.
func IsScalar(value any) bool {
	switch value.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
