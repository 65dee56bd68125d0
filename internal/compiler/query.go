package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/docstore/internal/queryir"
)

// CompileQuery parses one query definition into a queryir.Select:
//
//	query: by_city: {
//		where: [
//			{field: "address.city", equals: "Paris"},
//			{field: "status", param: "status"},
//		]
//		select: [{path: "name", as: "name"}]
//		descending: false
//		limit:      10
//	}
//
// Every where term is ANDed. A column is named after the last segment of its
// path unless "as" is given. Without select only keys and sequences return.
func CompileQuery(v cue.Value) (queryir.Select, error) {
	if err := v.Err(); err != nil {
		return queryir.Select{}, formatCUEError(err)
	}
	name := "query"
	if labels := v.Path().Selectors(); len(labels) > 0 {
		name = "query." + labels[len(labels)-1].String()
	}

	sel := queryir.Select{Bindings: map[string]string{}}

	whereVal := v.LookupPath(cue.ParsePath("where"))
	if whereVal.Exists() {
		pred, err := parseWhere(name, whereVal)
		if err != nil {
			return sel, err
		}
		sel.Filter = pred
	}

	selectVal := v.LookupPath(cue.ParsePath("select"))
	if selectVal.Exists() {
		iter, err := selectVal.List()
		if err != nil {
			return sel, &CompileError{
				Code:    ErrCodeWrongType,
				Field:   name + ".select",
				Message: "select must be a list of {path, as} columns",
				Pos:     selectVal.Pos(),
			}
		}
		for iter.Next() {
			path, err := requiredString(iter.Value(), "path", name+".select")
			if err != nil {
				return sel, err
			}
			column := path[strings.LastIndex(path, ".")+1:]
			if asVal := iter.Value().LookupPath(cue.ParsePath("as")); asVal.Exists() {
				if column, err = asVal.String(); err != nil {
					return sel, formatCUEError(err)
				}
			}
			if !queryir.ValidPath(path) {
				return sel, &CompileError{
					Code:    ErrCodeInvalidPath,
					Field:   name + ".select",
					Message: fmt.Sprintf("invalid property path %q", path),
					Pos:     iter.Value().Pos(),
				}
			}
			if _, dup := sel.Bindings[path]; dup {
				return sel, &CompileError{
					Code:    ErrCodeDuplicate,
					Field:   name + ".select",
					Message: fmt.Sprintf("path %q selected twice", path),
					Pos:     iter.Value().Pos(),
				}
			}
			sel.Bindings[path] = column
		}
	}

	if descVal := v.LookupPath(cue.ParsePath("descending")); descVal.Exists() {
		desc, err := descVal.Bool()
		if err != nil {
			return sel, &CompileError{
				Code:    ErrCodeWrongType,
				Field:   name + ".descending",
				Message: "descending must be a bool",
				Pos:     descVal.Pos(),
			}
		}
		sel.Descending = desc
	}
	if limitVal := v.LookupPath(cue.ParsePath("limit")); limitVal.Exists() {
		limit, err := limitVal.Int64()
		if err != nil || limit < 0 {
			return sel, &CompileError{
				Code:    ErrCodeWrongType,
				Field:   name + ".limit",
				Message: "limit must be a non-negative int",
				Pos:     limitVal.Pos(),
			}
		}
		sel.Limit = int(limit)
	}

	if res := queryir.Validate(sel); !res.Valid {
		return sel, &CompileError{
			Code:    ErrCodeInvalidValue,
			Field:   name,
			Message: res.Err().Error(),
			Pos:     v.Pos(),
		}
	}
	return sel, nil
}

func parseWhere(name string, whereVal cue.Value) (queryir.Predicate, error) {
	iter, err := whereVal.List()
	if err != nil {
		return nil, &CompileError{
			Code:    ErrCodeWrongType,
			Field:   name + ".where",
			Message: "where must be a list of terms",
			Pos:     whereVal.Pos(),
		}
	}

	var terms []queryir.Predicate
	for iter.Next() {
		term := iter.Value()
		field, err := requiredString(term, "field", name+".where")
		if err != nil {
			return nil, err
		}
		if !queryir.ValidPath(field) {
			return nil, &CompileError{
				Code:    ErrCodeInvalidPath,
				Field:   name + ".where",
				Message: fmt.Sprintf("invalid property path %q", field),
				Pos:     term.Pos(),
			}
		}

		paramVal := term.LookupPath(cue.ParsePath("param"))
		equalsVal := term.LookupPath(cue.ParsePath("equals"))
		switch {
		case paramVal.Exists() && equalsVal.Exists():
			return nil, &CompileError{
				Code:    ErrCodeDuplicate,
				Field:   name + ".where",
				Message: fmt.Sprintf("term on %q has both equals and param", field),
				Pos:     term.Pos(),
			}
		case paramVal.Exists():
			param, err := paramVal.String()
			if err != nil {
				return nil, &CompileError{
					Code:    ErrCodeWrongType,
					Field:   name + ".where.param",
					Message: "param must be a string",
					Pos:     paramVal.Pos(),
				}
			}
			terms = append(terms, queryir.BoundEquals{Field: field, BoundVar: param})
		case equalsVal.Exists():
			value, err := literal(equalsVal)
			if err != nil {
				return nil, err
			}
			terms = append(terms, queryir.Equals{Field: field, Value: value})
		default:
			return nil, &CompileError{
				Code:    ErrCodeMissingField,
				Field:   name + ".where",
				Message: fmt.Sprintf("term on %q needs equals or param", field),
				Pos:     term.Pos(),
			}
		}
	}

	if len(terms) == 1 {
		return terms[0], nil
	}
	return queryir.And{Predicates: terms}, nil
}

// literal decodes a scalar CUE value into the Go form queryir accepts.
func literal(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		b, err := v.Bool()
		return b, formatCUEError(err)
	case cue.StringKind:
		s, err := v.String()
		return s, formatCUEError(err)
	case cue.IntKind:
		n, err := v.Int64()
		return n, formatCUEError(err)
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		return f, formatCUEError(err)
	default:
		return nil, &CompileError{
			Code:    ErrCodeInvalidValue,
			Field:   "equals",
			Message: fmt.Sprintf("equals must be a scalar, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, key, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return "", &CompileError{
			Code:    ErrCodeMissingField,
			Field:   field + "." + key,
			Message: key + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := val.String()
	if err != nil {
		return "", &CompileError{
			Code:    ErrCodeWrongType,
			Field:   field + "." + key,
			Message: key + " must be a string",
			Pos:     val.Pos(),
		}
	}
	return s, nil
}
