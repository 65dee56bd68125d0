package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/docstore/internal/keystore"
)

// CompileIndex parses one index definition. The index name is the struct
// label, e.g. the value at path "index.by_city" in:
//
//	index: by_city: {
//		type:        "value"
//		expressions: ["address.city"]
//	}
//
// type defaults to "value".
func CompileIndex(v cue.Value) (keystore.IndexSpec, error) {
	if err := v.Err(); err != nil {
		return keystore.IndexSpec{}, formatCUEError(err)
	}

	spec := keystore.IndexSpec{Type: keystore.ValueIndex}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}
	if !keystore.ValidIdentifier(spec.Name) {
		return spec, &CompileError{
			Code:    ErrCodeInvalidName,
			Field:   "index",
			Message: fmt.Sprintf("invalid index name %q", spec.Name),
			Pos:     v.Pos(),
		}
	}
	field := "index." + spec.Name

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if typeVal.Exists() {
		name, err := typeVal.String()
		if err != nil {
			return spec, &CompileError{
				Code:    ErrCodeWrongType,
				Field:   field + ".type",
				Message: "type must be a string",
				Pos:     typeVal.Pos(),
			}
		}
		spec.Type, err = keystore.ParseIndexType(name)
		if err != nil {
			return spec, &CompileError{
				Code:    ErrCodeUnknownType,
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown index type %q", name),
				Pos:     typeVal.Pos(),
			}
		}
	}

	exprVal := v.LookupPath(cue.ParsePath("expressions"))
	if !exprVal.Exists() {
		return spec, &CompileError{
			Code:    ErrCodeMissingField,
			Field:   field + ".expressions",
			Message: "expressions are required",
			Pos:     v.Pos(),
		}
	}
	iter, err := exprVal.List()
	if err != nil {
		return spec, &CompileError{
			Code:    ErrCodeWrongType,
			Field:   field + ".expressions",
			Message: "expressions must be a list of property paths",
			Pos:     exprVal.Pos(),
		}
	}
	for iter.Next() {
		path, err := iter.Value().String()
		if err != nil {
			return spec, &CompileError{
				Code:    ErrCodeWrongType,
				Field:   field + ".expressions",
				Message: "expression must be a string property path",
				Pos:     iter.Value().Pos(),
			}
		}
		if !keystore.ValidPropertyPath(path) {
			return spec, &CompileError{
				Code:    ErrCodeInvalidPath,
				Field:   field + ".expressions",
				Message: fmt.Sprintf("invalid property path %q", path),
				Pos:     iter.Value().Pos(),
			}
		}
		spec.Expressions = append(spec.Expressions, path)
	}
	if len(spec.Expressions) == 0 {
		return spec, &CompileError{
			Code:    ErrCodeMissingField,
			Field:   field + ".expressions",
			Message: "at least one expression is required",
			Pos:     exprVal.Pos(),
		}
	}
	return spec.Normalize(), nil
}
