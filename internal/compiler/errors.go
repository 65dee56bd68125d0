package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Compile error codes (E100-E199).
const (
	ErrCodeCUE            = "E100" // CUE syntax or evaluation error
	ErrCodeMissingField   = "E101" // required field absent
	ErrCodeWrongType      = "E102" // field has the wrong kind
	ErrCodeInvalidName    = "E103" // index or column name is not an identifier
	ErrCodeInvalidPath    = "E104" // property path is not a dotted identifier list
	ErrCodeInvalidValue   = "E105" // literal is not a scalar
	ErrCodeDuplicate      = "E106" // name defined twice
	ErrCodeUnknownType    = "E107" // unknown index type
	ErrCodeEmptyStatement = "E108" // file defines nothing
)

// CompileError is a compilation error with its source position.
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("[%s] %s:%d:%d: %s: %s",
			e.Code, e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Line returns the 1-based source line, or 0 when unknown.
func (e *CompileError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Code:    ErrCodeCUE,
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &CompileError{Code: ErrCodeCUE, Field: "cue", Message: first.Error()}
}
