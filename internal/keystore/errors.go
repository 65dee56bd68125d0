package keystore

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a missing store, index or record.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeClosed indicates the store was used after Close.
	ErrCodeClosed ErrorCode = "CLOSED"

	// ErrCodeInvalidArgument indicates a malformed name, path or request.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeUnsupported indicates the engine lacks the requested capability.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"

	// ErrCodeTransactionEnded indicates use of a committed or aborted transaction.
	ErrCodeTransactionEnded ErrorCode = "TRANSACTION_ENDED"
)

// Sentinel errors; errors.Is matches any *Error with the same code.
var (
	ErrNotFound         = &Error{Code: ErrCodeNotFound}
	ErrClosed           = &Error{Code: ErrCodeClosed}
	ErrInvalidArgument  = &Error{Code: ErrCodeInvalidArgument}
	ErrUnsupported      = &Error{Code: ErrCodeUnsupported}
	ErrTransactionEnded = &Error{Code: ErrCodeTransactionEnded}
)

// Error is a store error with a category code.
type Error struct {
	Code  ErrorCode
	Op    string // operation, e.g. "set"
	Store string // store name, if any
	Err   error  // underlying cause, if any
}

// NewError creates an Error for op on store.
func NewError(code ErrorCode, op, store string, err error) *Error {
	return &Error{Code: code, Op: op, Store: store, Err: err}
}

// Errorf creates an Error whose cause is a formatted message.
func Errorf(code ErrorCode, op, store, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Store: store, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Store != "" {
		msg = fmt.Sprintf("%s (store=%s)", msg, e.Store)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code, so errors.Is(err, ErrNotFound) works for any
// NOT_FOUND error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsNotFound reports whether err is a NOT_FOUND store error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
