package errors

import (
	stderrors "errors"
	"strings"
)

// InternalError is implemented by error types owned outside this package
// that know how to project themselves onto the taxonomy in code.go.
type InternalError interface {
	error
	Transform() *Error
}

// IsCatalogError reports whether err is, or wraps, a taxonomy error.
func IsCatalogError(err error) bool {
	var e *Error
	return stderrors.As(err, &e)
}

// GetCode returns the code string of the nearest taxonomy error in the
// chain, or "" when there is none. Callers compare the result against
// their sentinel codes' String().
func GetCode(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code.String()
	}
	return ""
}

// GetContext returns the context map of the nearest taxonomy error in
// the chain, nil when there is none.
func GetContext(err error) map[string]string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Context
	}
	return nil
}

// FormatError renders any error for logging: taxonomy errors get their
// full code/context/cause rendering plus the captured stack, everything
// else falls back to Error().
func FormatError(err error) string {
	var e *Error
	if !stderrors.As(err, &e) {
		return err.Error()
	}
	parts := []string{e.format()}
	if stack := e.StackTrace(); len(stack) > 0 {
		parts = append(parts, "at "+strings.Join(stack, "\n   "))
	}
	return strings.Join(parts, "\n")
}

// AsError coerces any error into the taxonomy:
//   - a taxonomy error anywhere in the chain is returned as-is,
//   - an InternalError projects itself through Transform,
//   - anything else is wrapped as CommonInternal.
//
// nil stays nil so call sites can coerce unconditionally.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if ie, ok := err.(InternalError); ok {
		return ie.Transform()
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return Wrap(CommonInternal, err, err.Error())
}
