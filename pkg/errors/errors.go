// Package errors carries the typed error taxonomy the whole catalog
// speaks: every failure is an *Error holding a Code, an operator
// message, optional key/value context, the wrapped cause, and the
// program counters of the construction site. The HTTP edge projects
// codes onto status codes through http.go; nothing else in the tree
// switches on error strings.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 16

// Error is the one concrete error type the catalog produces.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]string

	// callers holds raw program counters; frames are resolved lazily
	// only when someone formats the error for logging.
	callers []uintptr
}

func newError(code Code, cause error, message string) *Error {
	pcs := make([]uintptr, maxStackDepth)
	// Skip runtime.Callers, newError, and the exported constructor.
	n := runtime.Callers(3, pcs)
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		callers: pcs[:n],
	}
}

// New builds an *Error with no cause. The code is compulsory: an error
// without a code cannot be routed at the HTTP edge.
func New(code Code, message string) *Error {
	return newError(code, nil, message)
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return newError(code, nil, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to an underlying cause. The cause
// stays reachable through Unwrap, so stdlib errors.Is/As keep working
// across package boundaries.
func Wrap(code Code, err error, message string) *Error {
	return newError(code, err, message)
}

func Wrapf(code Code, err error, format string, args ...interface{}) *Error {
	return newError(code, err, fmt.Sprintf(format, args...))
}

// AddContext records one key/value pair on the error and returns it for
// chaining. Values are strings on purpose: context exists to be logged
// and attached to HTTP error bodies, not to carry typed payloads.
func (e *Error) AddContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// HasCode reports whether the error itself carries code, without
// walking the cause chain; wrapping deliberately re-classifies.
func (e *Error) HasCode(code Code) bool {
	return e.Code.Equals(code)
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StackTrace resolves the recorded program counters into one line per
// frame, innermost first. Resolution cost is paid only here, never at
// construction.
func (e *Error) StackTrace() []string {
	if len(e.callers) == 0 {
		return nil
	}
	var lines []string
	frames := runtime.CallersFrames(e.callers)
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			lines = append(lines, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return lines
}

// format renders the error for logs: code, message, sorted context,
// then the cause chain.
func (e *Error) format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	for _, k := range sortedKeys(e.Context) {
		fmt.Fprintf(&b, " %s=%s", k, e.Context[k])
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "\ncaused by: %v", e.Cause)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion sort; context maps hold a handful of entries.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
