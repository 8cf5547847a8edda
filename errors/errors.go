// Package errors defines the error taxonomy shared by glot packages.
//
// Every error produced by the runtime is an [*Error] carrying a [Kind].
// Callers match kinds with the standard library:
//
//	if errors.Is(err, glerrors.ErrUnknownIdentifier) { ... }
//
// The kinds follow how callers are expected to react:
//   - configuration errors are raised synchronously while building an engine,
//     session or capability descriptor and are never retried
//   - illegal state errors report enter/leave/close discipline violations
//   - interop errors (unsupported, unknown identifier, unsupported type,
//     arity, type cast) are expected control-flow signals
//   - host errors wrap failures of user-supplied host code; the original
//     error is preserved as the cause
//   - released errors report use of a scoped value after its scope ended
//   - internal errors are anything unclassified and are never swallowed
package errors

import (
	"fmt"
	"strings"
)

// Kind categorizes the error.
type Kind string

const (
	KindConfig            Kind = "config"
	KindIllegalState      Kind = "illegal_state"
	KindUnsupported       Kind = "unsupported"
	KindUnknownIdentifier Kind = "unknown_identifier"
	KindUnsupportedType   Kind = "unsupported_type"
	KindArity             Kind = "arity"
	KindTypeCast          Kind = "type_cast"
	KindHost              Kind = "host"
	KindReleased          Kind = "released"
	KindCancelled         Kind = "cancelled"
	KindGuest             Kind = "guest"
	KindInternal          Kind = "internal"
)

// Error is the structured error type used throughout glot.
type Error struct {
	Kind       Kind
	Detail     string
	Identifier string
	Values     []any
	MinArity   int
	MaxArity   int
	Actual     int
	Cause      error
}

// Sentinels for errors.Is matching. They compare by kind only.
var (
	ErrConfig            = &Error{Kind: KindConfig}
	ErrIllegalState      = &Error{Kind: KindIllegalState}
	ErrUnsupported       = &Error{Kind: KindUnsupported}
	ErrUnknownIdentifier = &Error{Kind: KindUnknownIdentifier}
	ErrUnsupportedType   = &Error{Kind: KindUnsupportedType}
	ErrArity             = &Error{Kind: KindArity}
	ErrTypeCast          = &Error{Kind: KindTypeCast}
	ErrHost              = &Error{Kind: KindHost}
	ErrReleased          = &Error{Kind: KindReleased}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrGuest             = &Error{Kind: KindGuest}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(strings.ReplaceAll(string(e.Kind), "_", " "))

	switch {
	case e.Kind == KindUnknownIdentifier && e.Identifier != "":
		b.WriteString(": ")
		b.WriteString(e.Identifier)
	case e.Kind == KindArity && e.Detail == "":
		b.WriteString(": ")
		b.WriteString(arityDetail(e.MinArity, e.MaxArity, e.Actual))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func arityDetail(min, max, actual int) string {
	switch {
	case max < 0:
		return fmt.Sprintf("expected at least %d argument(s), got %d", min, actual)
	case min == max:
		return fmt.Sprintf("expected %d argument(s), got %d", min, actual)
	default:
		return fmt.Sprintf("expected %d to %d argument(s), got %d", min, max, actual)
	}
}

// Config creates a configuration error.
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Detail: sprintf(format, args...)}
}

// Exclusive creates a configuration error naming two settings that cannot be
// combined.
func Exclusive(first, second string) *Error {
	return &Error{
		Kind:   KindConfig,
		Detail: fmt.Sprintf("%s and %s are mutually exclusive", first, second),
	}
}

// IllegalState creates a discipline error.
func IllegalState(format string, args ...any) *Error {
	return &Error{Kind: KindIllegalState, Detail: sprintf(format, args...)}
}

// Unsupported creates an unsupported message error for the named operation.
func Unsupported(message string) *Error {
	return &Error{Kind: KindUnsupported, Detail: message}
}

// UnknownIdentifier creates an error for a missing or inaccessible key.
func UnknownIdentifier(key string) *Error {
	return &Error{Kind: KindUnknownIdentifier, Identifier: key}
}

// UnsupportedType creates an error for rejected argument or value types.
func UnsupportedType(reason string, values ...any) *Error {
	return &Error{Kind: KindUnsupportedType, Detail: reason, Values: values}
}

// Arity creates an arity error. A negative max means no upper bound.
func Arity(min, max, actual int) *Error {
	return &Error{Kind: KindArity, MinArity: min, MaxArity: max, Actual: actual}
}

// TypeCast creates a conversion error.
func TypeCast(value any, target string) *Error {
	return &Error{
		Kind:   KindTypeCast,
		Detail: fmt.Sprintf("cannot convert %s to %s", describe(value), target),
		Values: []any{value},
	}
}

// describe names a value for messages. Protocol objects print their
// GoString rather than their fields.
func describe(v any) string {
	if g, ok := v.(fmt.GoStringer); ok {
		return g.GoString()
	}
	return fmt.Sprintf("%v (%T)", v, v)
}

// Host wraps an error raised by user-supplied host code. The result is
// guest-visible and never classified as internal.
func Host(cause error) *Error {
	return &Error{Kind: KindHost, Detail: "caused by a non-internal host exception", Cause: cause}
}

// Released creates the error returned by operations on released values.
func Released(detail string) *Error {
	return &Error{Kind: KindReleased, Detail: detail}
}

// Cancelled creates a cancellation error.
func Cancelled(cause error) *Error {
	return &Error{Kind: KindCancelled, Detail: "execution cancelled", Cause: cause}
}

// Guest wraps an error raised by guest code.
func Guest(language string, cause error) *Error {
	return &Error{Kind: KindGuest, Detail: language, Cause: cause}
}

// Internal wraps an unclassified failure.
func Internal(detail string, cause error) *Error {
	return &Error{Kind: KindInternal, Detail: detail, Cause: cause}
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
