package errors

import stderrors "errors"

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsHostException reports whether err wraps a failure of host code.
func IsHostException(err error) bool {
	return stderrors.Is(err, ErrHost)
}

// HostCause returns the original host error wrapped by err.
func HostCause(err error) (error, bool) {
	var e *Error
	for stderrors.As(err, &e) {
		if e.Kind == KindHost {
			return e.Cause, e.Cause != nil
		}
		err = e.Cause
	}
	return nil, false
}

// IsInternal reports whether err is unclassified. Errors that are not
// *Error values are internal too.
func IsInternal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindInternal
}

// IsInterop reports whether err is one of the interop control-flow signals.
func IsInterop(err error) bool {
	switch KindOf(err) {
	case KindUnsupported, KindUnknownIdentifier, KindUnsupportedType, KindArity, KindTypeCast:
		return true
	}
	return false
}

// IsGuestVisible reports whether err may be observed by guest code and by
// exception handlers. Configuration and discipline errors are not.
func IsGuestVisible(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindConfig, KindIllegalState:
		return false
	}
	return true
}
