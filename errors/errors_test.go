package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := UnknownIdentifier("a")
	if !stderrors.Is(err, ErrUnknownIdentifier) {
		t.Error("expected unknown identifier to match sentinel")
	}
	if stderrors.Is(err, ErrUnsupported) {
		t.Error("unknown identifier must not match unsupported")
	}

	wrapped := fmt.Errorf("read member: %w", err)
	if !stderrors.Is(wrapped, ErrUnknownIdentifier) {
		t.Error("expected wrapped error to match")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{UnknownIdentifier("a"), "unknown identifier: a"},
		{Arity(2, 2, 1), "arity: expected 2 argument(s), got 1"},
		{Arity(1, -1, 0), "arity: expected at least 1 argument(s), got 0"},
		{Arity(1, 3, 5), "arity: expected 1 to 3 argument(s), got 5"},
		{Exclusive("WithIO", "WithAllowIO"), "config: WithIO and WithAllowIO are mutually exclusive"},
		{Released("can only be released once"), "released: can only be released once"},
		{IllegalState("no session entered"), "illegal state: no session entered"},
		{TypeCast(300, "int8"), "type cast: cannot convert 300 (int) to int8"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestHostCause(t *testing.T) {
	original := stderrors.New("disk full")
	err := fmt.Errorf("invoke: %w", Host(original))

	if !IsHostException(err) {
		t.Fatal("expected host exception")
	}
	if IsInternal(err) {
		t.Error("host exceptions are not internal")
	}
	cause, ok := HostCause(err)
	if !ok || cause != original {
		t.Errorf("expected original cause, got %v", cause)
	}
	if !strings.Contains(err.Error(), "non-internal host exception") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestClassification(t *testing.T) {
	if !IsInternal(stderrors.New("boom")) {
		t.Error("plain errors are internal")
	}
	if IsInternal(nil) {
		t.Error("nil is not internal")
	}
	if !IsInterop(UnsupportedType("bad")) {
		t.Error("unsupported type is an interop error")
	}
	if IsGuestVisible(Config("bad option")) {
		t.Error("config errors are not guest visible")
	}
	if !IsGuestVisible(Guest("sexp", stderrors.New("x"))) {
		t.Error("guest errors are guest visible")
	}
	if KindOf(Cancelled(nil)) != KindCancelled {
		t.Error("expected cancelled kind")
	}
}
