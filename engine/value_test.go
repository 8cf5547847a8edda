package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

func TestValueIdentity(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	a, err := s.PolyglotBindings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.PolyglotBindings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("the same object must yield the same handle")
	}

	if err := a.Release(); err != nil {
		t.Fatal(err)
	}
	c, _ := s.PolyglotBindings(ctx)
	if c == a || c.IsReleased() {
		t.Error("a released handle must not be handed out again")
	}
}

func TestValueRelease(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	v, err := s.Eval(ctx, NewSource("test", "x", "object"))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.PutMember(ctx, "name", "glot"); err != nil {
		t.Fatal(err)
	}
	if err := v.Release(); err != nil {
		t.Fatal(err)
	}

	err = v.Release()
	if !errors.Is(err, glerrors.ErrReleased) || !strings.Contains(err.Error(), "can only be released once") {
		t.Errorf("unexpected second release error %v", err)
	}
	err = v.Pin()
	if !errors.Is(err, glerrors.ErrReleased) || !strings.Contains(err.Error(), "released objects cannot be pinned") {
		t.Errorf("unexpected pin error %v", err)
	}

	if _, err := v.GetMember(ctx, "name"); !errors.Is(err, glerrors.ErrReleased) {
		t.Errorf("expected released error, got %v", err)
	}
	if _, err := v.HasMembers(); !errors.Is(err, glerrors.ErrReleased) {
		t.Errorf("expected released error from HasMembers, got %v", err)
	}
	if _, err := v.AsString(); !errors.Is(err, glerrors.ErrReleased) {
		t.Errorf("expected released error from conversion, got %v", err)
	}
	if v.String() != "<released>" {
		t.Errorf("unexpected string %q", v.String())
	}
}

func TestValueMembers(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	v, err := s.Eval(ctx, NewSource("test", "x", "object"))
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := v.HasMembers(); !ok {
		t.Fatal("expected a member object")
	}
	v.PutMember(ctx, "b", int64(2))
	v.PutMember(ctx, "a", "one")

	keys, err := v.MemberKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"a", "b"}) {
		t.Errorf("unexpected keys %v", keys)
	}
	if ok, _ := v.HasMember(ctx, "a"); !ok {
		t.Error("expected member a")
	}

	b, err := v.GetMember(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := b.AsInt32(); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}

	removed, err := v.RemoveMember(ctx, "a")
	if err != nil || !removed {
		t.Errorf("expected removal, got %v %v", removed, err)
	}
	if removed, _ := v.RemoveMember(ctx, "a"); removed {
		t.Error("second removal must report false")
	}

	if _, err := v.GetMember(ctx, "missing"); !errors.Is(err, glerrors.ErrUnknownIdentifier) {
		t.Errorf("expected unknown identifier, got %v", err)
	}
}

func TestValueArrays(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	v, err := s.AsValue(interop.NewArrayObject("array", []any{int64(1), int64(2)}, true))
	if err != nil {
		t.Fatal(err)
	}
	if n, err := v.ArraySize(ctx); err != nil || n != 2 {
		t.Fatalf("unexpected size %d %v", n, err)
	}
	if err := v.SetElement(ctx, 0, "first"); err != nil {
		t.Fatal(err)
	}
	e, err := v.GetElement(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if str, _ := e.AsString(); str != "first" {
		t.Errorf("expected first, got %q", str)
	}
	if _, err := v.GetElement(ctx, 5); err == nil {
		t.Error("expected out of range error")
	}

	frozen, _ := s.AsValue(interop.NewArrayObject("array", []any{int64(1)}, false))
	if err := frozen.SetElement(ctx, 0, int64(2)); err == nil {
		t.Error("expected write to an immutable array to fail")
	}
}

func TestValueConversions(t *testing.T) {
	s, _ := newTestSession(t)

	v, _ := s.AsValue(int64(1) << 40)
	if ok, _ := v.FitsInInt32(); ok {
		t.Error("1<<40 must not fit in int32")
	}
	if _, err := v.AsInt32(); !errors.Is(err, glerrors.ErrUnsupported) && !errors.Is(err, glerrors.ErrTypeCast) {
		t.Errorf("expected conversion failure, got %v", err)
	}
	if n, err := v.AsInt64(); err != nil || n != 1<<40 {
		t.Errorf("unexpected int64 %d %v", n, err)
	}

	null, _ := s.AsValue(nil)
	if ok, _ := null.IsNull(); !ok {
		t.Error("nil must be null")
	}

	b, _ := s.AsValue(true)
	if got, _ := b.AsBool(); !got {
		t.Error("expected true")
	}
	caps, err := b.Capabilities()
	if err != nil || !caps.Has(interop.CapBoolean) {
		t.Errorf("unexpected capabilities %v %v", caps, err)
	}
}

func TestExecuteParsedFunction(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	fn := interop.NewFunction("add", 2, 2, func(_ context.Context, args []any) (any, error) {
		a, _ := interop.AsInt64(args[0])
		b, _ := interop.AsInt64(args[1])
		return a + b, nil
	})
	v, _ := s.AsValue(fn)
	r, err := v.Execute(ctx, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := r.AsInt64(); n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
	if _, err := v.Execute(ctx, 1); !errors.Is(err, glerrors.ErrArity) {
		t.Errorf("expected arity error, got %v", err)
	}
}

func TestSessionCloseReleasesValues(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	obj, err := s.Eval(ctx, NewSource("test", "x", "object"))
	if err != nil {
		t.Fatal(err)
	}
	poly, _ := s.PolyglotBindings(ctx)

	if err := s.Close(ctx, false); err != nil {
		t.Fatal(err)
	}
	if !obj.IsReleased() || !poly.IsReleased() {
		t.Error("session close must release its handles")
	}
	if _, err := s.AsValue(1); !errors.Is(err, glerrors.ErrIllegalState) {
		t.Errorf("expected illegal state, got %v", err)
	}
}

func TestValueFromOtherSession(t *testing.T) {
	a, _ := newTestSession(t)
	b, _ := newTestSession(t)
	ctx := context.Background()

	obj, err := a.Eval(ctx, NewSource("test", "x", "object"))
	if err != nil {
		t.Fatal(err)
	}
	poly, _ := b.PolyglotBindings(ctx)
	if err := poly.PutMember(ctx, "foreign", obj); !errors.Is(err, glerrors.ErrIllegalState) {
		t.Errorf("expected illegal state, got %v", err)
	}
}
