package interop

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	glerrors "github.com/caffeineduck/glot/errors"
)

func TestWriteReadRemove(t *testing.T) {
	obj := NewMemberObject("test", nil)

	if err := Write(obj, "a", 42); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	v, err := Read(obj, "a")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %v", v)
	}

	removed, err := Remove(obj, "a")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !removed {
		t.Error("expected a to be removed")
	}

	_, err = Read(obj, "a")
	if !errors.Is(err, glerrors.ErrUnknownIdentifier) {
		t.Errorf("expected unknown identifier, got %v", err)
	}

	if err := Write(obj, "a", 43); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	v, _ = Read(obj, "a")
	if v != 43 {
		t.Errorf("expected 43, got %v", v)
	}
}

func TestDefaultKeyInfo(t *testing.T) {
	obj := NewMemberObject("test", map[string]any{"declared": 1})

	info := KeyInfoOf(obj, "declared")
	if info != KeyExisting|KeyReadable|KeyWritable|KeyRemovable {
		t.Errorf("declared key info = %v", info)
	}

	info = KeyInfoOf(obj, "other")
	if info != KeyInsertable {
		t.Errorf("undeclared key info = %v, want INSERTABLE", info)
	}
	if info.Existing() {
		t.Error("undeclared key must not exist")
	}

	readOnly := &Object{
		Name:       "ro",
		Members:    func(bool) ([]string, error) { return []string{"x"}, nil },
		ReadMember: func(string) (any, error) { return 1, nil },
	}
	if info := KeyInfoOf(readOnly, "y"); info != KeyInsertable {
		t.Errorf("undeclared key of a read-only object = %v, want INSERTABLE", info)
	}
	if err := Write(readOnly, "y", 1); !errors.Is(err, glerrors.ErrUnsupported) {
		t.Errorf("write without WriteMember: expected unsupported, got %v", err)
	}
	if info := KeyInfoOf(42, "x"); info != 0 {
		t.Errorf("primitive key info = %v", info)
	}
}

func TestUnsupported(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"read primitive", func() error { _, err := Read(1, "a"); return err }},
		{"write primitive", func() error { return Write("s", "a", 1) }},
		{"remove readonly", func() error {
			_, err := Remove(&Object{Members: func(bool) ([]string, error) { return nil, nil }}, "a")
			return err
		}},
		{"execute object", func() error { _, err := Execute(context.Background(), NewMemberObject("m", nil)); return err }},
		{"instantiate function", func() error {
			_, err := Instantiate(context.Background(), NewFunction("f", 0, 0, func(context.Context, []any) (any, error) { return nil, nil }))
			return err
		}},
		{"unbox object", func() error { _, err := Unbox(NewMemberObject("m", nil)); return err }},
		{"array size", func() error { _, err := ArraySize(NewMemberObject("m", nil)); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, glerrors.ErrUnsupported) {
				t.Errorf("expected unsupported, got %v", err)
			}
		})
	}
}

func TestKeysEmptyWithoutMembers(t *testing.T) {
	keys, err := Keys(42, false)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := ArraySize(keys)
	if n != 0 {
		t.Errorf("expected 0 keys, got %d", n)
	}

	keys, _ = Keys(NewMemberObject("m", map[string]any{"b": 1, "a": 2}), false)
	n, _ = ArraySize(keys)
	if n != 2 {
		t.Fatalf("expected 2 keys, got %d", n)
	}
	first, _ := ReadElement(keys, 0)
	if first != "a" {
		t.Errorf("expected sorted initial keys, got %v", first)
	}
}

func TestInvoke(t *testing.T) {
	ctx := context.Background()
	obj := NewMemberObject("calc", nil)
	add := NewFunction("add", 2, 2, func(_ context.Context, args []any) (any, error) {
		a, _ := AsInt64(args[0])
		b, _ := AsInt64(args[1])
		return a + b, nil
	})
	if err := Write(obj, "add", add); err != nil {
		t.Fatal(err)
	}

	v, err := Invoke(ctx, obj, "add", 2, 3)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if v != int64(5) {
		t.Errorf("expected 5, got %v", v)
	}

	_, err = Invoke(ctx, obj, "add", 1)
	if !errors.Is(err, glerrors.ErrArity) {
		t.Errorf("expected arity error, got %v", err)
	}
	if !strings.Contains(err.Error(), "expected 2 argument(s), got 1") {
		t.Errorf("unexpected message: %v", err)
	}

	_, err = Invoke(ctx, obj, "missing")
	if !errors.Is(err, glerrors.ErrUnknownIdentifier) {
		t.Errorf("expected unknown identifier, got %v", err)
	}
}

func TestHostErrorWrapping(t *testing.T) {
	cause := errors.New("disk on fire")
	fn := NewFunction("boom", 0, 0, func(context.Context, []any) (any, error) { return nil, cause })

	_, err := Execute(context.Background(), fn)
	if !glerrors.IsHostException(err) {
		t.Fatalf("expected host exception, got %v", err)
	}
	if glerrors.IsInternal(err) {
		t.Error("host exception must not be internal")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be preserved")
	}
	if !strings.Contains(err.Error(), "caused by a non-internal host exception") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestPanicWrapping(t *testing.T) {
	obj := &Object{
		Name:       "panicky",
		Members:    func(bool) ([]string, error) { return []string{"x"}, nil },
		ReadMember: func(string) (any, error) { panic("bad read") },
	}
	_, err := Read(obj, "x")
	if !glerrors.IsHostException(err) {
		t.Fatalf("expected host exception, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad read") {
		t.Errorf("expected panic message in error: %v", err)
	}
}

func TestNumberTableFailures(t *testing.T) {
	cause := errors.New("meter offline")
	failing := &Object{Name: "reading", Number: func() (any, error) { return nil, cause }}
	panicking := &Object{Name: "gauge", Number: func() (any, error) { panic("host bug") }}

	for _, obj := range []*Object{failing, panicking} {
		t.Run(obj.Name, func(t *testing.T) {
			if !IsNumber(obj) || !CapabilitiesOf(obj).Has(CapNumber) {
				t.Error("NUMBER capability should not depend on the table result")
			}
			if FitsInInt32(obj) || FitsInFloat64(obj) {
				t.Error("a failing number should not fit")
			}

			_, err := AsInt32(obj)
			if !glerrors.IsHostException(err) {
				t.Fatalf("expected host exception, got %v", err)
			}
			if errors.Is(err, glerrors.ErrTypeCast) {
				t.Error("table failure reported as a type cast")
			}
			if _, err := AsFloat64(obj); !glerrors.IsHostException(err) {
				t.Errorf("AsFloat64: expected host exception, got %v", err)
			}
		})
	}

	if _, err := AsInt32(failing); !errors.Is(err, cause) {
		t.Errorf("cause should be preserved, got %v", err)
	}
}

func TestTypeCastNamesObject(t *testing.T) {
	obj := &Object{Name: "big", Number: func() (any, error) { return int64(1) << 40, nil }}
	_, err := AsInt32(obj)
	if !errors.Is(err, glerrors.ErrTypeCast) {
		t.Fatalf("expected type cast, got %v", err)
	}
	if !strings.Contains(err.Error(), "interop.Object(big)") {
		t.Errorf("message should name the object: %v", err)
	}
}

func TestInteropErrorsPassThrough(t *testing.T) {
	fn := NewFunction("typed", 1, 1, func(_ context.Context, args []any) (any, error) {
		return nil, glerrors.UnsupportedType("expected a string", args...)
	})
	_, err := Execute(context.Background(), fn, 1)
	if !errors.Is(err, glerrors.ErrUnsupportedType) {
		t.Errorf("expected unsupported type, got %v", err)
	}
	if glerrors.IsHostException(err) {
		t.Error("interop errors must not be wrapped")
	}
}

func TestWriteRejectsForeignType(t *testing.T) {
	obj := NewMemberObject("m", nil)
	err := Write(obj, "ch", make(chan int))
	if !errors.Is(err, glerrors.ErrUnsupportedType) {
		t.Errorf("expected unsupported type, got %v", err)
	}
}

func TestArrayElements(t *testing.T) {
	arr := NewArrayObject("arr", []any{1, 2}, true)

	if err := WriteElement(arr, 2, 3); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if n, _ := ArraySize(arr); n != 3 {
		t.Errorf("expected size 3, got %d", n)
	}
	if err := WriteElement(arr, 5, 1); !errors.Is(err, glerrors.ErrUnknownIdentifier) {
		t.Errorf("expected unknown identifier for gap, got %v", err)
	}

	info, _ := ElementInfo(arr, 0)
	if !info.Readable() || !info.Writable() || !info.Removable() {
		t.Errorf("element info = %v", info)
	}

	removed, err := RemoveElement(arr, 0)
	if err != nil || !removed {
		t.Fatalf("remove failed: %v %v", removed, err)
	}
	v, _ := ReadElement(arr, 0)
	if v != 2 {
		t.Errorf("expected 2 after removal, got %v", v)
	}

	ro := NewArrayObject("ro", []any{1}, false)
	if err := WriteElement(ro, 0, 2); !errors.Is(err, glerrors.ErrUnsupported) {
		t.Errorf("expected unsupported for read-only array, got %v", err)
	}
	if _, err := ReadElement(ro, 4); !errors.Is(err, glerrors.ErrUnknownIdentifier) {
		t.Errorf("expected unknown identifier, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want Capability
	}{
		{"nil", nil, CapNull},
		{"bool", true, CapBoolean},
		{"string", "s", CapString},
		{"int", 1, CapNumber},
		{"float", 1.5, CapNumber},
		{"members", NewMemberObject("m", nil), CapMembers},
		{"array", NewArrayObject("a", nil, false), CapArrayElements | CapSize},
		{"function", NewFunction("f", 0, 0, nil), CapExecutable},
		{"host", &Object{Host: struct{}{}}, CapHostObject},
		{"unknown", struct{}{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CapabilitiesOf(tt.v); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNumericLadder(t *testing.T) {
	values := []any{
		0, 1, -1, 127, 128, -128, -129, 32767, 32768, math.MaxInt32, math.MinInt32,
		int64(math.MaxInt32) + 1, int64(math.MaxInt64), int64(math.MinInt64),
		uint64(math.MaxUint64), uint64(1 << 63), uint8(200),
		0.5, 1.0, -0.0, math.Copysign(0, -1), 1e10, 1e300, float32(1.5),
		math.NaN(), math.Inf(1), math.Inf(-1), 16777217, int64(1 << 53), int64(1<<53) + 1,
		math.MaxFloat64, float64(math.MaxInt64),
		"1", true, nil,
	}

	for _, v := range values {
		b, s, i, l := FitsInInt8(v), FitsInInt16(v), FitsInInt32(v), FitsInInt64(v)
		if b && !s || s && !i || i && !l {
			t.Errorf("%v (%T): integer ladder broken: %v %v %v %v", v, v, b, s, i, l)
		}
		if FitsInFloat32(v) && !FitsInFloat64(v) {
			t.Errorf("%v (%T): float ladder broken", v, v)
		}

		if !IsNumber(v) {
			if _, err := AsInt64(v); !errors.Is(err, glerrors.ErrTypeCast) {
				t.Errorf("%v: expected type cast error, got %v", v, err)
			}
			if _, err := AsFloat64(v); !errors.Is(err, glerrors.ErrTypeCast) {
				t.Errorf("%v: expected type cast error, got %v", v, err)
			}
		}
	}
}

func TestNumericFits(t *testing.T) {
	tests := []struct {
		name                        string
		v                           any
		i8, i16, i32, i64, f32, f64 bool
	}{
		{"small", 5, true, true, true, true, true, true},
		{"byte edge", 128, false, true, true, true, true, true},
		{"int32 max", math.MaxInt32, false, false, true, true, false, true},
		{"int64 max", int64(math.MaxInt64), false, false, false, true, false, false},
		{"uint64 max", uint64(math.MaxUint64), false, false, false, false, false, false},
		{"fraction", 0.5, false, false, false, false, true, true},
		{"integral float", 3.0, true, true, true, true, true, true},
		{"negative zero", math.Copysign(0, -1), false, false, false, false, true, true},
		{"2^53+1", int64(1<<53) + 1, false, false, false, true, false, false},
		{"nan", math.NaN(), false, false, false, false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []bool{
				FitsInInt8(tt.v), FitsInInt16(tt.v), FitsInInt32(tt.v),
				FitsInInt64(tt.v), FitsInFloat32(tt.v), FitsInFloat64(tt.v),
			}
			want := []bool{tt.i8, tt.i16, tt.i32, tt.i64, tt.f32, tt.f64}
			for i := range got {
				if got[i] != want[i] {
					t.Errorf("fits[%d] = %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestAsConversions(t *testing.T) {
	if v, err := AsInt8(100); err != nil || v != 100 {
		t.Errorf("AsInt8(100) = %v, %v", v, err)
	}
	if _, err := AsInt8(300); !errors.Is(err, glerrors.ErrTypeCast) {
		t.Errorf("expected type cast error, got %v", err)
	}
	if v, err := AsFloat64(int64(7)); err != nil || v != 7 {
		t.Errorf("AsFloat64(7) = %v, %v", v, err)
	}

	boxed := &Object{Number: func() (any, error) { return int32(9), nil }}
	if v, err := AsInt32(boxed); err != nil || v != 9 {
		t.Errorf("AsInt32(boxed) = %v, %v", v, err)
	}
}

func TestFromGoToGo(t *testing.T) {
	in := map[string]any{
		"name": "glot",
		"tags": []any{"a", "b"},
		"meta": map[string]any{"n": 1},
	}
	v, err := FromGo(in)
	if err != nil {
		t.Fatal(err)
	}
	if !HasMembers(v) {
		t.Fatal("expected member object")
	}
	tags, _ := Read(v, "tags")
	if !HasArrayElements(tags) {
		t.Error("expected array")
	}

	out, err := ToGo(v)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["name"] != "glot" {
		t.Errorf("name = %v", m["name"])
	}
	if len(m["tags"].([]any)) != 2 {
		t.Errorf("tags = %v", m["tags"])
	}

	if _, err := FromGo(make(chan int)); !errors.Is(err, glerrors.ErrUnsupportedType) {
		t.Errorf("expected unsupported type, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	v, _ := FromGo(map[string]any{"b": []any{1, "x"}, "a": nil})
	got := Format(v)
	want := `{a: null, b: [1, "x"]}`
	if got != want {
		t.Errorf("Format = %s, want %s", got, want)
	}
}
