package interop

import (
	"math"

	glerrors "github.com/caffeineduck/glot/errors"
)

const (
	two63 = 1 << 63
	two64 = float64(1<<63) * 2
)

type numKind int

const (
	numInt numKind = iota
	numUint
	numFloat
)

// num is a normalized number: signed integers as int64, unsigned values
// above MaxInt64 as uint64, floating point as float64.
type num struct {
	kind numKind
	i    int64
	u    uint64
	f    float64
}

// toNum normalizes v. A boxed number whose Number function fails reports
// the failure as a host exception.
func toNum(v any) (num, bool, error) {
	if o, ok := v.(*Object); ok {
		if o == nil || o.Number == nil {
			return num{}, false, nil
		}
		n, err := guard(o.Number)
		if err != nil {
			return num{}, false, err
		}
		v = n
	}
	n, ok := primitiveNum(v)
	return n, ok, nil
}

func primitiveNum(v any) (num, bool) {
	switch n := v.(type) {
	case int:
		return num{kind: numInt, i: int64(n)}, true
	case int8:
		return num{kind: numInt, i: int64(n)}, true
	case int16:
		return num{kind: numInt, i: int64(n)}, true
	case int32:
		return num{kind: numInt, i: int64(n)}, true
	case int64:
		return num{kind: numInt, i: n}, true
	case uint:
		return fromUint(uint64(n)), true
	case uint8:
		return num{kind: numInt, i: int64(n)}, true
	case uint16:
		return num{kind: numInt, i: int64(n)}, true
	case uint32:
		return num{kind: numInt, i: int64(n)}, true
	case uint64:
		return fromUint(n), true
	case float32:
		return num{kind: numFloat, f: float64(n)}, true
	case float64:
		return num{kind: numFloat, f: n}, true
	}
	return num{}, false
}

func fromUint(u uint64) num {
	if u <= math.MaxInt64 {
		return num{kind: numInt, i: int64(u)}
	}
	return num{kind: numUint, u: u}
}

// int64Value reports the value as int64 when it is exactly representable.
// Negative zero is not.
func (n num) int64Value() (int64, bool) {
	switch n.kind {
	case numInt:
		return n.i, true
	case numFloat:
		f := n.f
		if f != math.Trunc(f) || math.IsInf(f, 0) || f < -two63 || f >= two63 {
			return 0, false
		}
		if f == 0 && math.Signbit(f) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

func (n num) fitsRange(min, max int64) bool {
	i, ok := n.int64Value()
	return ok && i >= min && i <= max
}

// IsNumber reports whether v carries the NUMBER capability. It agrees with
// CapabilitiesOf and never runs table code.
func IsNumber(v any) bool {
	if o, ok := v.(*Object); ok {
		return o != nil && o.Number != nil
	}
	_, ok := primitiveNum(v)
	return ok
}

func (n num) fitsInt64() bool {
	_, ok := n.int64Value()
	return ok
}

func (n num) fitsFloat32() bool {
	switch n.kind {
	case numInt:
		g := float64(float32(n.i))
		return g >= -two63 && g < two63 && int64(g) == n.i
	case numUint:
		g := float64(float32(n.u))
		return g < two64 && uint64(g) == n.u
	default:
		if math.IsNaN(n.f) || math.IsInf(n.f, 0) {
			return true
		}
		return float64(float32(n.f)) == n.f
	}
}

func (n num) fitsFloat64() bool {
	switch n.kind {
	case numInt:
		g := float64(n.i)
		return g >= -two63 && g < two63 && int64(g) == n.i
	case numUint:
		g := float64(n.u)
		return g < two64 && uint64(g) == n.u
	default:
		return true
	}
}

// fits reports false when the Number function fails.
func fits(v any, pred func(num) bool) bool {
	n, ok, err := toNum(v)
	return err == nil && ok && pred(n)
}

func FitsInInt8(v any) bool {
	return fits(v, func(n num) bool { return n.fitsRange(math.MinInt8, math.MaxInt8) })
}

func FitsInInt16(v any) bool {
	return fits(v, func(n num) bool { return n.fitsRange(math.MinInt16, math.MaxInt16) })
}

func FitsInInt32(v any) bool {
	return fits(v, func(n num) bool { return n.fitsRange(math.MinInt32, math.MaxInt32) })
}

func FitsInInt64(v any) bool   { return fits(v, num.fitsInt64) }
func FitsInFloat32(v any) bool   { return fits(v, num.fitsFloat32) }
func FitsInFloat64(v any) bool   { return fits(v, num.fitsFloat64) }

// convert runs Number once, so table errors surface instead of a type cast.
func convert(v any, target string, pred func(num) bool) (num, error) {
	n, ok, err := toNum(v)
	if err != nil {
		return num{}, err
	}
	if !ok || !pred(n) {
		return num{}, glerrors.TypeCast(v, target)
	}
	return n, nil
}

func AsInt8(v any) (int8, error) {
	n, err := convert(v, "int8", func(n num) bool { return n.fitsRange(math.MinInt8, math.MaxInt8) })
	i, _ := n.int64Value()
	return int8(i), err
}

func AsInt16(v any) (int16, error) {
	n, err := convert(v, "int16", func(n num) bool { return n.fitsRange(math.MinInt16, math.MaxInt16) })
	i, _ := n.int64Value()
	return int16(i), err
}

func AsInt32(v any) (int32, error) {
	n, err := convert(v, "int32", func(n num) bool { return n.fitsRange(math.MinInt32, math.MaxInt32) })
	i, _ := n.int64Value()
	return int32(i), err
}

func AsInt64(v any) (int64, error) {
	n, err := convert(v, "int64", num.fitsInt64)
	i, _ := n.int64Value()
	return i, err
}

func AsFloat32(v any) (float32, error) {
	n, err := convert(v, "float32", num.fitsFloat32)
	if err != nil {
		return 0, err
	}
	switch n.kind {
	case numInt:
		return float32(n.i), nil
	case numUint:
		return float32(n.u), nil
	}
	return float32(n.f), nil
}

func AsFloat64(v any) (float64, error) {
	n, err := convert(v, "float64", num.fitsFloat64)
	if err != nil {
		return 0, err
	}
	switch n.kind {
	case numInt:
		return float64(n.i), nil
	case numUint:
		return float64(n.u), nil
	}
	return n.f, nil
}
