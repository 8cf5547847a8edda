package interop

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	glerrors "github.com/caffeineduck/glot/errors"
)

// NewMemberObject returns a mutable object backed by an ordered map. Keys
// keep insertion order; initial keys are sorted.
func NewMemberObject(name string, initial map[string]any) *Object {
	m := &memberMap{values: make(map[string]any, len(initial))}
	keys := slices.Sorted(maps.Keys(initial))
	for _, k := range keys {
		m.values[k] = initial[k]
		m.order = append(m.order, k)
	}

	return &Object{
		Name:    name,
		Members: func(bool) ([]string, error) { return m.keys(), nil },
		ReadMember: func(key string) (any, error) {
			v, ok := m.get(key)
			if !ok {
				return nil, glerrors.UnknownIdentifier(key)
			}
			return v, nil
		},
		WriteMember: func(key string, value any) error {
			if !IsValue(value) {
				return glerrors.UnsupportedType("value is not an interop value", value)
			}
			m.set(key, value)
			return nil
		},
		RemoveMember: func(key string) error {
			if !m.remove(key) {
				return glerrors.UnknownIdentifier(key)
			}
			return nil
		},
	}
}

type memberMap struct {
	mu     sync.RWMutex
	values map[string]any
	order  []string
}

func (m *memberMap) keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

func (m *memberMap) get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *memberMap) set(key string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		m.order = append(m.order, key)
	}
	m.values[key] = v
}

func (m *memberMap) remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	m.order = slices.DeleteFunc(m.order, func(k string) bool { return k == key })
	return true
}

// NewArrayObject returns an array object over elems. A mutable array accepts
// writes, appends at index Size and removals.
func NewArrayObject(name string, elems []any, mutable bool) *Object {
	a := &array{elems: slices.Clone(elems)}
	o := &Object{
		Name: name,
		Size: func() (int64, error) { return a.size(), nil },
		ReadElement: func(i int64) (any, error) {
			v, ok := a.get(i)
			if !ok {
				return nil, glerrors.UnknownIdentifier(fmt.Sprintf("[%d]", i))
			}
			return v, nil
		},
	}
	if mutable {
		o.WriteElement = func(i int64, v any) error {
			if !IsValue(v) {
				return glerrors.UnsupportedType("value is not an interop value", v)
			}
			if !a.set(i, v) {
				return glerrors.UnknownIdentifier(fmt.Sprintf("[%d]", i))
			}
			return nil
		}
		o.RemoveElement = func(i int64) error {
			if !a.remove(i) {
				return glerrors.UnknownIdentifier(fmt.Sprintf("[%d]", i))
			}
			return nil
		}
	}
	return o
}

type array struct {
	mu    sync.RWMutex
	elems []any
}

func (a *array) size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(len(a.elems))
}

func (a *array) get(i int64) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= int64(len(a.elems)) {
		return nil, false
	}
	return a.elems[i], true
}

func (a *array) set(i int64, v any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case i >= 0 && i < int64(len(a.elems)):
		a.elems[i] = v
	case i == int64(len(a.elems)):
		a.elems = append(a.elems, v)
	default:
		return false
	}
	return true
}

func (a *array) remove(i int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= int64(len(a.elems)) {
		return false
	}
	a.elems = slices.Delete(a.elems, int(i), int(i)+1)
	return true
}

// NewFunction returns an executable object that checks its argument count
// before calling fn. A negative maxArity means variadic.
func NewFunction(name string, minArity, maxArity int, fn func(ctx context.Context, args []any) (any, error)) *Object {
	return &Object{
		Name: name,
		Execute: func(ctx context.Context, args []any) (any, error) {
			if len(args) < minArity || maxArity >= 0 && len(args) > maxArity {
				return nil, glerrors.Arity(minArity, maxArity, len(args))
			}
			return fn(ctx, args)
		},
	}
}

// FromGo converts plain Go data into interop values. Maps with string keys
// become member objects and slices become mutable arrays, recursively.
// Anything else that is not already an interop value is rejected.
func FromGo(v any) (any, error) {
	if IsValue(v) {
		return v, nil
	}
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			c, err := FromGo(e)
			if err != nil {
				return nil, err
			}
			m[k] = c
		}
		return NewMemberObject("object", m), nil
	case []any:
		elems := make([]any, len(x))
		for i, e := range x {
			c, err := FromGo(e)
			if err != nil {
				return nil, err
			}
			elems[i] = c
		}
		return NewArrayObject("array", elems, true), nil
	case []string:
		elems := make([]any, len(x))
		for i, e := range x {
			elems[i] = e
		}
		return NewArrayObject("array", elems, true), nil
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = e
		}
		return NewMemberObject("object", m), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elems := make([]any, rv.Len())
		for i := range elems {
			c, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			elems[i] = c
		}
		return NewArrayObject("array", elems, true), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			c, err := FromGo(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			m[iter.Key().String()] = c
		}
		return NewMemberObject("object", m), nil
	}
	return nil, glerrors.UnsupportedType(fmt.Sprintf("cannot convert %T to an interop value", v), v)
}

// ToGo converts an interop value back into plain Go data: boxed primitives
// are unboxed, arrays become []any and member objects map[string]any.
// Executable objects are returned as is.
func ToGo(v any) (any, error) {
	return toGo(v, 0)
}

const maxDepth = 64

func toGo(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, glerrors.UnsupportedType("value nesting too deep")
	}
	o, ok := v.(*Object)
	if !ok {
		return v, nil
	}
	caps := CapabilitiesOf(o)
	switch {
	case caps.Has(CapNull), caps.Has(CapBoolean), caps.Has(CapString), caps.Has(CapNumber):
		return Unbox(o)
	case o.Host != nil:
		return o.Host, nil
	case caps.Has(CapArrayElements):
		n, err := ArraySize(o)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, n)
		for i := range n {
			e, err := ReadElement(o, i)
			if err != nil {
				return nil, err
			}
			c, err := toGo(e, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	case caps.Has(CapMembers) && !caps.Has(CapExecutable):
		keys, err := guard(func() ([]string, error) { return o.Members(false) })
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			e, err := Read(o, k)
			if err != nil {
				return nil, err
			}
			c, err := toGo(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	}
	return o, nil
}

// Format renders an interop value for display.
func Format(v any) string {
	var b strings.Builder
	format(&b, v, 0)
	return b.String()
}

func format(b *strings.Builder, v any, depth int) {
	if depth > 8 {
		b.WriteString("...")
		return
	}
	o, ok := v.(*Object)
	if !ok {
		switch x := v.(type) {
		case nil:
			b.WriteString("null")
		case string:
			fmt.Fprintf(b, "%q", x)
		default:
			fmt.Fprint(b, x)
		}
		return
	}

	caps := CapabilitiesOf(o)
	switch {
	case caps.Has(CapNull), caps.Has(CapBoolean), caps.Has(CapString), caps.Has(CapNumber):
		u, err := Unbox(o)
		if err != nil {
			b.WriteString("<error>")
			return
		}
		format(b, u, depth)
	case caps.Has(CapHostObject):
		fmt.Fprintf(b, "%v", o.Host)
	case caps.Has(CapArrayElements):
		n, _ := ArraySize(o)
		b.WriteByte('[')
		for i := range n {
			if i > 0 {
				b.WriteString(", ")
			}
			e, err := ReadElement(o, i)
			if err != nil {
				b.WriteString("<error>")
				continue
			}
			format(b, e, depth+1)
		}
		b.WriteByte(']')
	case caps.Has(CapExecutable):
		fmt.Fprintf(b, "<function %s>", o.Name)
	case caps.Has(CapMembers):
		keys, _ := o.Members(false)
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			e, err := Read(o, k)
			if err != nil {
				b.WriteString("<error>")
				continue
			}
			format(b, e, depth+1)
		}
		b.WriteByte('}')
	default:
		fmt.Fprintf(b, "<%s>", o.Name)
	}
}
