package engine

import (
	"context"
	"runtime"
	"sync"
	"weak"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

type valueState int

const (
	valueValid valueState = iota
	valuePinned
	valueReleased
)

// Value is a handle to a guest or host value owned by a session.
//
// Handles created by the session API are unscoped: they stay valid until
// released or until the session closes, and the same object yields the same
// handle while it is reachable. Handles passed to host methods under method
// scoping belong to the call and are released when it returns unless
// pinned. Handles derived from a scoped handle are released with it.
type Value struct {
	session *Session
	v       any
	arena   *arena
	cached  bool

	mu       sync.Mutex
	state    valueState
	children []*Value
}

// wrap returns the unscoped handle for x.
func (s *Session) wrap(x any) *Value {
	if obj, ok := x.(*interop.Object); ok {
		return s.values.get(s, obj)
	}
	return &Value{session: s, v: x}
}

func (v *Value) Session() *Session { return v.session }

func (v *Value) check() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == valueReleased {
		return glerrors.Released("value handle has been released")
	}
	return nil
}

// Pin keeps a scoped handle valid after its scope ends.
func (v *Value) Pin() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == valueReleased {
		return glerrors.Released("released objects cannot be pinned")
	}
	v.state = valuePinned
	return nil
}

// Release invalidates the handle and the handles derived from it.
func (v *Value) Release() error {
	v.mu.Lock()
	if v.state == valueReleased {
		v.mu.Unlock()
		return glerrors.Released("can only be released once")
	}
	v.state = valueReleased
	children := v.children
	v.children = nil
	v.mu.Unlock()

	for _, c := range children {
		c.releaseScoped()
	}
	if v.cached {
		v.session.values.forget(v)
	}
	return nil
}

// releaseScoped releases a handle at the end of its scope. Pinned handles
// survive.
func (v *Value) releaseScoped() {
	v.mu.Lock()
	if v.state != valueValid {
		v.mu.Unlock()
		return
	}
	v.state = valueReleased
	children := v.children
	v.children = nil
	v.mu.Unlock()

	for _, c := range children {
		c.releaseScoped()
	}
}

// forceRelease releases the handle regardless of pinning.
func (v *Value) forceRelease() {
	v.mu.Lock()
	v.state = valueReleased
	children := v.children
	v.children = nil
	v.mu.Unlock()

	for _, c := range children {
		c.forceRelease()
	}
}

// IsReleased reports whether the handle has been released.
func (v *Value) IsReleased() bool { return v.check() != nil }

// IsPinned reports whether the handle has been pinned.
func (v *Value) IsPinned() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state == valuePinned
}

// derive returns the handle for a value obtained through v.
func (v *Value) derive(x any) *Value {
	if v.arena != nil {
		return v.arena.child(v, x)
	}
	return v.session.wrap(x)
}

func (v *Value) addChild(c *Value) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.children = append(v.children, c)
}

func (v *Value) String() string {
	if v.IsReleased() {
		return "<released>"
	}
	return interop.Format(v.v)
}

func (v *Value) is(fn func(any) bool) (bool, error) {
	if err := v.check(); err != nil {
		return false, err
	}
	return fn(v.v), nil
}

func (v *Value) IsNull() (bool, error)           { return v.is(interop.IsNull) }
func (v *Value) IsBoolean() (bool, error)        { return v.is(interop.IsBoolean) }
func (v *Value) IsString() (bool, error)         { return v.is(interop.IsString) }
func (v *Value) IsNumber() (bool, error)         { return v.is(interop.IsNumber) }
func (v *Value) HasMembers() (bool, error)       { return v.is(interop.HasMembers) }
func (v *Value) HasArrayElements() (bool, error) { return v.is(interop.HasArrayElements) }
func (v *Value) CanExecute() (bool, error)       { return v.is(interop.IsExecutable) }
func (v *Value) CanInstantiate() (bool, error)   { return v.is(interop.IsInstantiable) }
func (v *Value) IsHostObject() (bool, error)     { return v.is(interop.IsHostObject) }
func (v *Value) FitsInInt32() (bool, error)      { return v.is(interop.FitsInInt32) }
func (v *Value) FitsInInt64() (bool, error)      { return v.is(interop.FitsInInt64) }
func (v *Value) FitsInFloat64() (bool, error)    { return v.is(interop.FitsInFloat64) }

// Capabilities returns the capability set of the value.
func (v *Value) Capabilities() (interop.Capability, error) {
	if err := v.check(); err != nil {
		return 0, err
	}
	return interop.CapabilitiesOf(v.v), nil
}

func convert[T any](v *Value, fn func(any) (T, error)) (T, error) {
	if err := v.check(); err != nil {
		var zero T
		return zero, err
	}
	return fn(v.v)
}

func (v *Value) AsBool() (bool, error)       { return convert(v, interop.AsBool) }
func (v *Value) AsString() (string, error)   { return convert(v, interop.AsString) }
func (v *Value) AsInt32() (int32, error)     { return convert(v, interop.AsInt32) }
func (v *Value) AsInt64() (int64, error)     { return convert(v, interop.AsInt64) }
func (v *Value) AsFloat64() (float64, error) { return convert(v, interop.AsFloat64) }

// AsGo converts the value to plain Go data: arrays become []any, member
// objects map[string]any and host objects their host value.
func (v *Value) AsGo() (any, error) { return convert(v, interop.ToGo) }

// Raw returns the underlying interop value.
func (v *Value) Raw() (any, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return v.v, nil
}

// do runs fn inside the session after checking the handle.
func (v *Value) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := v.check(); err != nil {
		return err
	}
	return v.session.run(ctx, fn)
}

// GetMember reads a member.
func (v *Value) GetMember(ctx context.Context, key string) (*Value, error) {
	var out *Value
	err := v.do(ctx, func(context.Context) error {
		r, err := interop.Read(v.v, key)
		if err != nil {
			return err
		}
		out = v.derive(r)
		return nil
	})
	return out, err
}

// HasMember reports whether the member exists.
func (v *Value) HasMember(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := v.do(ctx, func(context.Context) error {
		info, err := interop.MemberInfo(v.v, key)
		ok = info.Existing()
		return err
	})
	return ok, err
}

// PutMember writes or inserts a member.
func (v *Value) PutMember(ctx context.Context, key string, value any) error {
	return v.do(ctx, func(context.Context) error {
		g, err := v.session.toGuest(value)
		if err != nil {
			return err
		}
		return interop.Write(v.v, key, g)
	})
}

// RemoveMember removes a member and reports whether it existed.
func (v *Value) RemoveMember(ctx context.Context, key string) (bool, error) {
	var removed bool
	err := v.do(ctx, func(context.Context) error {
		var err error
		removed, err = interop.Remove(v.v, key)
		return err
	})
	return removed, err
}

// MemberKeys returns the non-internal member keys.
func (v *Value) MemberKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := v.do(ctx, func(context.Context) error {
		arr, err := interop.Keys(v.v, false)
		if err != nil {
			return err
		}
		n, err := interop.ArraySize(arr)
		if err != nil {
			return err
		}
		for i := range n {
			k, err := interop.ReadElement(arr, i)
			if err != nil {
				return err
			}
			s, err := interop.AsString(k)
			if err != nil {
				return err
			}
			keys = append(keys, s)
		}
		return nil
	})
	return keys, err
}

// Invoke invokes a member with args.
func (v *Value) Invoke(ctx context.Context, key string, args ...any) (*Value, error) {
	return v.call(ctx, func(ctx context.Context, g []any) (any, error) {
		return interop.Invoke(ctx, v.v, key, g...)
	}, args)
}

// Execute executes the value with args.
func (v *Value) Execute(ctx context.Context, args ...any) (*Value, error) {
	return v.call(ctx, func(ctx context.Context, g []any) (any, error) {
		return interop.Execute(ctx, v.v, g...)
	}, args)
}

// NewInstance instantiates the value with args.
func (v *Value) NewInstance(ctx context.Context, args ...any) (*Value, error) {
	return v.call(ctx, func(ctx context.Context, g []any) (any, error) {
		return interop.Instantiate(ctx, v.v, g...)
	}, args)
}

func (v *Value) call(ctx context.Context, fn func(context.Context, []any) (any, error), args []any) (*Value, error) {
	var out *Value
	err := v.do(ctx, func(ctx context.Context) error {
		g, err := v.session.toGuestAll(args)
		if err != nil {
			return err
		}
		r, err := fn(ctx, g)
		if err != nil {
			return err
		}
		out = v.derive(r)
		return nil
	})
	if err != nil {
		if err = v.session.handle(err); err != nil {
			return nil, err
		}
		return v.derive(nil), nil
	}
	return out, nil
}

// ArraySize returns the number of array elements.
func (v *Value) ArraySize(ctx context.Context) (int64, error) {
	var n int64
	err := v.do(ctx, func(context.Context) error {
		var err error
		n, err = interop.ArraySize(v.v)
		return err
	})
	return n, err
}

// GetElement reads an array element.
func (v *Value) GetElement(ctx context.Context, index int64) (*Value, error) {
	var out *Value
	err := v.do(ctx, func(context.Context) error {
		r, err := interop.ReadElement(v.v, index)
		if err != nil {
			return err
		}
		out = v.derive(r)
		return nil
	})
	return out, err
}

// SetElement writes or appends an array element.
func (v *Value) SetElement(ctx context.Context, index int64, value any) error {
	return v.do(ctx, func(context.Context) error {
		g, err := v.session.toGuest(value)
		if err != nil {
			return err
		}
		return interop.WriteElement(v.v, index, g)
	})
}

// RemoveElement removes an array element and reports whether it existed.
func (v *Value) RemoveElement(ctx context.Context, index int64) (bool, error) {
	var removed bool
	err := v.do(ctx, func(context.Context) error {
		var err error
		removed, err = interop.RemoveElement(v.v, index)
		return err
	})
	return removed, err
}

// arena is the scope of the handles passed to one host method call.
type arena struct {
	session *Session

	mu     sync.Mutex
	values []*Value
}

func (s *Session) newArena() *arena {
	a := &arena{session: s}
	s.mu.Lock()
	s.arenas[a] = struct{}{}
	s.mu.Unlock()
	return a
}

// wrap creates a top-level handle of the arena.
func (a *arena) wrap(x any) *Value {
	v := &Value{session: a.session, v: x, arena: a}
	a.mu.Lock()
	a.values = append(a.values, v)
	a.mu.Unlock()
	return v
}

// child creates a handle derived from parent.
func (a *arena) child(parent *Value, x any) *Value {
	v := &Value{session: a.session, v: x, arena: a}
	parent.addChild(v)
	return v
}

// close releases the arena's handles. Pinned handles survive and stay
// with the arena until the session closes it with all set.
func (a *arena) close(all bool) {
	a.mu.Lock()
	values := a.values
	a.values = nil
	a.mu.Unlock()

	var pinned []*Value
	for _, v := range values {
		switch {
		case all:
			v.forceRelease()
		case v.IsPinned():
			pinned = append(pinned, v)
		default:
			v.releaseScoped()
		}
	}
	if len(pinned) > 0 {
		a.mu.Lock()
		a.values = pinned
		a.mu.Unlock()
		return
	}

	s := a.session
	s.mu.Lock()
	delete(s.arenas, a)
	s.mu.Unlock()
}

// valueCache maps interop objects to their unscoped handle while the
// handle is reachable.
type valueCache struct {
	mu      sync.Mutex
	entries map[*interop.Object]weak.Pointer[Value]
}

func newValueCache() *valueCache {
	return &valueCache{entries: make(map[*interop.Object]weak.Pointer[Value])}
}

func (c *valueCache) get(s *Session, obj *interop.Object) *Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wp, ok := c.entries[obj]; ok {
		if v := wp.Value(); v != nil {
			return v
		}
	}
	v := &Value{session: s, v: obj, cached: true}
	c.entries[obj] = weak.Make(v)
	runtime.AddCleanup(v, c.evict, obj)
	return v
}

func (c *valueCache) evict(obj *interop.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wp, ok := c.entries[obj]; ok && wp.Value() == nil {
		delete(c.entries, obj)
	}
}

func (c *valueCache) forget(v *Value) {
	obj, ok := v.v.(*interop.Object)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if wp, ok := c.entries[obj]; ok && wp.Value() == v {
		delete(c.entries, obj)
	}
}

func (c *valueCache) releaseAll() {
	c.mu.Lock()
	values := make([]*Value, 0, len(c.entries))
	for _, wp := range c.entries {
		if v := wp.Value(); v != nil {
			values = append(values, v)
		}
	}
	c.entries = make(map[*interop.Object]weak.Pointer[Value])
	c.mu.Unlock()

	for _, v := range values {
		v.forceRelease()
	}
}
