package engine

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

var (
	valueType   = reflect.TypeFor[*Value]()
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
	objectType  = reflect.TypeFor[*interop.Object]()
)

// toGuest converts a Go value for guest use. Handles are unwrapped;
// structured values become host objects.
func (s *Session) toGuest(x any) (any, error) {
	switch t := x.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, *interop.Object:
		return x, nil
	case *Value:
		if err := t.check(); err != nil {
			return nil, err
		}
		if _, isObj := t.v.(*interop.Object); isObj && t.session != s {
			return nil, glerrors.IllegalState("value belongs to a different session")
		}
		return t.v, nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		if rv.IsNil() {
			return nil, nil
		}
	}
	return s.hostObject(rv), nil
}

func (s *Session) toGuestAll(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		g, err := s.toGuest(a)
		if err != nil {
			return nil, err
		}
		out[i] = g
	}
	return out, nil
}

// hostObject exposes a Go value through reflection, subject to the
// session's HostAccess. Functions are always executable.
func (s *Session) hostObject(rv reflect.Value) *interop.Object {
	ha := s.cfg.hostAccess
	obj := &interop.Object{Name: rv.Type().String(), Host: rv.Interface()}

	switch rv.Kind() {
	case reflect.Func:
		obj.Execute = func(ctx context.Context, args []any) (any, error) {
			return s.callHost(ctx, "", rv, args)
		}
		return obj
	case reflect.Slice, reflect.Array:
		if ha.AllowsArrayAccess() {
			s.bindElements(obj, rv)
		}
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String && ha.AllowsMapAccess() {
			s.bindMap(obj, rv)
			return obj
		}
	}
	s.bindMembers(obj, rv)
	return obj
}

func (s *Session) bindElements(obj *interop.Object, rv reflect.Value) {
	valid := func(i int64) bool { return i >= 0 && i < int64(rv.Len()) }
	obj.Size = func() (int64, error) { return int64(rv.Len()), nil }
	obj.ElementInfo = func(i int64) interop.KeyInfo {
		if !valid(i) {
			return 0
		}
		info := interop.KeyExisting | interop.KeyReadable
		if rv.Index(int(i)).CanSet() {
			info |= interop.KeyWritable
		}
		return info
	}
	obj.ReadElement = func(i int64) (any, error) {
		if !valid(i) {
			return nil, glerrors.UnknownIdentifier(fmt.Sprint(i))
		}
		return s.toGuest(rv.Index(int(i)).Interface())
	}
	obj.WriteElement = func(i int64, value any) error {
		if !valid(i) {
			return glerrors.UnknownIdentifier(fmt.Sprint(i))
		}
		elem := rv.Index(int(i))
		if !elem.CanSet() {
			return glerrors.Unsupported("write element of " + obj.Name)
		}
		converted, err := s.toHost(nil, value, elem.Type())
		if err != nil {
			return err
		}
		elem.Set(converted)
		return nil
	}
}

func (s *Session) bindMap(obj *interop.Object, rv reflect.Value) {
	keyType := rv.Type().Key()
	elemType := rv.Type().Elem()
	key := func(k string) reflect.Value { return reflect.ValueOf(k).Convert(keyType) }

	obj.Members = func(bool) ([]string, error) {
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		slices.Sort(keys)
		return keys, nil
	}
	obj.ReadMember = func(k string) (any, error) {
		v := rv.MapIndex(key(k))
		if !v.IsValid() {
			return nil, glerrors.UnknownIdentifier(k)
		}
		return s.toGuest(v.Interface())
	}
	obj.WriteMember = func(k string, value any) error {
		converted, err := s.toHost(nil, value, elemType)
		if err != nil {
			return err
		}
		rv.SetMapIndex(key(k), converted)
		return nil
	}
	obj.RemoveMember = func(k string) error {
		if !rv.MapIndex(key(k)).IsValid() {
			return glerrors.UnknownIdentifier(k)
		}
		rv.SetMapIndex(key(k), reflect.Value{})
		return nil
	}
}

type hostMember struct {
	field  []int
	method bool
}

// bindMembers exposes the exported fields and methods allowed by the host
// access policy.
func (s *Session) bindMembers(obj *interop.Object, rv reflect.Value) {
	ha := s.cfg.hostAccess
	members := make(map[string]hostMember)

	t := rv.Type()
	for i := range t.NumMethod() {
		m := t.Method(i)
		if m.IsExported() && ha.AllowsMember(m.Name) {
			members[m.Name] = hostMember{method: true}
		}
	}

	sv := rv
	if sv.Kind() == reflect.Pointer {
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(sv.Type()) {
			if !f.IsExported() || f.Anonymous || !ha.AllowsMember(f.Name) {
				continue
			}
			if _, isMethod := members[f.Name]; !isMethod {
				members[f.Name] = hostMember{field: f.Index}
			}
		}
	}
	if len(members) == 0 {
		return
	}

	names := slices.Sorted(maps.Keys(members))
	field := func(m hostMember) (reflect.Value, error) {
		f, err := sv.FieldByIndexErr(m.field)
		if err != nil {
			return reflect.Value{}, glerrors.Host(err)
		}
		return f, nil
	}

	obj.Members = func(bool) ([]string, error) { return names, nil }
	obj.MemberInfo = func(key string) interop.KeyInfo {
		m, ok := members[key]
		switch {
		case !ok:
			return 0
		case m.method:
			return interop.KeyExisting | interop.KeyReadable | interop.KeyInvocable
		}
		info := interop.KeyExisting | interop.KeyReadable
		if f, err := field(m); err == nil && f.CanSet() {
			info |= interop.KeyWritable
		}
		return info
	}
	obj.ReadMember = func(key string) (any, error) {
		m, ok := members[key]
		if !ok {
			return nil, glerrors.UnknownIdentifier(key)
		}
		if m.method {
			method := rv.MethodByName(key)
			return interop.NewFunction(key, 0, -1, func(ctx context.Context, args []any) (any, error) {
				return s.callHost(ctx, key, method, args)
			}), nil
		}
		f, err := field(m)
		if err != nil {
			return nil, err
		}
		return s.toGuest(f.Interface())
	}
	obj.WriteMember = func(key string, value any) error {
		m, ok := members[key]
		if !ok || m.method {
			return glerrors.UnknownIdentifier(key)
		}
		f, err := field(m)
		if err != nil {
			return err
		}
		if !f.CanSet() {
			return glerrors.Unsupported("write field " + key + " of " + obj.Name)
		}
		converted, err := s.toHost(nil, value, f.Type())
		if err != nil {
			return err
		}
		f.Set(converted)
		return nil
	}
	obj.InvokeMember = func(ctx context.Context, key string, args []any) (any, error) {
		if m, ok := members[key]; !ok || !m.method {
			return nil, glerrors.UnknownIdentifier(key)
		}
		return s.callHost(ctx, key, rv.MethodByName(key), args)
	}
}

// callHost calls a Go function with guest arguments. A leading
// context.Context parameter receives ctx. Parameters of type *Value get
// handles, scoped to the call when the host access policy scopes the
// method. Results may be (T), (T, error), (error) or nothing.
func (s *Session) callHost(ctx context.Context, name string, fn reflect.Value, args []any) (any, error) {
	ft := fn.Type()

	var in []reflect.Value
	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}

	fixed := ft.NumIn() - first
	maxArity := fixed
	if ft.IsVariadic() {
		fixed--
		maxArity = -1
	}
	if len(args) < fixed || maxArity >= 0 && len(args) > maxArity {
		return nil, glerrors.Arity(fixed, maxArity, len(args))
	}

	var a *arena
	if s.cfg.hostAccess.Scoped(name) {
		a = s.newArena()
		defer a.close(false)
	}

	for i, arg := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= fixed {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(first + i)
		}
		v, err := s.toHost(a, arg, pt)
		if err != nil {
			return nil, err
		}
		in = append(in, v)
	}

	out := fn.Call(in)
	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if err, _ := out[n-1].Interface().(error); err != nil {
			return nil, err
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return s.toGuest(out[0].Interface())
}

// toHost converts a guest value to a Go value of type t.
func (s *Session) toHost(a *arena, arg any, t reflect.Type) (reflect.Value, error) {
	if t == valueType {
		if a != nil {
			return reflect.ValueOf(a.wrap(arg)), nil
		}
		return reflect.ValueOf(s.wrap(arg)), nil
	}
	if t == objectType {
		if obj, ok := arg.(*interop.Object); ok {
			return reflect.ValueOf(obj), nil
		}
	}
	if arg == nil || interop.IsNull(arg) {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, glerrors.UnsupportedType("null is not a "+t.String(), arg)
	}

	if obj, ok := arg.(*interop.Object); ok && obj.Host != nil {
		hv := reflect.ValueOf(obj.Host)
		if hv.Type().AssignableTo(t) {
			return hv, nil
		}
	}

	switch t.Kind() {
	case reflect.Bool:
		b, err := interop.AsBool(arg)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.String:
		str, err := interop.AsString(arg)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(str).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := interop.AsInt64(arg)
		if err != nil {
			return reflect.Value{}, err
		}
		v := reflect.New(t).Elem()
		if v.OverflowInt(n) {
			return reflect.Value{}, glerrors.TypeCast(arg, t.String())
		}
		v.SetInt(n)
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := interop.AsInt64(arg)
		if err != nil {
			return reflect.Value{}, err
		}
		v := reflect.New(t).Elem()
		if n < 0 || v.OverflowUint(uint64(n)) {
			return reflect.Value{}, glerrors.TypeCast(arg, t.String())
		}
		v.SetUint(uint64(n))
		return v, nil
	case reflect.Float32, reflect.Float64:
		f, err := interop.AsFloat64(arg)
		if err != nil {
			return reflect.Value{}, err
		}
		v := reflect.New(t).Elem()
		if t.Kind() == reflect.Float32 && !interop.FitsInFloat32(arg) {
			return reflect.Value{}, glerrors.TypeCast(arg, t.String())
		}
		v.SetFloat(f)
		return v, nil
	case reflect.Interface:
		if t.NumMethod() == 0 {
			g, err := interop.ToGo(arg)
			if err != nil {
				return reflect.ValueOf(&arg).Elem(), nil
			}
			if g == nil {
				return reflect.Zero(t), nil
			}
			return reflect.ValueOf(g), nil
		}
	}

	if rv := reflect.ValueOf(arg); rv.Type().AssignableTo(t) {
		return rv, nil
	}
	return reflect.Value{}, glerrors.UnsupportedType("cannot convert to "+t.String(), arg)
}
