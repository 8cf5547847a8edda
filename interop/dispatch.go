package interop

import (
	"context"
	"errors"
	"fmt"
	"slices"

	glerrors "github.com/caffeineduck/glot/errors"
)

// CapabilitiesOf returns the capability flags of an interop value.
func CapabilitiesOf(v any) Capability {
	o, ok := v.(*Object)
	if !ok {
		switch v.(type) {
		case nil:
			return CapNull
		case bool:
			return CapBoolean
		case string:
			return CapString
		}
		if IsNumber(v) {
			return CapNumber
		}
		return 0
	}
	if o == nil {
		return CapNull
	}

	var c Capability
	if o.Null {
		c |= CapNull
	}
	if o.Boolean != nil {
		c |= CapBoolean
	}
	if o.String != nil {
		c |= CapString
	}
	if o.Number != nil {
		c |= CapNumber
	}
	if o.Members != nil {
		c |= CapMembers
	}
	if o.ReadElement != nil {
		c |= CapArrayElements
	}
	if o.Execute != nil {
		c |= CapExecutable
	}
	if o.Instantiate != nil {
		c |= CapInstantiable
	}
	if o.Size != nil {
		c |= CapSize
	}
	if o.Pointer != nil {
		c |= CapPointer
	}
	if o.Host != nil {
		c |= CapHostObject
	}
	return c
}

// IsValue reports whether v can cross the boundary as is.
func IsValue(v any) bool {
	switch v.(type) {
	case nil, bool, string, *Object:
		return true
	}
	return IsNumber(v)
}

func IsNull(v any) bool           { return CapabilitiesOf(v).Has(CapNull) }
func IsBoolean(v any) bool        { return CapabilitiesOf(v).Has(CapBoolean) }
func IsString(v any) bool         { return CapabilitiesOf(v).Has(CapString) }
func HasMembers(v any) bool       { return CapabilitiesOf(v).Has(CapMembers) }
func HasArrayElements(v any) bool { return CapabilitiesOf(v).Has(CapArrayElements) }
func IsExecutable(v any) bool     { return CapabilitiesOf(v).Has(CapExecutable) }
func IsInstantiable(v any) bool   { return CapabilitiesOf(v).Has(CapInstantiable) }
func HasSize(v any) bool          { return CapabilitiesOf(v).Has(CapSize) }
func IsPointer(v any) bool        { return CapabilitiesOf(v).Has(CapPointer) }
func IsHostObject(v any) bool     { return CapabilitiesOf(v).Has(CapHostObject) }

func object(v any) *Object {
	o, _ := v.(*Object)
	return o
}

// guard runs user-supplied table code. Interop errors pass through; any
// other failure, panics included, becomes a host exception.
func guard[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			if e, ok := r.(error); ok {
				err = glerrors.Host(e)
			} else {
				err = glerrors.Host(fmt.Errorf("panic: %v", r))
			}
		}
	}()
	result, err = fn()
	if err != nil {
		err = translate(err)
	}
	return result, err
}

func guardErr(fn func() error) error {
	_, err := guard(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func translate(err error) error {
	var e *glerrors.Error
	if errors.As(err, &e) {
		return err
	}
	return glerrors.Host(err)
}

// MemberInfo returns the key info of key. Without a MemberInfo function the
// declared keys are DeclaredKey and any other key is insertable. Write still
// reports Unsupported for an object without WriteMember.
func MemberInfo(v any, key string) (KeyInfo, error) {
	o := object(v)
	if o == nil || o.Members == nil {
		return 0, nil
	}
	if o.MemberInfo != nil {
		return guard(func() (KeyInfo, error) { return o.MemberInfo(key), nil })
	}
	keys, err := guard(func() ([]string, error) { return o.Members(true) })
	if err != nil {
		return 0, err
	}
	if slices.Contains(keys, key) {
		return DeclaredKey, nil
	}
	return KeyInsertable, nil
}

// KeyInfoOf is MemberInfo with failures reported as 0.
func KeyInfoOf(v any, key string) KeyInfo {
	info, err := MemberInfo(v, key)
	if err != nil {
		return 0
	}
	return info
}

// Read reads a member.
func Read(v any, key string) (any, error) {
	o := object(v)
	if o == nil || o.Members == nil {
		return nil, glerrors.Unsupported("read member")
	}
	info, err := MemberInfo(o, key)
	if err != nil {
		return nil, err
	}
	if !info.Readable() {
		return nil, glerrors.UnknownIdentifier(key)
	}
	if o.ReadMember == nil {
		return nil, glerrors.Unsupported("read member")
	}
	return guard(func() (any, error) { return o.ReadMember(key) })
}

// Write writes an existing writable member or inserts a new one.
func Write(v any, key string, value any) error {
	o := object(v)
	if o == nil || o.Members == nil {
		return glerrors.Unsupported("write member")
	}
	info, err := MemberInfo(o, key)
	if err != nil {
		return err
	}
	if info.Existing() && !info.Writable() || !info.Existing() && !info.Insertable() {
		return glerrors.UnknownIdentifier(key)
	}
	if o.WriteMember == nil {
		return glerrors.Unsupported("write member")
	}
	return guardErr(func() error { return o.WriteMember(key, value) })
}

// Remove removes a member and reports whether it was removed.
func Remove(v any, key string) (bool, error) {
	o := object(v)
	if o == nil || o.Members == nil || o.RemoveMember == nil {
		return false, glerrors.Unsupported("remove member")
	}
	info, err := MemberInfo(o, key)
	if err != nil {
		return false, err
	}
	if !info.Removable() {
		return false, nil
	}
	err = guardErr(func() error { return o.RemoveMember(key) })
	if err != nil {
		if isKind(err, glerrors.KindUnknownIdentifier) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Invoke invokes a member: a dedicated InvokeMember if the key is invocable,
// otherwise read then execute.
func Invoke(ctx context.Context, v any, key string, args ...any) (any, error) {
	o := object(v)
	if o == nil || o.Members == nil {
		return nil, glerrors.Unsupported("invoke member")
	}
	if o.InvokeMember != nil {
		info, err := MemberInfo(o, key)
		if err != nil {
			return nil, err
		}
		if info.Invocable() {
			return guard(func() (any, error) { return o.InvokeMember(ctx, key, args) })
		}
	}
	member, err := Read(o, key)
	if err != nil {
		return nil, err
	}
	return Execute(ctx, member, args...)
}

// Execute executes an EXECUTABLE value.
func Execute(ctx context.Context, v any, args ...any) (any, error) {
	o := object(v)
	if o == nil || o.Execute == nil {
		return nil, glerrors.Unsupported("execute")
	}
	return guard(func() (any, error) { return o.Execute(ctx, args) })
}

// Instantiate instantiates an INSTANTIABLE value.
func Instantiate(ctx context.Context, v any, args ...any) (any, error) {
	o := object(v)
	if o == nil || o.Instantiate == nil {
		return nil, glerrors.Unsupported("instantiate")
	}
	return guard(func() (any, error) { return o.Instantiate(ctx, args) })
}

// Unbox returns the primitive carried by a boxed value. Primitives unbox to
// themselves.
func Unbox(v any) (any, error) {
	o, ok := v.(*Object)
	if !ok {
		if IsValue(v) {
			return v, nil
		}
		return nil, glerrors.Unsupported("unbox")
	}
	switch {
	case o == nil || o.Null:
		return nil, nil
	case o.Boolean != nil:
		return guard(func() (any, error) { return o.Boolean() })
	case o.String != nil:
		return guard(func() (any, error) { return o.String() })
	case o.Number != nil:
		return guard(o.Number)
	}
	return nil, glerrors.Unsupported("unbox")
}

// AsBool returns the boolean carried by v.
func AsBool(v any) (bool, error) {
	u, err := unboxFor(v, CapBoolean)
	if err != nil {
		return false, err
	}
	b, ok := u.(bool)
	if !ok {
		return false, glerrors.TypeCast(v, "bool")
	}
	return b, nil
}

// AsString returns the string carried by v.
func AsString(v any) (string, error) {
	u, err := unboxFor(v, CapString)
	if err != nil {
		return "", err
	}
	s, ok := u.(string)
	if !ok {
		return "", glerrors.TypeCast(v, "string")
	}
	return s, nil
}

func unboxFor(v any, c Capability) (any, error) {
	if !CapabilitiesOf(v).Has(c) {
		return nil, glerrors.TypeCast(v, c.String())
	}
	return Unbox(v)
}

// AsPointer returns the native pointer of an IS_POINTER value.
func AsPointer(v any) (uint64, error) {
	o := object(v)
	if o == nil || o.Pointer == nil {
		return 0, glerrors.Unsupported("as pointer")
	}
	return guard(o.Pointer)
}

// Keys returns an array-like object enumerating member keys. It is empty
// when v has no members.
func Keys(v any, includeInternal bool) (*Object, error) {
	o := object(v)
	if o == nil || o.Members == nil {
		return NewArrayObject("keys", nil, false), nil
	}
	keys, err := guard(func() ([]string, error) { return o.Members(includeInternal) })
	if err != nil {
		return nil, err
	}
	elems := make([]any, len(keys))
	for i, k := range keys {
		elems[i] = k
	}
	return NewArrayObject("keys", elems, false), nil
}

// ArraySize returns the number of array elements.
func ArraySize(v any) (int64, error) {
	o := object(v)
	if o == nil || o.Size == nil {
		return 0, glerrors.Unsupported("array size")
	}
	return guard(o.Size)
}

// ElementInfo returns the key info of an array index. Without an ElementInfo
// function, indices below the size are existing and readable, and the index
// equal to the size is insertable when elements can be written.
func ElementInfo(v any, index int64) (KeyInfo, error) {
	o := object(v)
	if o == nil || o.ReadElement == nil {
		return 0, nil
	}
	if o.ElementInfo != nil {
		return guard(func() (KeyInfo, error) { return o.ElementInfo(index), nil })
	}
	if o.Size == nil {
		return KeyExisting | KeyReadable, nil
	}
	size, err := guard(o.Size)
	if err != nil {
		return 0, err
	}
	switch {
	case index >= 0 && index < size:
		info := KeyExisting | KeyReadable
		if o.WriteElement != nil {
			info |= KeyWritable
		}
		if o.RemoveElement != nil {
			info |= KeyRemovable
		}
		return info, nil
	case index == size && o.WriteElement != nil:
		return KeyInsertable, nil
	}
	return 0, nil
}

// ReadElement reads an array element.
func ReadElement(v any, index int64) (any, error) {
	o := object(v)
	if o == nil || o.ReadElement == nil {
		return nil, glerrors.Unsupported("read element")
	}
	info, err := ElementInfo(o, index)
	if err != nil {
		return nil, err
	}
	if !info.Readable() {
		return nil, glerrors.UnknownIdentifier(fmt.Sprintf("[%d]", index))
	}
	return guard(func() (any, error) { return o.ReadElement(index) })
}

// WriteElement writes or inserts an array element.
func WriteElement(v any, index int64, value any) error {
	o := object(v)
	if o == nil || o.ReadElement == nil || o.WriteElement == nil {
		return glerrors.Unsupported("write element")
	}
	info, err := ElementInfo(o, index)
	if err != nil {
		return err
	}
	if info.Existing() && !info.Writable() || !info.Existing() && !info.Insertable() {
		return glerrors.UnknownIdentifier(fmt.Sprintf("[%d]", index))
	}
	return guardErr(func() error { return o.WriteElement(index, value) })
}

// RemoveElement removes an array element and reports whether it was removed.
func RemoveElement(v any, index int64) (bool, error) {
	o := object(v)
	if o == nil || o.ReadElement == nil || o.RemoveElement == nil {
		return false, glerrors.Unsupported("remove element")
	}
	info, err := ElementInfo(o, index)
	if err != nil {
		return false, err
	}
	if !info.Removable() {
		return false, nil
	}
	if err := guardErr(func() error { return o.RemoveElement(index) }); err != nil {
		return false, err
	}
	return true, nil
}

func isKind(err error, kind glerrors.Kind) bool {
	return glerrors.KindOf(err) == kind
}
