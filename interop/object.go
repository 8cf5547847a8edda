package interop

import (
	"context"
	"strings"
)

// Object is a foreign value described by an explicit capability table.
// A capability is supported when its function is non-nil; every function is
// optional. Primitive guest values (nil, bool, string and Go numerics) are
// interop values on their own and need no table.
type Object struct {
	// Name identifies the object in error messages and formatting.
	Name string

	Null    bool
	Boolean func() (bool, error)
	String  func() (string, error)
	Number  func() (any, error)
	Pointer func() (uint64, error)

	// Host is the wrapped host value of a HOST_OBJECT.
	Host any

	// Members enumerates member keys; non-nil marks HAS_MEMBERS.
	Members      func(includeInternal bool) ([]string, error)
	MemberInfo   func(key string) KeyInfo
	ReadMember   func(key string) (any, error)
	WriteMember  func(key string, value any) error
	RemoveMember func(key string) error
	InvokeMember func(ctx context.Context, key string, args []any) (any, error)

	// ReadElement marks HAS_ARRAY_ELEMENTS; Size marks HAS_SIZE.
	Size          func() (int64, error)
	ElementInfo   func(index int64) KeyInfo
	ReadElement   func(index int64) (any, error)
	WriteElement  func(index int64, value any) error
	RemoveElement func(index int64) error

	Execute     func(ctx context.Context, args []any) (any, error)
	Instantiate func(ctx context.Context, args []any) (any, error)
}

func (o *Object) GoString() string {
	if o == nil {
		return "<nil object>"
	}
	return "interop.Object(" + o.Name + ")"
}

// Capability is a bitset of the protocol capability flags.
type Capability uint16

const (
	CapNull Capability = 1 << iota
	CapBoolean
	CapString
	CapNumber
	CapMembers
	CapArrayElements
	CapExecutable
	CapInstantiable
	CapSize
	CapPointer
	CapHostObject
)

var capabilityNames = []string{
	"NULL", "BOOLEAN", "STRING", "NUMBER", "HAS_MEMBERS", "HAS_ARRAY_ELEMENTS",
	"EXECUTABLE", "INSTANTIABLE", "HAS_SIZE", "IS_POINTER", "HOST_OBJECT",
}

// Has reports whether all bits of c2 are set.
func (c Capability) Has(c2 Capability) bool { return c&c2 == c2 }

func (c Capability) String() string {
	if c == 0 {
		return "NONE"
	}
	var names []string
	for i, name := range capabilityNames {
		if c&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// KeyInfo is the per-key info bitset of members and array elements.
type KeyInfo uint8

const (
	KeyExisting KeyInfo = 1 << iota
	KeyReadable
	KeyWritable
	KeyInvocable
	KeyInsertable
	KeyRemovable
	KeyInternal
)

// DeclaredKey is the default info of a key an object declares.
const DeclaredKey = KeyExisting | KeyReadable | KeyWritable | KeyRemovable

var keyInfoNames = []string{
	"EXISTING", "READABLE", "WRITABLE", "INVOCABLE", "INSERTABLE", "REMOVABLE", "INTERNAL",
}

func (k KeyInfo) Existing() bool   { return k&KeyExisting != 0 }
func (k KeyInfo) Readable() bool   { return k&KeyReadable != 0 }
func (k KeyInfo) Writable() bool   { return k&KeyWritable != 0 }
func (k KeyInfo) Invocable() bool  { return k&KeyInvocable != 0 }
func (k KeyInfo) Insertable() bool { return k&KeyInsertable != 0 }
func (k KeyInfo) Removable() bool  { return k&KeyRemovable != 0 }
func (k KeyInfo) Internal() bool   { return k&KeyInternal != 0 }

func (k KeyInfo) String() string {
	if k == 0 {
		return "NONE"
	}
	var names []string
	for i, name := range keyInfoNames {
		if k&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}
