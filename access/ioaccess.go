package access

import (
	"strings"

	"github.com/go-git/go-billy/v5"

	glerrors "github.com/caffeineduck/glot/errors"
)

// IOAccess describes the file and socket capabilities of a session.
// A session either reaches host files through fine-grained flags or through
// a custom backing filesystem, never both.
type IOAccess struct {
	name         string
	fileAccess   bool
	socketAccess bool
	fs           billy.Filesystem
}

var (
	// IONone denies all file and socket access.
	IONone = IOAccess{name: "none"}

	// IOAll grants host file and socket access.
	IOAll = IOAccess{name: "all", fileAccess: true, socketAccess: true}
)

// AllowsHostFileAccess reports whether host files may be mounted.
func (a IOAccess) AllowsHostFileAccess() bool { return a.fileAccess }

// AllowsHostSocketAccess reports whether outbound network access is allowed.
func (a IOAccess) AllowsHostSocketAccess() bool { return a.socketAccess }

// FileSystem returns the custom backing filesystem, if any.
func (a IOAccess) FileSystem() billy.Filesystem { return a.fs }

// AllowsFiles reports whether guests can reach any filesystem.
func (a IOAccess) AllowsFiles() bool { return a.fileAccess || a.fs != nil }

// Equal reports structural equality. Filesystems compare by identity.
func (a IOAccess) Equal(other IOAccess) bool {
	return a.fileAccess == other.fileAccess &&
		a.socketAccess == other.socketAccess &&
		a.fs == other.fs
}

func (a IOAccess) String() string {
	if a.name != "" {
		return "IOAccess(" + a.name + ")"
	}
	var flags []string
	if a.fileAccess {
		flags = append(flags, "files")
	}
	if a.socketAccess {
		flags = append(flags, "sockets")
	}
	if a.fs != nil {
		flags = append(flags, "fs="+a.fs.Root())
	}
	return "IOAccess(" + strings.Join(flags, " ") + ")"
}

// Extend builds a new policy from a and the overrides applied by fn.
func (a IOAccess) Extend(fn func(b *IOAccessBuilder)) (IOAccess, error) {
	b := NewIOAccessBuilder(a)
	if fn != nil {
		fn(b)
	}
	return b.Build()
}

// IOAccessBuilder accumulates overrides on top of a base policy.
type IOAccessBuilder struct {
	a           IOAccess
	fileFlagSet bool
	fsSet       bool
}

// NewIOAccessBuilder starts a builder from base.
func NewIOAccessBuilder(base IOAccess) *IOAccessBuilder {
	a := base
	a.name = ""
	return &IOAccessBuilder{
		a:           a,
		fileFlagSet: base.fileAccess,
		fsSet:       base.fs != nil,
	}
}

func (b *IOAccessBuilder) AllowHostFileAccess(allow bool) *IOAccessBuilder {
	b.a.fileAccess = allow
	b.fileFlagSet = allow
	return b
}

func (b *IOAccessBuilder) AllowHostSocketAccess(allow bool) *IOAccessBuilder {
	b.a.socketAccess = allow
	return b
}

// FileSystem installs a custom backing filesystem for guest file access.
func (b *IOAccessBuilder) FileSystem(fs billy.Filesystem) *IOAccessBuilder {
	b.a.fs = fs
	b.fsSet = fs != nil
	return b
}

// Build validates the accumulated settings.
func (b *IOAccessBuilder) Build() (IOAccess, error) {
	if b.fileFlagSet && b.fsSet {
		return IOAccess{}, glerrors.Exclusive("IOAccessBuilder.AllowHostFileAccess", "IOAccessBuilder.FileSystem")
	}
	return b.a, nil
}
