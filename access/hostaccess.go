package access

import (
	"maps"
	"slices"
	"strings"

	glerrors "github.com/caffeineduck/glot/errors"
)

// HostAccess describes which parts of host objects guest code may reach.
// Values are immutable; derive new policies with [HostAccess.Extend] or a
// [HostAccessBuilder].
type HostAccess struct {
	name           string
	publicAccess   bool
	arrayAccess    bool
	mapAccess      bool
	methodScoping  bool
	allowedMembers map[string]struct{}
	deniedMembers  map[string]struct{}
	escaping       map[string]struct{}
}

var (
	// HostAccessNone exposes host object identity only.
	HostAccessNone = HostAccess{name: "none"}

	// HostAccessExplicit exposes only members listed with AllowMembers.
	HostAccessExplicit = HostAccess{name: "explicit"}

	// HostAccessScoped is HostAccessExplicit with method scoping enabled:
	// guest values passed to host methods are released when the method
	// returns.
	HostAccessScoped = HostAccess{name: "scoped", methodScoping: true}

	// HostAccessAll exposes all exported members, slices and maps.
	HostAccessAll = HostAccess{name: "all", publicAccess: true, arrayAccess: true, mapAccess: true}
)

// ParseHostAccess returns the preset named "none", "explicit", "scoped" or
// "all".
func ParseHostAccess(s string) (HostAccess, bool) {
	for _, h := range []HostAccess{HostAccessNone, HostAccessExplicit, HostAccessScoped, HostAccessAll} {
		if strings.EqualFold(s, h.name) {
			return h, true
		}
	}
	return HostAccessNone, false
}

// AllowsPublicAccess reports whether all exported members are accessible.
func (h HostAccess) AllowsPublicAccess() bool { return h.publicAccess }

// AllowsArrayAccess reports whether host slices and arrays expose elements.
func (h HostAccess) AllowsArrayAccess() bool { return h.arrayAccess }

// AllowsMapAccess reports whether string-keyed host maps expose members.
func (h HostAccess) AllowsMapAccess() bool { return h.mapAccess }

// MethodScoping reports whether guest arguments to host methods are scoped.
func (h HostAccess) MethodScoping() bool { return h.methodScoping }

// AllowsMember reports whether the named member of a host object may be
// accessed.
func (h HostAccess) AllowsMember(name string) bool {
	if _, denied := h.deniedMembers[name]; denied {
		return false
	}
	if h.publicAccess {
		return true
	}
	_, ok := h.allowedMembers[name]
	return ok
}

// Scoped reports whether calls to the named method scope their arguments.
func (h HostAccess) Scoped(method string) bool {
	if !h.methodScoping {
		return false
	}
	_, escaped := h.escaping[method]
	return !escaped
}

// Equal reports structural equality. Names are ignored.
func (h HostAccess) Equal(other HostAccess) bool {
	return h.publicAccess == other.publicAccess &&
		h.arrayAccess == other.arrayAccess &&
		h.mapAccess == other.mapAccess &&
		h.methodScoping == other.methodScoping &&
		setEqual(h.allowedMembers, other.allowedMembers) &&
		setEqual(h.deniedMembers, other.deniedMembers) &&
		setEqual(h.escaping, other.escaping)
}

func (h HostAccess) String() string {
	if h.name != "" {
		return "HostAccess(" + h.name + ")"
	}
	var flags []string
	if h.publicAccess {
		flags = append(flags, "public")
	}
	if h.arrayAccess {
		flags = append(flags, "array")
	}
	if h.mapAccess {
		flags = append(flags, "map")
	}
	if h.methodScoping {
		flags = append(flags, "scoped")
	}
	if len(h.allowedMembers) > 0 {
		flags = append(flags, "allow="+strings.Join(sortedKeys(h.allowedMembers), ","))
	}
	if len(h.deniedMembers) > 0 {
		flags = append(flags, "deny="+strings.Join(sortedKeys(h.deniedMembers), ","))
	}
	return "HostAccess(" + strings.Join(flags, " ") + ")"
}

// Extend builds a new policy from h and the overrides applied by fn.
func (h HostAccess) Extend(fn func(b *HostAccessBuilder)) (HostAccess, error) {
	b := NewHostAccessBuilder(h)
	if fn != nil {
		fn(b)
	}
	return b.Build()
}

// HostAccessBuilder accumulates overrides on top of a base policy.
type HostAccessBuilder struct {
	h HostAccess
}

// NewHostAccessBuilder starts a builder from base.
func NewHostAccessBuilder(base HostAccess) *HostAccessBuilder {
	h := base
	h.name = ""
	h.allowedMembers = maps.Clone(base.allowedMembers)
	h.deniedMembers = maps.Clone(base.deniedMembers)
	h.escaping = maps.Clone(base.escaping)
	return &HostAccessBuilder{h: h}
}

func (b *HostAccessBuilder) AllowPublicAccess(allow bool) *HostAccessBuilder {
	b.h.publicAccess = allow
	return b
}

func (b *HostAccessBuilder) AllowArrayAccess(allow bool) *HostAccessBuilder {
	b.h.arrayAccess = allow
	return b
}

func (b *HostAccessBuilder) AllowMapAccess(allow bool) *HostAccessBuilder {
	b.h.mapAccess = allow
	return b
}

// AllowMembers makes the named members accessible regardless of public
// access.
func (b *HostAccessBuilder) AllowMembers(names ...string) *HostAccessBuilder {
	b.h.allowedMembers = addAll(b.h.allowedMembers, names)
	return b
}

// DenyMembers hides the named members even under public access.
func (b *HostAccessBuilder) DenyMembers(names ...string) *HostAccessBuilder {
	b.h.deniedMembers = addAll(b.h.deniedMembers, names)
	return b
}

// MethodScoping enables or disables scoping of guest arguments to host
// methods.
func (b *HostAccessBuilder) MethodScoping(enabled bool) *HostAccessBuilder {
	b.h.methodScoping = enabled
	return b
}

// DisableMethodScoping lets arguments of the named methods escape their call.
func (b *HostAccessBuilder) DisableMethodScoping(methods ...string) *HostAccessBuilder {
	b.h.escaping = addAll(b.h.escaping, methods)
	return b
}

// Build validates the accumulated settings.
func (b *HostAccessBuilder) Build() (HostAccess, error) {
	for name := range b.h.allowedMembers {
		if _, ok := b.h.deniedMembers[name]; ok {
			err := glerrors.Exclusive("HostAccessBuilder.AllowMembers("+name+")", "HostAccessBuilder.DenyMembers("+name+")")
			return HostAccess{}, err
		}
	}
	h := b.h
	h.allowedMembers = maps.Clone(b.h.allowedMembers)
	h.deniedMembers = maps.Clone(b.h.deniedMembers)
	h.escaping = maps.Clone(b.h.escaping)
	return h, nil
}

func addAll(set map[string]struct{}, names []string) map[string]struct{} {
	if set == nil {
		set = make(map[string]struct{}, len(names))
	}
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}
