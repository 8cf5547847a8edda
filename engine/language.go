package engine

import (
	"context"
	"maps"
	"strings"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

// Policy decides how language instances are shared between sessions.
type Policy int

const (
	// PolicyExclusive gives every session its own instance.
	PolicyExclusive Policy = iota
	// PolicyReuse gives every live session its own instance, but an instance
	// whose sessions all closed is retained and may be patched for a later
	// session with compatible options.
	PolicyReuse
	// PolicyShared attaches sessions with compatible options to one live
	// instance.
	PolicyShared
)

func (p Policy) String() string {
	switch p {
	case PolicyExclusive:
		return "exclusive"
	case PolicyReuse:
		return "reuse"
	case PolicyShared:
		return "shared"
	}
	return "unknown"
}

// ParsePolicy parses "exclusive", "reuse" or "shared".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "exclusive":
		return PolicyExclusive, nil
	case "reuse":
		return PolicyReuse, nil
	case "shared":
		return PolicyShared, nil
	}
	return 0, glerrors.Config("invalid sharing policy %q", s)
}

// LanguageInfo describes a guest language.
type LanguageInfo struct {
	ID        string
	Name      string
	Version   string
	MIMETypes []string
	Policy    Policy

	// SingleThreaded languages reject a second thread entering a session
	// while another thread is entered.
	SingleThreaded bool

	// Options lists the accepted option keys, without the language prefix,
	// with their default values.
	Options map[string]string
}

// Options are resolved language options keyed without the language prefix.
type Options map[string]string

// Get returns the option value or def when unset.
func (o Options) Get(key, def string) string {
	if v, ok := o[key]; ok {
		return v
	}
	return def
}

// Equal reports exact equality.
func (o Options) Equal(other Options) bool {
	return maps.Equal(o, other)
}

// Language is a guest language implementation.
type Language interface {
	Info() LanguageInfo

	// NewInstance creates a language instance for the given options. The
	// pool decides when instances are created and shared.
	NewInstance(opts Options) (Instance, error)
}

// OptionsComparer may be implemented by a Language to decide whether an
// instance created with prev can serve a session asking for next. Without
// it, options must be equal.
type OptionsComparer interface {
	CompatibleOptions(prev, next Options) (bool, error)
}

// Instance is one loaded instance of a language.
type Instance interface {
	// CreateContext creates the per-session state of the language.
	CreateContext(env *Env) (LanguageContext, error)

	// Parse turns a source into an executable target. Results are cached by
	// the pool per instance.
	Parse(ctx context.Context, src Source) (CallTarget, error)

	// Dispose is called when the last session detaches.
	Dispose()
}

// Patcher may be implemented by instances of PolicyReuse languages. Patch
// reports whether a retained instance created or last patched with prev can
// be brought back to life for options next.
type Patcher interface {
	Patch(prev, next Options) bool
}

// LanguageContext is the per-session state of a language.
type LanguageContext interface {
	// Bindings returns the top-level scope of the language.
	Bindings() *interop.Object

	// Dispose is called when the session closes.
	Dispose()
}

// CallTarget is parsed code.
type CallTarget interface {
	Execute(ctx context.Context, lc LanguageContext) (any, error)
}

// CallTargetFunc adapts a function to CallTarget.
type CallTargetFunc func(ctx context.Context, lc LanguageContext) (any, error)

func (f CallTargetFunc) Execute(ctx context.Context, lc LanguageContext) (any, error) {
	return f(ctx, lc)
}
