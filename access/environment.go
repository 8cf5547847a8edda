package access

import (
	"os"
	"strings"
)

// EnvironmentAccess controls which process environment variables a session
// sees.
type EnvironmentAccess int

const (
	// EnvironmentNone starts from an empty environment.
	EnvironmentNone EnvironmentAccess = iota
	// EnvironmentInherit starts from the host process environment.
	EnvironmentInherit
)

func (e EnvironmentAccess) String() string {
	switch e {
	case EnvironmentNone:
		return "none"
	case EnvironmentInherit:
		return "inherit"
	default:
		return "unknown"
	}
}

// Equal reports whether both policies are the same.
func (e EnvironmentAccess) Equal(other EnvironmentAccess) bool { return e == other }

// Resolve returns the effective environment: the inherited variables, if
// any, with overrides applied on top.
func (e EnvironmentAccess) Resolve(overrides map[string]string) map[string]string {
	env := make(map[string]string)
	if e == EnvironmentInherit {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

// ParseEnvironmentAccess parses "none" or "inherit".
func ParseEnvironmentAccess(s string) (EnvironmentAccess, bool) {
	switch strings.ToLower(s) {
	case "", "none":
		return EnvironmentNone, true
	case "inherit":
		return EnvironmentInherit, true
	}
	return EnvironmentNone, false
}
