// Package sexp provides a small s-expression guest language.
//
// Programs are sequences of forms. Besides the usual special forms (def,
// set!, fn, if, do, let, and, or, while, try, quote) the language speaks the
// interop protocol directly, so values from other languages and the host
// can be used without conversion:
//
//	(. obj "key")              read a member, or an element for integer keys
//	(.= obj "key" value)       write a member or element
//	(.- obj "key")             remove a member or element
//	(.call obj "method" args)  invoke a member
//	(new ctor args)            instantiate
//	(import "name")            read a polyglot binding, null if missing
//	(export "name" value)      write a polyglot binding
//	(host "kv_get" (object "key" "k"))  call a session host function
//
// Functions created with fn are executable foreign objects and can be
// passed to other languages and the host.
package sexp

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/caffeineduck/glot/engine"
	"github.com/caffeineduck/glot/interop"
)

// ID is the language id.
const ID = "sexp"

const (
	// OptionMaxDepth limits the function call depth.
	OptionMaxDepth = "MaxDepth"
	// OptionPrelude loads the helper functions of prelude.sexp into every
	// context.
	OptionPrelude = "Prelude"
)

//go:embed prelude.sexp
var prelude string

// Language implements engine.Language for s-expressions.
type Language struct {
	policy engine.Policy
}

// Option configures a Language.
type Option func(*Language)

// WithPolicy sets the sharing policy. Defaults to PolicyShared.
func WithPolicy(p engine.Policy) Option {
	return func(l *Language) { l.policy = p }
}

// New returns the s-expression language.
func New(opts ...Option) *Language {
	l := &Language{policy: engine.PolicyShared}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Language) Info() engine.LanguageInfo {
	return engine.LanguageInfo{
		ID:        ID,
		Name:      "S-Expressions",
		Version:   "1.0",
		MIMETypes: []string{"text/x-sexp"},
		Policy:    l.policy,
		Options: map[string]string{
			OptionMaxDepth: "256",
			OptionPrelude:  "true",
		},
	}
}

// CompatibleOptions lets sessions with different call depth limits share an
// instance. The prelude setting must match.
func (l *Language) CompatibleOptions(prev, next engine.Options) (bool, error) {
	if _, err := parseOptions(next); err != nil {
		return false, err
	}
	return prev.Get(OptionPrelude, "") == next.Get(OptionPrelude, ""), nil
}

type options struct {
	maxDepth int
	prelude  bool
}

func parseOptions(opts engine.Options) (options, error) {
	depth, err := strconv.Atoi(opts.Get(OptionMaxDepth, "256"))
	if err != nil || depth < 1 {
		return options{}, fmt.Errorf("sexp: invalid %s %q", OptionMaxDepth, opts.Get(OptionMaxDepth, ""))
	}
	withPrelude, err := strconv.ParseBool(opts.Get(OptionPrelude, "true"))
	if err != nil {
		return options{}, fmt.Errorf("sexp: invalid %s %q", OptionPrelude, opts.Get(OptionPrelude, ""))
	}
	return options{maxDepth: depth, prelude: withPrelude}, nil
}

func (l *Language) NewInstance(opts engine.Options) (engine.Instance, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	inst := &instance{}
	if o.prelude {
		if inst.prelude, err = read("prelude.sexp", prelude); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// instance holds the parsed prelude. Everything else is per context.
type instance struct {
	prelude []any
}

func (i *instance) CreateContext(env *engine.Env) (engine.LanguageContext, error) {
	o, err := parseOptions(env.Options())
	if err != nil {
		return nil, err
	}
	lc := &langContext{
		env:      env,
		maxDepth: o.maxDepth,
		globals:  interop.NewMemberObject(ID, nil),
	}
	if len(i.prelude) > 0 {
		ip := &interp{lc: lc}
		if _, err := ip.evalBody(context.Background(), nil, i.prelude); err != nil {
			return nil, fmt.Errorf("sexp: load prelude: %w", err)
		}
	}
	env.Logger().Debug("sexp context created", zap.Int("max_depth", o.maxDepth))
	return lc, nil
}

func (i *instance) Parse(_ context.Context, src engine.Source) (engine.CallTarget, error) {
	forms, err := read(src.Name, src.Text())
	if err != nil {
		return nil, err
	}
	return program(forms), nil
}

func (i *instance) Dispose() {}

// Patch revives a retained instance when the prelude setting matches.
func (i *instance) Patch(prev, next engine.Options) bool {
	if _, err := parseOptions(next); err != nil {
		return false
	}
	return prev.Get(OptionPrelude, "") == next.Get(OptionPrelude, "")
}

// program is parsed source. It holds no per-session state, so one program
// serves every context of the instance.
type program []any

func (p program) Execute(ctx context.Context, lc engine.LanguageContext) (any, error) {
	ip := &interp{lc: lc.(*langContext), depth: depthOf(ctx)}
	return ip.evalBody(ctx, nil, p)
}

// langContext is the per-session state: the global bindings.
type langContext struct {
	env      *engine.Env
	maxDepth int
	globals  *interop.Object
}

func (c *langContext) Bindings() *interop.Object { return c.globals }

func (c *langContext) Dispose() {
	c.env.Logger().Debug("sexp context disposed")
}
