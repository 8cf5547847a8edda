package engine

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

// TestLanguage is a tiny language for testing engine logic without a real
// guest runtime. It counts instance, context and parse callbacks. A source
// is one command:
//
//	value <text>                  returns text, as an int64 if it parses
//	fail <message>                fails with a guest error
//	export <name> <text>          writes a polyglot binding
//	import <name>                 reads a polyglot binding
//	call <name> [args...]         executes a polyglot binding
//	invoke <name> <member> [args] invokes a member of a polyglot binding
//	object                        returns a new member object
//	instance                      returns the number of the serving instance
//	spin                          loops until cancelled
type TestLanguage struct {
	ID             string
	Policy         Policy
	SingleThreaded bool
	Options        map[string]string

	// Compatible overrides exact option equality.
	Compatible func(prev, next Options) (bool, error)
	// RefusePatch makes retained instances refuse reuse.
	RefusePatch bool

	// Spinning receives a value each time a spin command starts.
	Spinning chan struct{}

	mu     sync.Mutex
	counts TestCounts
}

// TestCounts are the callback counts of a TestLanguage.
type TestCounts struct {
	Instances         int
	InstancesDisposed int
	Contexts          int
	ContextsDisposed  int
	Parses            int
	Patches           int
	// DisposeOrder lists instance numbers in the order they were disposed.
	DisposeOrder []int
}

// NewTestLanguage creates a test language with one option "mode".
func NewTestLanguage(id string, policy Policy) *TestLanguage {
	return &TestLanguage{
		ID:       id,
		Policy:   policy,
		Options:  map[string]string{"mode": "default"},
		Spinning: make(chan struct{}, 16),
	}
}

func (l *TestLanguage) Info() LanguageInfo {
	return LanguageInfo{
		ID:             l.ID,
		Name:           "Test " + l.ID,
		Version:        "1.0",
		Policy:         l.Policy,
		SingleThreaded: l.SingleThreaded,
		Options:        l.Options,
	}
}

// Counts returns a snapshot of the callback counts.
func (l *TestLanguage) Counts() TestCounts {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.counts
	c.DisposeOrder = slices.Clone(c.DisposeOrder)
	return c
}

func (l *TestLanguage) count(fn func(c *TestCounts)) {
	l.mu.Lock()
	fn(&l.counts)
	l.mu.Unlock()
}

func (l *TestLanguage) NewInstance(opts Options) (Instance, error) {
	if opts.Get("mode", "") == "broken" {
		return nil, errors.New("broken mode")
	}
	inst := &testInstance{lang: l}
	l.count(func(c *TestCounts) {
		c.Instances++
		inst.id = c.Instances
	})
	return inst, nil
}

func (l *TestLanguage) CompatibleOptions(prev, next Options) (bool, error) {
	if l.Compatible != nil {
		return l.Compatible(prev, next)
	}
	return prev.Equal(next), nil
}

type testInstance struct {
	lang *TestLanguage
	id   int
}

func (i *testInstance) CreateContext(env *Env) (LanguageContext, error) {
	i.lang.count(func(c *TestCounts) { c.Contexts++ })
	return &testContext{lang: i.lang, inst: i, env: env, bindings: interop.NewMemberObject(i.lang.ID, nil)}, nil
}

func (i *testInstance) Parse(_ context.Context, src Source) (CallTarget, error) {
	i.lang.count(func(c *TestCounts) { c.Parses++ })
	fields := strings.Fields(src.Text())
	if len(fields) == 0 {
		return nil, glerrors.Guest(i.lang.ID, errors.New("empty source"))
	}
	return CallTargetFunc(func(ctx context.Context, lc LanguageContext) (any, error) {
		return lc.(*testContext).run(ctx, fields)
	}), nil
}

func (i *testInstance) Dispose() {
	i.lang.count(func(c *TestCounts) {
		c.InstancesDisposed++
		c.DisposeOrder = append(c.DisposeOrder, i.id)
	})
}

func (i *testInstance) Patch(prev, next Options) bool {
	if i.lang.RefusePatch {
		return false
	}
	i.lang.count(func(c *TestCounts) { c.Patches++ })
	return true
}

type testContext struct {
	lang     *TestLanguage
	inst     *testInstance
	env      *Env
	bindings *interop.Object
}

func (c *testContext) Bindings() *interop.Object { return c.bindings }

func (c *testContext) Dispose() {
	c.lang.count(func(n *TestCounts) { n.ContextsDisposed++ })
}

func literal(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func literals(fields []string) []any {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = literal(f)
	}
	return args
}

func (c *testContext) run(ctx context.Context, fields []string) (any, error) {
	polyglot := c.env.PolyglotBindings()
	switch cmd, args := fields[0], fields[1:]; {
	case cmd == "value" && len(args) == 1:
		return literal(args[0]), nil
	case cmd == "fail":
		return nil, errors.New(strings.Join(args, " "))
	case cmd == "export" && len(args) == 2:
		return nil, interop.Write(polyglot, args[0], literal(args[1]))
	case cmd == "import" && len(args) == 1:
		return interop.Read(polyglot, args[0])
	case cmd == "call" && len(args) >= 1:
		fn, err := interop.Read(polyglot, args[0])
		if err != nil {
			return nil, err
		}
		return interop.Execute(ctx, fn, literals(args[1:])...)
	case cmd == "invoke" && len(args) >= 2:
		obj, err := interop.Read(polyglot, args[0])
		if err != nil {
			return nil, err
		}
		return interop.Invoke(ctx, obj, args[1], literals(args[2:])...)
	case cmd == "instance":
		return int64(c.inst.id), nil
	case cmd == "object":
		return interop.NewMemberObject("object", nil), nil
	case cmd == "spin":
		select {
		case c.lang.Spinning <- struct{}{}:
		default:
		}
		for {
			if err := c.env.Safepoint(ctx); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
	}
	return nil, glerrors.Guest(c.lang.ID, errors.New("unknown command "+fields[0]))
}
