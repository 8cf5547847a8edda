package sexp

import (
	"context"
	"errors"
	"fmt"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

type scope struct {
	vars   map[string]any
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]any), parent: parent}
}

func (s *scope) lookup(name string) (*scope, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if _, ok := sc.vars[name]; ok {
			return sc, true
		}
	}
	return nil, false
}

type depthKey struct{}

// depthOf returns the call depth carried by ctx.
func depthOf(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// interp evaluates forms for one language context.
type interp struct {
	lc    *langContext
	depth int
}

var errDepth = errors.New("maximum call depth exceeded")

func (ip *interp) eval(ctx context.Context, sc *scope, x any) (any, error) {
	switch t := x.(type) {
	case symbol:
		return ip.resolve(sc, string(t))
	case *list:
		return ip.evalList(ctx, sc, t)
	}
	return x, nil
}

func (ip *interp) resolve(sc *scope, name string) (any, error) {
	if owner, ok := sc.lookup(name); ok {
		return owner.vars[name], nil
	}
	v, err := interop.Read(ip.lc.globals, name)
	if glerrors.KindOf(err) == glerrors.KindUnknownIdentifier {
		return nil, fmt.Errorf("undefined symbol %s", name)
	}
	return v, err
}

func (ip *interp) evalList(ctx context.Context, sc *scope, l *list) (any, error) {
	if len(l.items) == 0 {
		return nil, nil
	}
	if err := ip.lc.env.Safepoint(ctx); err != nil {
		return nil, err
	}

	if head, ok := l.items[0].(symbol); ok {
		if _, shadowed := sc.lookup(string(head)); !shadowed {
			if form, ok := specialForms[string(head)]; ok {
				return form(ip, ctx, sc, l.items[1:])
			}
			if fn, ok := builtins[string(head)]; ok {
				args, err := ip.evalAll(ctx, sc, l.items[1:])
				if err != nil {
					return nil, err
				}
				return fn(ip, ctx, args)
			}
		}
	}

	fn, err := ip.eval(ctx, sc, l.items[0])
	if err != nil {
		return nil, err
	}
	args, err := ip.evalAll(ctx, sc, l.items[1:])
	if err != nil {
		return nil, err
	}
	return ip.call(ctx, fn, args)
}

func (ip *interp) evalAll(ctx context.Context, sc *scope, forms []any) ([]any, error) {
	out := make([]any, len(forms))
	for i, f := range forms {
		v, err := ip.eval(ctx, sc, f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (ip *interp) evalBody(ctx context.Context, sc *scope, body []any) (any, error) {
	var result any
	for _, f := range body {
		var err error
		if result, err = ip.eval(ctx, sc, f); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// call executes fn one level deeper.
func (ip *interp) call(ctx context.Context, fn any, args []any) (any, error) {
	if ip.depth+1 > ip.lc.maxDepth {
		return nil, errDepth
	}
	return interop.Execute(context.WithValue(ctx, depthKey{}, ip.depth+1), fn, args...)
}

// lambda creates an executable object for a fn form.
func (ip *interp) lambda(sc *scope, name string, params []string, rest string, body []any) *interop.Object {
	max := len(params)
	if rest != "" {
		max = -1
	}
	lc := ip.lc
	return interop.NewFunction(name, len(params), max, func(ctx context.Context, args []any) (any, error) {
		call := &interp{lc: lc, depth: depthOf(ctx)}
		local := newScope(sc)
		for i, p := range params {
			local.vars[p] = args[i]
		}
		if rest != "" {
			local.vars[rest] = interop.NewArrayObject("array", args[len(params):], true)
		}
		v, err := call.evalBody(ctx, local, body)
		if err != nil {
			return nil, guestError(err)
		}
		return v, nil
	})
}

// guestError marks errors raised by sexp code so callers in other languages
// do not mistake them for host failures.
func guestError(err error) error {
	var kinded *glerrors.Error
	if errors.As(err, &kinded) {
		return err
	}
	return glerrors.Guest(ID, err)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	}
	if interop.IsNull(v) {
		return false
	}
	if interop.IsBoolean(v) {
		b, _ := interop.AsBool(v)
		return b
	}
	return true
}
