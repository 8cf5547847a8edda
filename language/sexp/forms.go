package sexp

import (
	"context"
	"errors"
	"fmt"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

type specialForm func(ip *interp, ctx context.Context, sc *scope, args []any) (any, error)

var specialForms map[string]specialForm

func init() {
	specialForms = map[string]specialForm{
		"quote": formQuote,
		"def":   formDef,
		"set!":  formSet,
		"fn":    formFn,
		"if":    formIf,
		"do":    formDo,
		"let":   formLet,
		"and":   formAnd,
		"or":    formOr,
		"while": formWhile,
		"try":   formTry,
	}
}

func arity(form string, args []any, min, max int) error {
	if len(args) < min || max >= 0 && len(args) > max {
		return fmt.Errorf("%s: %w", form, glerrors.Arity(min, max, len(args)))
	}
	return nil
}

func symbolArg(form string, x any) (string, error) {
	s, ok := x.(symbol)
	if !ok {
		return "", fmt.Errorf("%s: expected a symbol, got %s", form, display(x))
	}
	return string(s), nil
}

func formQuote(_ *interp, _ context.Context, _ *scope, args []any) (any, error) {
	if err := arity("quote", args, 1, 1); err != nil {
		return nil, err
	}
	return quoted(args[0]), nil
}

// quoted turns a form into data: symbols become strings and lists arrays.
func quoted(x any) any {
	switch t := x.(type) {
	case symbol:
		return string(t)
	case *list:
		elems := make([]any, len(t.items))
		for i, item := range t.items {
			elems[i] = quoted(item)
		}
		return interop.NewArrayObject("array", elems, true)
	}
	return x
}

func formDef(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	if err := arity("def", args, 2, 2); err != nil {
		return nil, err
	}
	name, err := symbolArg("def", args[0])
	if err != nil {
		return nil, err
	}
	v, err := ip.eval(ctx, sc, args[1])
	if err != nil {
		return nil, err
	}
	if err := interop.Write(ip.lc.globals, name, v); err != nil {
		return nil, err
	}
	return v, nil
}

func formSet(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	if err := arity("set!", args, 2, 2); err != nil {
		return nil, err
	}
	name, err := symbolArg("set!", args[0])
	if err != nil {
		return nil, err
	}
	v, err := ip.eval(ctx, sc, args[1])
	if err != nil {
		return nil, err
	}
	if owner, ok := sc.lookup(name); ok {
		owner.vars[name] = v
		return v, nil
	}
	if !interop.KeyInfoOf(ip.lc.globals, name).Existing() {
		return nil, fmt.Errorf("set!: undefined symbol %s", name)
	}
	return v, interop.Write(ip.lc.globals, name, v)
}

// formFn creates a function: (fn (a b & rest) body...).
func formFn(ip *interp, _ context.Context, sc *scope, args []any) (any, error) {
	if err := arity("fn", args, 1, -1); err != nil {
		return nil, err
	}
	plist, ok := args[0].(*list)
	if !ok {
		return nil, errors.New("fn: expected a parameter list")
	}
	var params []string
	var rest string
	for i := 0; i < len(plist.items); i++ {
		p, err := symbolArg("fn", plist.items[i])
		if err != nil {
			return nil, err
		}
		if p == "&" {
			if i != len(plist.items)-2 {
				return nil, errors.New("fn: & must be followed by exactly one parameter")
			}
			if rest, err = symbolArg("fn", plist.items[i+1]); err != nil {
				return nil, err
			}
			break
		}
		params = append(params, p)
	}
	return ip.lambda(sc, "fn", params, rest, args[1:]), nil
}

func formIf(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	if err := arity("if", args, 2, 3); err != nil {
		return nil, err
	}
	cond, err := ip.eval(ctx, sc, args[0])
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return ip.eval(ctx, sc, args[1])
	}
	if len(args) == 3 {
		return ip.eval(ctx, sc, args[2])
	}
	return nil, nil
}

func formDo(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	return ip.evalBody(ctx, sc, args)
}

// formLet binds names in a new scope: (let ((x 1) (y 2)) body...).
func formLet(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	if err := arity("let", args, 1, -1); err != nil {
		return nil, err
	}
	bindings, ok := args[0].(*list)
	if !ok {
		return nil, errors.New("let: expected a binding list")
	}
	local := newScope(sc)
	for _, b := range bindings.items {
		pair, ok := b.(*list)
		if !ok || len(pair.items) != 2 {
			return nil, errors.New("let: each binding must be (name value)")
		}
		name, err := symbolArg("let", pair.items[0])
		if err != nil {
			return nil, err
		}
		if local.vars[name], err = ip.eval(ctx, local, pair.items[1]); err != nil {
			return nil, err
		}
	}
	return ip.evalBody(ctx, local, args[1:])
}

func formAnd(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	var v any = true
	for _, a := range args {
		var err error
		if v, err = ip.eval(ctx, sc, a); err != nil || !truthy(v) {
			return v, err
		}
	}
	return v, nil
}

func formOr(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	var v any
	for _, a := range args {
		var err error
		if v, err = ip.eval(ctx, sc, a); err != nil || truthy(v) {
			return v, err
		}
	}
	return v, nil
}

func formWhile(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	if err := arity("while", args, 1, -1); err != nil {
		return nil, err
	}
	var result any
	for {
		if err := ip.lc.env.Safepoint(ctx); err != nil {
			return nil, err
		}
		cond, err := ip.eval(ctx, sc, args[0])
		if err != nil {
			return nil, err
		}
		if !truthy(cond) {
			return result, nil
		}
		if result, err = ip.evalBody(ctx, sc, args[1:]); err != nil {
			return nil, err
		}
	}
}

// formTry evaluates body and on failure calls handler with the error
// message: (try body handler). Cancellation is never caught.
func formTry(ip *interp, ctx context.Context, sc *scope, args []any) (any, error) {
	if err := arity("try", args, 2, 2); err != nil {
		return nil, err
	}
	v, err := ip.eval(ctx, sc, args[0])
	if err == nil {
		return v, nil
	}
	if glerrors.KindOf(err) == glerrors.KindCancelled || ctx.Err() != nil {
		return nil, err
	}
	handler, herr := ip.eval(ctx, sc, args[1])
	if herr != nil {
		return nil, herr
	}
	return ip.call(ctx, handler, []any{errorMessage(err)})
}

// errorMessage returns the message guest code sees for err. Host failures
// show the original host error.
func errorMessage(err error) string {
	if cause, ok := glerrors.HostCause(err); ok {
		return cause.Error()
	}
	var guest *glerrors.Error
	if errors.As(err, &guest) && guest.Kind == glerrors.KindGuest && guest.Cause != nil {
		return guest.Cause.Error()
	}
	return err.Error()
}
