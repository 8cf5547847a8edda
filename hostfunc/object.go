package hostfunc

import (
	"context"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

// Object exposes the registry to guests as a member object whose members are
// executable. Each function takes at most one argument, an object whose
// members become the args map. Results are converted with interop.FromGo.
func (r *Registry) Object() *interop.Object {
	return &interop.Object{
		Name:    "host",
		Members: func(bool) ([]string, error) { return r.List(), nil },
		MemberInfo: func(key string) interop.KeyInfo {
			if _, ok := r.Get(key); ok {
				return interop.KeyExisting | interop.KeyReadable | interop.KeyInvocable
			}
			return 0
		},
		ReadMember: func(key string) (any, error) {
			fn, ok := r.Get(key)
			if !ok {
				return nil, glerrors.UnknownIdentifier(key)
			}
			return wrap(key, fn), nil
		},
		InvokeMember: func(ctx context.Context, key string, args []any) (any, error) {
			fn, ok := r.Get(key)
			if !ok {
				return nil, glerrors.UnknownIdentifier(key)
			}
			return call(ctx, fn, args)
		},
	}
}

func wrap(name string, fn Func) *interop.Object {
	return interop.NewFunction(name, 0, 1, func(ctx context.Context, args []any) (any, error) {
		return call(ctx, fn, args)
	})
}

func call(ctx context.Context, fn Func, args []any) (any, error) {
	if len(args) > 1 {
		return nil, glerrors.Arity(0, 1, len(args))
	}

	m := map[string]any{}
	if len(args) == 1 && args[0] != nil {
		converted, err := interop.ToGo(args[0])
		if err != nil {
			return nil, err
		}
		var ok bool
		if m, ok = converted.(map[string]any); !ok {
			return nil, glerrors.UnsupportedType("host function arguments must be an object", args[0])
		}
	}

	result, err := fn(ctx, m)
	if err != nil {
		return nil, err
	}
	return interop.FromGo(result)
}
