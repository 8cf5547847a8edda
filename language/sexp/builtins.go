package sexp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/interop"
)

type builtin func(ip *interp, ctx context.Context, args []any) (any, error)

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"+":  arith("+"),
		"-":  arith("-"),
		"*":  arith("*"),
		"/":  arith("/"),
		"%":  arith("%"),
		"=":  compare("="),
		"<":  compare("<"),
		">":  compare(">"),
		"<=": compare("<="),
		">=": compare(">="),

		"not":   fixed("not", 1, func(args []any) (any, error) { return !truthy(args[0]), nil }),
		"str":   func(_ *interp, _ context.Context, args []any) (any, error) { return concat(args), nil },
		"print": builtinPrint,
		"throw": builtinThrow,

		"object": builtinObject,
		"array": func(_ *interp, _ context.Context, args []any) (any, error) {
			return interop.NewArrayObject("array", args, true), nil
		},
		"len":  fixed("len", 1, builtinLen),
		"keys": fixed("keys", 1, func(args []any) (any, error) { return interop.Keys(args[0], false) }),
		"null?": fixed("null?", 1, func(args []any) (any, error) {
			return interop.IsNull(args[0]), nil
		}),

		".":     fixed(".", 2, builtinRead),
		".=":    fixed(".=", 3, builtinWrite),
		".-":    fixed(".-", 2, builtinRemove),
		".call": builtinInvoke,
		"new":   builtinNew,

		"import": builtinImport,
		"export": builtinExport,
		"host":   builtinHost,
	}
}

// fixed adapts a context-free function with an exact argument count.
func fixed(name string, n int, fn func(args []any) (any, error)) builtin {
	return func(_ *interp, _ context.Context, args []any) (any, error) {
		if err := arity(name, args, n, n); err != nil {
			return nil, err
		}
		return fn(args)
	}
}

// number splits a numeric value into its integer or float form.
func number(v any) (i int64, f float64, isInt bool, err error) {
	switch v.(type) {
	case float32, float64:
		f, err = interop.AsFloat64(v)
		return 0, f, false, err
	}
	if interop.FitsInInt64(v) {
		i, err = interop.AsInt64(v)
		return i, float64(i), true, err
	}
	if interop.IsNumber(v) {
		f, err = interop.AsFloat64(v)
		return 0, f, false, err
	}
	return 0, 0, false, fmt.Errorf("expected a number, got %s", display(v))
}

func arith(op string) builtin {
	return func(_ *interp, _ context.Context, args []any) (any, error) {
		switch {
		case len(args) > 0:
		case op == "+":
			return int64(0), nil
		case op == "*":
			return int64(1), nil
		default:
			return nil, fmt.Errorf("%s: %w", op, glerrors.Arity(1, -1, 0))
		}
		ai, af, aInt, err := number(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(args) == 1 && op == "-" {
			if aInt {
				return -ai, nil
			}
			return -af, nil
		}
		for _, arg := range args[1:] {
			bi, bf, bInt, err := number(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if aInt && bInt {
				if (op == "/" || op == "%") && bi == 0 {
					return nil, errors.New("division by zero")
				}
				ai = intOp(op, ai, bi)
				af = float64(ai)
				continue
			}
			if aInt {
				af = float64(ai)
			}
			aInt = false
			af = floatOp(op, af, bf)
		}
		if aInt {
			return ai, nil
		}
		return af, nil
	}
}

func intOp(op string, a, b int64) int64 {
	switch op {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	case "/":
		return a / b
	}
	return a % b
}

func floatOp(op string, a, b float64) float64 {
	switch op {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	case "/":
		return a / b
	}
	return math.Mod(a, b)
}

func compare(op string) builtin {
	return func(_ *interp, _ context.Context, args []any) (any, error) {
		if err := arity(op, args, 2, -1); err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(args); i++ {
			ok, err := compare2(op, args[i], args[i+1])
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

func compare2(op string, a, b any) (bool, error) {
	if interop.IsNumber(a) && interop.IsNumber(b) {
		_, af, _, err := number(a)
		if err != nil {
			return false, err
		}
		_, bf, _, err := number(b)
		if err != nil {
			return false, err
		}
		switch op {
		case "=":
			return af == bf, nil
		case "<":
			return af < bf, nil
		case ">":
			return af > bf, nil
		case "<=":
			return af <= bf, nil
		}
		return af >= bf, nil
	}
	if op == "=" {
		return equal(a, b), nil
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return false, fmt.Errorf("%s: cannot compare %s and %s", op, display(a), display(b))
	}
	switch op {
	case "<":
		return as < bs, nil
	case ">":
		return as > bs, nil
	case "<=":
		return as <= bs, nil
	}
	return as >= bs, nil
}

func equal(a, b any) bool {
	if interop.IsString(a) && interop.IsString(b) {
		as, _ := interop.AsString(a)
		bs, _ := interop.AsString(b)
		return as == bs
	}
	if interop.IsNull(a) || interop.IsNull(b) {
		return interop.IsNull(a) && interop.IsNull(b)
	}
	if interop.IsBoolean(a) && interop.IsBoolean(b) {
		ab, _ := interop.AsBool(a)
		bb, _ := interop.AsBool(b)
		return ab == bb
	}
	return a == b
}

// display renders a value the way print shows it.
func display(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case symbol:
		return string(t)
	case *list:
		return "(...)"
	}
	if interop.IsString(v) {
		s, _ := interop.AsString(v)
		return s
	}
	return interop.Format(v)
}

func concat(args []any) string {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(display(a))
	}
	return b.String()
}

func builtinPrint(ip *interp, _ context.Context, args []any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = display(a)
	}
	_, err := fmt.Fprintln(ip.lc.env.Stdout(), strings.Join(parts, " "))
	return nil, err
}

func builtinThrow(_ *interp, _ context.Context, args []any) (any, error) {
	return nil, errors.New(concat(args))
}

// builtinObject builds a member object from key value pairs.
func builtinObject(_ *interp, _ context.Context, args []any) (any, error) {
	if len(args)%2 != 0 {
		return nil, errors.New("object: expected key value pairs")
	}
	members := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, err := interop.AsString(args[i])
		if err != nil {
			return nil, fmt.Errorf("object: %w", err)
		}
		members[key] = args[i+1]
	}
	return interop.NewMemberObject("object", members), nil
}

func builtinLen(args []any) (any, error) {
	if s, ok := args[0].(string); ok {
		return int64(len([]rune(s))), nil
	}
	return interop.ArraySize(args[0])
}

// index reports whether key addresses an array element.
func index(key any) (int64, bool) {
	if _, isString := key.(string); isString {
		return 0, false
	}
	if interop.FitsInInt64(key) {
		i, _ := interop.AsInt64(key)
		return i, true
	}
	return 0, false
}

func builtinRead(args []any) (any, error) {
	if i, ok := index(args[1]); ok {
		return interop.ReadElement(args[0], i)
	}
	key, err := interop.AsString(args[1])
	if err != nil {
		return nil, err
	}
	return interop.Read(args[0], key)
}

func builtinWrite(args []any) (any, error) {
	if i, ok := index(args[1]); ok {
		return args[2], interop.WriteElement(args[0], i, args[2])
	}
	key, err := interop.AsString(args[1])
	if err != nil {
		return nil, err
	}
	return args[2], interop.Write(args[0], key, args[2])
}

func builtinRemove(args []any) (any, error) {
	if i, ok := index(args[1]); ok {
		return interop.RemoveElement(args[0], i)
	}
	key, err := interop.AsString(args[1])
	if err != nil {
		return nil, err
	}
	return interop.Remove(args[0], key)
}

func builtinInvoke(_ *interp, ctx context.Context, args []any) (any, error) {
	if err := arity(".call", args, 2, -1); err != nil {
		return nil, err
	}
	key, err := interop.AsString(args[1])
	if err != nil {
		return nil, err
	}
	return interop.Invoke(ctx, args[0], key, args[2:]...)
}

func builtinNew(_ *interp, ctx context.Context, args []any) (any, error) {
	if err := arity("new", args, 1, -1); err != nil {
		return nil, err
	}
	return interop.Instantiate(ctx, args[0], args[1:]...)
}

// builtinImport reads a polyglot binding. Missing bindings are null.
func builtinImport(ip *interp, _ context.Context, args []any) (any, error) {
	if err := arity("import", args, 1, 1); err != nil {
		return nil, err
	}
	name, err := interop.AsString(args[0])
	if err != nil {
		return nil, err
	}
	v, err := interop.Read(ip.lc.env.PolyglotBindings(), name)
	if glerrors.KindOf(err) == glerrors.KindUnknownIdentifier {
		return nil, nil
	}
	return v, err
}

func builtinExport(ip *interp, _ context.Context, args []any) (any, error) {
	if err := arity("export", args, 2, 2); err != nil {
		return nil, err
	}
	name, err := interop.AsString(args[0])
	if err != nil {
		return nil, err
	}
	return args[1], interop.Write(ip.lc.env.PolyglotBindings(), name, args[1])
}

// builtinHost calls a session host function: (host "kv_get" (object "key" "k")).
func builtinHost(ip *interp, ctx context.Context, args []any) (any, error) {
	if err := arity("host", args, 1, 2); err != nil {
		return nil, err
	}
	name, err := interop.AsString(args[0])
	if err != nil {
		return nil, err
	}
	host, err := interop.Read(ip.lc.env.PolyglotBindings(), "host")
	if err != nil {
		return nil, err
	}
	return interop.Invoke(ctx, host, name, args[1:]...)
}
