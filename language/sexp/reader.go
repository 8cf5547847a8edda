package sexp

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// symbol is an identifier in source code. String literals are plain Go
// strings.
type symbol string

// list is a parenthesized form.
type list struct {
	items []any
	line  int
}

// SyntaxError reports malformed source.
type SyntaxError struct {
	Name string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Name, e.Line, e.Msg)
}

type reader struct {
	name string
	src  []rune
	pos  int
	line int
}

// read parses all top-level forms of src.
func read(name, src string) ([]any, error) {
	r := &reader{name: name, src: []rune(src), line: 1}
	var forms []any
	for {
		r.skip()
		if r.pos >= len(r.src) {
			return forms, nil
		}
		form, err := r.form()
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}
}

func (r *reader) errorf(format string, args ...any) error {
	return &SyntaxError{Name: r.name, Line: r.line, Msg: fmt.Sprintf(format, args...)}
}

// skip moves past whitespace and ; comments.
func (r *reader) skip() {
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		switch {
		case c == '\n':
			r.line++
			r.pos++
		case unicode.IsSpace(c):
			r.pos++
		case c == ';':
			for r.pos < len(r.src) && r.src[r.pos] != '\n' {
				r.pos++
			}
		default:
			return
		}
	}
}

func (r *reader) form() (any, error) {
	switch c := r.src[r.pos]; c {
	case '(':
		return r.list()
	case ')':
		return nil, r.errorf("unexpected )")
	case '"':
		return r.string()
	case '\'':
		r.pos++
		r.skip()
		if r.pos >= len(r.src) {
			return nil, r.errorf("quote at end of input")
		}
		quoted, err := r.form()
		if err != nil {
			return nil, err
		}
		return &list{items: []any{symbol("quote"), quoted}, line: r.line}, nil
	}
	return r.atom(), nil
}

func (r *reader) list() (any, error) {
	l := &list{line: r.line}
	r.pos++
	for {
		r.skip()
		if r.pos >= len(r.src) {
			return nil, &SyntaxError{Name: r.name, Line: l.line, Msg: "unclosed ("}
		}
		if r.src[r.pos] == ')' {
			r.pos++
			return l, nil
		}
		item, err := r.form()
		if err != nil {
			return nil, err
		}
		l.items = append(l.items, item)
	}
}

func (r *reader) string() (any, error) {
	var b strings.Builder
	r.pos++
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		r.pos++
		switch c {
		case '"':
			return b.String(), nil
		case '\n':
			r.line++
		case '\\':
			if r.pos >= len(r.src) {
				return nil, r.errorf("unterminated string")
			}
			esc := r.src[r.pos]
			r.pos++
			switch esc {
			case 'n':
				c = '\n'
			case 't':
				c = '\t'
			case '"', '\\':
				c = esc
			default:
				return nil, r.errorf("unknown escape \\%c", esc)
			}
		}
		b.WriteRune(c)
	}
	return nil, r.errorf("unterminated string")
}

func (r *reader) atom() any {
	start := r.pos
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if unicode.IsSpace(c) || c == '(' || c == ')' || c == '"' || c == ';' {
			break
		}
		r.pos++
	}
	tok := string(r.src[start:r.pos])

	switch tok {
	case "nil":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil && strings.ContainsAny(tok, "0123456789") {
		return f
	}
	return symbol(tok)
}
