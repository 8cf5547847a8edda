package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	glerrors "github.com/caffeineduck/glot/errors"
)

var threadIDs atomic.Uint64

// Thread is the identity of a host thread of control participating in the
// enter/leave discipline. Go has no goroutine identity, so host code creates
// one Thread per goroutine that enters sessions and passes it explicitly or
// through a context with WithThread. A Thread must not be used by two
// goroutines at the same time.
type Thread struct {
	id   uint64
	name string

	mu    sync.Mutex
	stack []*Session
}

// NewThread creates a thread identity. The name appears in error messages.
func NewThread(name string) *Thread {
	id := threadIDs.Add(1)
	if name == "" {
		name = fmt.Sprintf("thread-%d", id)
	}
	return &Thread{id: id, name: name}
}

func (t *Thread) ID() uint64     { return t.id }
func (t *Thread) String() string { return t.name }

// Current returns the innermost entered session.
func (t *Thread) Current() (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.stack) == 0 {
		return nil, glerrors.IllegalState("no session entered")
	}
	return t.stack[len(t.stack)-1], nil
}

// Depth returns the number of entered sessions.
func (t *Thread) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

func (t *Thread) top() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}

func (t *Thread) push(s *Session) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := Token{thread: t, depth: len(t.stack)}
	if len(t.stack) > 0 {
		tok.prev = t.stack[len(t.stack)-1]
	}
	t.stack = append(t.stack, s)
	return tok
}

func (t *Thread) pop(s *Session, tok Token) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case len(t.stack) == 0:
		return glerrors.IllegalState("leave without matching enter: no session entered on %s", t)
	case t.stack[len(t.stack)-1] != s:
		return glerrors.IllegalState("leave does not match the innermost entered session on %s", t)
	}
	var prev *Session
	if n := len(t.stack); n > 1 {
		prev = t.stack[n-2]
	}
	if tok.thread != t || tok.depth != len(t.stack)-1 || tok.prev != prev {
		return glerrors.IllegalState("leave with a token from a different enter")
	}
	t.stack[len(t.stack)-1] = nil
	t.stack = t.stack[:len(t.stack)-1]
	return nil
}

// Token is returned by Session.Enter and must be passed to the matching
// Session.Leave. It records the previously entered session.
type Token struct {
	thread *Thread
	prev   *Session
	depth  int
}

// Previous returns the session that was current before the enter.
func (tok Token) Previous() *Session { return tok.prev }

type threadKey struct{}

// WithThread returns a context carrying t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFrom returns the thread carried by ctx.
func ThreadFrom(ctx context.Context) (*Thread, bool) {
	t, ok := ctx.Value(threadKey{}).(*Thread)
	return t, ok && t != nil
}

// Current returns the innermost session entered by the thread in ctx.
func Current(ctx context.Context) (*Session, error) {
	t, ok := ThreadFrom(ctx)
	if !ok {
		return nil, glerrors.IllegalState("no session entered")
	}
	return t.Current()
}

// threadOf returns the context's thread or a fresh anonymous one together
// with a context carrying it.
func threadOf(ctx context.Context) (*Thread, context.Context) {
	if t, ok := ThreadFrom(ctx); ok {
		return t, ctx
	}
	t := NewThread("")
	return t, WithThread(ctx, t)
}
