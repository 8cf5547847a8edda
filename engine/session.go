package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/hostfunc"
	"github.com/caffeineduck/glot/interop"
)

var sessionIDs atomic.Uint64

// errSessionClosed is the cancellation cause of a closed session.
var errSessionClosed = errors.New("session closed")

type langContext struct {
	info LanguageInfo
	slot *slot
	lc   LanguageContext
	env  *Env
}

// Session is an execution context for guest code of one or more languages.
// Threads enter a session before using it; Eval and the Value operations
// enter and leave implicitly when the calling thread is not entered.
type Session struct {
	id       uint64
	engine   *Engine
	bound    bool
	cfg      config
	logger   *zap.Logger
	registry *hostfunc.Registry
	polyglot *interop.Object
	langOpts map[string]Options

	done   context.Context
	cancel context.CancelCauseFunc

	initMu sync.Mutex
	values *valueCache

	mu        sync.Mutex
	contexts  map[string]*langContext
	order     []string
	entered   map[*Thread]int
	executing int
	changed   chan struct{}
	arenas    map[*arena]struct{}
	closing   bool
	closed    bool
}

func newSession(e *Engine, cfg *config) (*Session, error) {
	for _, id := range cfg.permitted {
		if _, ok := e.languages[id]; !ok {
			return nil, glerrors.Config("WithPermittedLanguages: language %q is not installed", id)
		}
	}
	langOpts, err := e.resolveOptions(cfg.options)
	if err != nil {
		return nil, err
	}

	done, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		id:       sessionIDs.Add(1),
		engine:   e,
		bound:    e.bound,
		cfg:      *cfg,
		langOpts: langOpts,
		done:     done,
		cancel:   cancel,
		values:   newValueCache(),
		contexts: make(map[string]*langContext),
		entered:  make(map[*Thread]int),
		changed:  make(chan struct{}),
		arenas:   make(map[*arena]struct{}),
	}
	s.logger = e.logger.With(zap.Uint64("session", s.id))
	s.registry = s.hostFunctions()
	s.polyglot = interop.NewMemberObject("polyglot", map[string]any{
		"host": s.registry.Object(),
	})

	if err := e.addSession(s); err != nil {
		cancel(errSessionClosed)
		return nil, err
	}
	s.logger.Debug("session created",
		zap.Stringer("host_access", s.cfg.hostAccess),
		zap.Stringer("io", s.cfg.io),
		zap.Strings("host_functions", s.registry.List()))
	return s, nil
}

// hostFunctions builds the session registry from the user functions and
// the services its capabilities allow.
func (s *Session) hostFunctions() *hostfunc.Registry {
	r := hostfunc.NewRegistry()
	if s.cfg.hostFuncs != nil {
		r = s.cfg.hostFuncs.Clone()
	}
	r.Register("time_now", hostfunc.TimeNow)

	if s.cfg.io.AllowsFiles() {
		mounts := slices.Clone(s.cfg.mounts)
		if fs := s.cfg.io.FileSystem(); fs != nil {
			mounts = append(mounts, hostfunc.Mount{VirtualPath: "/", FS: fs, Mode: hostfunc.MountReadWriteCreate})
		}
		if len(mounts) > 0 {
			hostfunc.NewFS(mounts).Register(r)
		}
	}
	if s.cfg.io.AllowsHostSocketAccess() && len(s.cfg.allowedHosts) > 0 {
		hostfunc.NewHTTP(hostfunc.HTTPConfig{AllowedHosts: s.cfg.allowedHosts}).Register(r)
	}
	if s.cfg.kv != nil {
		hostfunc.NewKV(*s.cfg.kv).Register(r)
	}
	if s.cfg.createProcess {
		hostfunc.NewProcess(hostfunc.ProcessConfig{
			Env: s.cfg.envAccess.Resolve(s.cfg.env),
			Dir: s.cfg.cwd,
		}).Register(r)
	}
	return r
}

func (s *Session) String() string { return fmt.Sprintf("session-%d", s.id) }

// Engine returns the owning engine.
func (s *Session) Engine() *Engine { return s.engine }

// Enter makes s the current session of t. Entering is reentrant; every
// Enter must be matched by a Leave with the returned token. A thread that
// must leave from inside a host callback has to enter explicitly first.
func (s *Session) Enter(t *Thread) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.closing {
		return Token{}, glerrors.IllegalState("session is closed")
	}
	if s.entered[t] == 0 && len(s.entered) > 0 {
		if err := s.checkMultiThreaded(t, s.singleThreaded()); err != nil {
			return Token{}, err
		}
	}
	s.entered[t]++
	tok := t.push(s)
	s.notify()
	return tok, nil
}

// Leave undoes the Enter that returned tok. Leaving a closed session is
// allowed so that threads can unwind after a forced close.
func (s *Session) Leave(t *Thread, tok Token) error {
	if err := t.pop(s, tok); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entered[t]--; s.entered[t] <= 0 {
		delete(s.entered, t)
	}
	s.notify()
	return nil
}

func (s *Session) singleThreaded() []string {
	var ids []string
	for id, lc := range s.contexts {
		if lc.info.SingleThreaded {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Session) checkMultiThreaded(t *Thread, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return glerrors.IllegalState(
		"Multi threaded access requested by thread %s but is not allowed for language(s) %s.",
		t, strings.Join(ids, ", "))
}

// notify wakes waiters. Callers hold s.mu.
func (s *Session) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) isEntered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entered) > 0
}

// run executes fn with s entered on the context's thread, entering and
// leaving implicitly when needed. The context passed to fn is cancelled
// when the session is cancelled.
func (s *Session) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	t, ctx := threadOf(ctx)
	if t.top() != s {
		tok, err := s.Enter(t)
		if err != nil {
			return err
		}
		defer func() {
			if lerr := s.Leave(t, tok); lerr != nil && err == nil {
				err = lerr
			}
		}()
	}

	if err := s.beginExec(); err != nil {
		return err
	}
	defer s.endExec()

	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.done, func() { cancel(context.Cause(s.done)) })
	defer func() {
		stop()
		cancel(nil)
	}()
	return fn(ctx)
}

func (s *Session) beginExec() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return glerrors.IllegalState("session is closed")
	}
	if s.done.Err() != nil {
		return glerrors.Cancelled(context.Cause(s.done))
	}
	s.executing++
	return nil
}

func (s *Session) endExec() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executing--
	s.notify()
}

// Close closes the session. It fails while the calling thread (carried by
// ctx) is entered. If other threads are entered, Close fails unless force
// is set, in which case running guest code is cancelled and Close waits,
// bounded by ctx, for it to stop.
func (s *Session) Close(ctx context.Context, force bool) error {
	t, _ := ThreadFrom(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if t != nil && s.entered[t] > 0 {
		s.mu.Unlock()
		return glerrors.IllegalState("session is entered on the calling thread %s", t)
	}
	if len(s.entered) > 0 && !force {
		s.mu.Unlock()
		return glerrors.IllegalState("session is currently executing on another thread")
	}
	s.closing = true
	s.mu.Unlock()

	if force {
		s.cancel(errSessionClosed)
		if err := s.waitIdle(ctx); err != nil {
			s.mu.Lock()
			s.closing = false
			s.mu.Unlock()
			return err
		}
	}

	if err := s.shutdown(); err != nil {
		return err
	}
	s.engine.removeSession(s)
	if s.bound {
		return s.engine.close(false)
	}
	return nil
}

func (s *Session) waitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.executing == 0 {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("wait for executing threads: %w", ctx.Err())
		}
	}
}

// shutdown disposes the language contexts, detaches from pool slots and
// releases handles.
func (s *Session) shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	contexts := make([]*langContext, 0, len(s.order))
	for _, id := range slices.Backward(s.order) {
		contexts = append(contexts, s.contexts[id])
	}
	s.contexts = make(map[string]*langContext)
	s.order = nil
	arenas := make([]*arena, 0, len(s.arenas))
	for a := range s.arenas {
		arenas = append(arenas, a)
	}
	s.mu.Unlock()

	s.cancel(errSessionClosed)
	for _, a := range arenas {
		a.close(true)
	}
	s.values.releaseAll()
	for _, lc := range contexts {
		lc.lc.Dispose()
		lc.slot.pool.release(lc.slot)
	}
	s.logger.Debug("session closed", zap.Int("languages", len(contexts)))
	return nil
}

// Closed reports whether the session is closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Cancelled reports whether a forced close cancelled the session.
func (s *Session) Cancelled() bool { return s.done.Err() != nil }

// languageContext returns the context of a language, creating it on first
// use. The session must be entered.
func (s *Session) languageContext(id string) (*langContext, error) {
	s.mu.Lock()
	lc, ok := s.contexts[id]
	s.mu.Unlock()
	if ok {
		return lc, nil
	}

	reg, ok := s.engine.languages[id]
	if !ok {
		return nil, glerrors.IllegalState("language %q is not installed, installed languages are %s",
			id, strings.Join(s.engine.languageIDs(), ", "))
	}
	if len(s.cfg.permitted) > 0 && !slices.Contains(s.cfg.permitted, id) {
		return nil, glerrors.IllegalState("language %q is not permitted in this session", id)
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if lc, ok := s.contexts[id]; ok {
		s.mu.Unlock()
		return lc, nil
	}
	if reg.info.SingleThreaded && len(s.entered) > 1 {
		var other *Thread
		for t := range s.entered {
			other = t
			break
		}
		s.mu.Unlock()
		return nil, s.checkMultiThreaded(other, []string{id})
	}
	s.mu.Unlock()

	sl, err := reg.pool.acquire(s.langOpts[id])
	if err != nil {
		return nil, s.guestError(id, err)
	}
	env := newEnv(s, reg.info, sl.opts)
	created, err := sl.inst.CreateContext(env)
	if err != nil {
		reg.pool.release(sl)
		return nil, s.guestError(id, err)
	}

	lc = &langContext{info: reg.info, slot: sl, lc: created, env: env}
	s.mu.Lock()
	s.contexts[id] = lc
	s.order = append(s.order, id)
	s.mu.Unlock()
	return lc, nil
}

// Initialize creates the context of a language without evaluating code.
func (s *Session) Initialize(ctx context.Context, id string) error {
	return s.run(ctx, func(context.Context) error {
		_, err := s.languageContext(id)
		return err
	})
}

// Eval parses and executes src.
func (s *Session) Eval(ctx context.Context, src Source) (*Value, error) {
	var result *Value
	err := s.run(ctx, func(ctx context.Context) error {
		lc, err := s.languageContext(src.Language)
		if err != nil {
			return err
		}
		target, err := lc.slot.parse(ctx, src, s.engine.sourceCache)
		if err != nil {
			return s.guestError(src.Language, err)
		}
		out, err := target.Execute(ctx, lc.lc)
		if err != nil {
			return s.guestError(src.Language, err)
		}
		result = s.wrap(out)
		return nil
	})
	if err != nil {
		return s.recover(err)
	}
	return result, nil
}

// Parse parses src without executing it. The returned value is executable
// and runs the code each time it is executed.
func (s *Session) Parse(ctx context.Context, src Source) (*Value, error) {
	var result *Value
	err := s.run(ctx, func(ctx context.Context) error {
		lc, err := s.languageContext(src.Language)
		if err != nil {
			return err
		}
		target, err := lc.slot.parse(ctx, src, s.engine.sourceCache)
		if err != nil {
			return s.guestError(src.Language, err)
		}
		name := src.Name
		if name == "" {
			name = src.Language
		}
		result = s.wrap(interop.NewFunction(name, 0, 0, func(ctx context.Context, _ []any) (any, error) {
			out, err := target.Execute(ctx, lc.lc)
			if err != nil {
				return nil, s.guestError(src.Language, err)
			}
			return out, nil
		}))
		return nil
	})
	if err != nil {
		return s.recover(err)
	}
	return result, nil
}

// Bindings returns the top-level scope of a language.
func (s *Session) Bindings(ctx context.Context, id string) (*Value, error) {
	var result *Value
	err := s.run(ctx, func(context.Context) error {
		lc, err := s.languageContext(id)
		if err != nil {
			return err
		}
		result = s.wrap(lc.lc.Bindings())
		return nil
	})
	return result, err
}

// PolyglotBindings returns the bindings shared by all languages of the
// session. The member "host" holds the session's host functions.
func (s *Session) PolyglotBindings(ctx context.Context) (*Value, error) {
	var result *Value
	err := s.run(ctx, func(context.Context) error {
		result = s.wrap(s.polyglot)
		return nil
	})
	return result, err
}

// AsValue wraps a Go value. Primitives and interop objects are used as is;
// other values become host objects subject to the session's HostAccess.
func (s *Session) AsValue(v any) (*Value, error) {
	if s.Closed() {
		return nil, glerrors.IllegalState("session is closed")
	}
	g, err := s.toGuest(v)
	if err != nil {
		return nil, err
	}
	return s.wrap(g), nil
}

// HostFunctions returns the names of the host functions installed for the
// session.
func (s *Session) HostFunctions() []string { return s.registry.List() }

// guestError classifies an error raised by a language. Errors already
// carrying a kind pass through; context errors become cancellations.
func (s *Session) guestError(lang string, err error) error {
	var gerr *glerrors.Error
	if errors.As(err, &gerr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return glerrors.Cancelled(err)
	}
	return glerrors.Guest(lang, err)
}

// handle offers guest-visible errors to the exception handler.
func (s *Session) handle(err error) error {
	if !glerrors.IsGuestVisible(err) {
		return err
	}
	h := s.cfg.sessionHandler
	if h == nil {
		h = s.engine.handler
	}
	if h == nil {
		return err
	}
	return h(err)
}

// recover runs err through the exception handler. A handler that swallows
// the error turns the result into null.
func (s *Session) recover(err error) (*Value, error) {
	if err = s.handle(err); err != nil {
		return nil, err
	}
	return s.wrap(nil), nil
}
