package engine

import (
	"context"
	"io"
	"maps"
	"slices"

	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"github.com/caffeineduck/glot/access"
	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/hostfunc"
	"github.com/caffeineduck/glot/interop"
)

// Env is what a language context sees of its session.
type Env struct {
	session *Session
	info    LanguageInfo
	options Options
	logger  *zap.Logger
}

func newEnv(s *Session, info LanguageInfo, opts Options) *Env {
	return &Env{
		session: s,
		info:    info,
		options: maps.Clone(opts),
		logger:  s.logger.With(zap.String("language", info.ID)),
	}
}

// Language returns the info of the language the context belongs to.
func (e *Env) Language() LanguageInfo { return e.info }

// Options returns the resolved language options of the session.
func (e *Env) Options() Options { return e.options }

func (e *Env) Stdout() io.Writer { return e.session.cfg.stdout }
func (e *Env) Stderr() io.Writer { return e.session.cfg.stderr }

func (e *Env) Logger() *zap.Logger { return e.logger }

// PolyglotBindings returns the bindings shared by all languages.
func (e *Env) PolyglotBindings() *interop.Object { return e.session.polyglot }

// HostFunctions returns the session's host function registry.
func (e *Env) HostFunctions() *hostfunc.Registry { return e.session.registry }

func (e *Env) HostAccess() access.HostAccess { return e.session.cfg.hostAccess }
func (e *Env) IO() access.IOAccess           { return e.session.cfg.io }

// FileSystem returns the custom filesystem of the session, or nil.
func (e *Env) FileSystem() billy.Filesystem { return e.session.cfg.io.FileSystem() }

// Environment returns the effective environment variables.
func (e *Env) Environment() map[string]string {
	return e.session.cfg.envAccess.Resolve(e.session.cfg.env)
}

// Mounts returns the filesystem mounts of the session.
func (e *Env) Mounts() []hostfunc.Mount { return slices.Clone(e.session.cfg.mounts) }

// WorkingDirectory returns the configured working directory, or "".
func (e *Env) WorkingDirectory() string { return e.session.cfg.cwd }

func (e *Env) AllowsCreateProcess() bool { return e.session.cfg.createProcess }

// ToGuest converts a Go value for use by guest code. Values other than
// primitives and interop objects become host objects.
func (e *Env) ToGuest(v any) (any, error) { return e.session.toGuest(v) }

// Safepoint returns a cancellation error once ctx or the session has been
// cancelled. Languages call it regularly while running guest code.
func (e *Env) Safepoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return glerrors.Cancelled(context.Cause(ctx))
	}
	if e.session.done.Err() != nil {
		return glerrors.Cancelled(context.Cause(e.session.done))
	}
	return nil
}
