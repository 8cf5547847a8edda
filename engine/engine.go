package engine

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	glerrors "github.com/caffeineduck/glot/errors"
)

// LanguageStats reports the pool state of one language.
type LanguageStats struct {
	Policy        Policy
	Live          int
	Retained      int
	Created       int
	Disposed      int
	Patched       int
	CachedSources int
	Parses        int64
}

type registered struct {
	lang     Language
	info     LanguageInfo
	defaults Options
	pool     *pool
}

// Engine owns the language registry and the instance pool shared by its
// sessions. Engines are safe for concurrent use.
type Engine struct {
	logger      *zap.Logger
	handler     ExceptionHandler
	sourceCache bool
	languages   map[string]*registered
	bound       bool

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// New creates an engine.
//
//	e, err := engine.New(engine.WithLanguages(sexp.New()))
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
func New(opts ...Option) (*Engine, error) {
	cfg := newConfig(opts)
	if err := cfg.validateEngine(); err != nil {
		return nil, err
	}
	return newEngine(&cfg, false)
}

func newEngine(cfg *config, bound bool) (*Engine, error) {
	logger := cfg.logger
	if logger == nil {
		logger = Logger()
	}

	e := &Engine{
		logger:      logger,
		handler:     cfg.handler,
		sourceCache: true,
		languages:   make(map[string]*registered),
		bound:       bound,
		sessions:    make(map[*Session]struct{}),
	}

	for _, lang := range cfg.languages {
		info := lang.Info()
		if info.ID == "" {
			return nil, glerrors.Config("language has no id")
		}
		if _, dup := e.languages[info.ID]; dup {
			return nil, glerrors.Config("language %q registered twice", info.ID)
		}
		e.languages[info.ID] = &registered{
			lang:     lang,
			info:     info,
			defaults: Options(maps.Clone(info.Options)),
			pool:     newPool(lang, info, logger),
		}
	}

	for _, key := range slices.Sorted(maps.Keys(cfg.options)) {
		value := cfg.options[key]
		group, name, err := splitOptionKey(key)
		if err != nil {
			return nil, err
		}
		if group == "engine" {
			if key != OptionSourceCache {
				return nil, glerrors.Config("unknown option %q", key)
			}
			if e.sourceCache, err = parseBoolOption(key, value); err != nil {
				return nil, err
			}
			continue
		}
		reg, err := e.language(group, name, key)
		if err != nil {
			return nil, err
		}
		if !bound {
			reg.defaults[name] = value
		}
	}

	logger.Debug("engine created",
		zap.Strings("languages", e.languageIDs()),
		zap.Bool("source_cache", e.sourceCache),
		zap.Bool("bound", bound))
	return e, nil
}

func (e *Engine) language(group, name, key string) (*registered, error) {
	reg, ok := e.languages[group]
	if !ok {
		return nil, glerrors.Config("unknown option %q: language %q is not installed", key, group)
	}
	if _, ok := reg.info.Options[name]; !ok {
		return nil, glerrors.Config("unknown option %q", key)
	}
	return reg, nil
}

// resolveOptions merges session-level language options over the engine
// defaults.
func (e *Engine) resolveOptions(overrides map[string]string) (map[string]Options, error) {
	resolved := make(map[string]Options, len(e.languages))
	for id, reg := range e.languages {
		resolved[id] = maps.Clone(reg.defaults)
	}
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		group, name, err := splitOptionKey(key)
		if err != nil {
			return nil, err
		}
		if group == "engine" {
			continue
		}
		if _, err := e.language(group, name, key); err != nil {
			return nil, err
		}
		resolved[group][name] = overrides[key]
	}
	return resolved, nil
}

func (e *Engine) languageIDs() []string {
	return slices.Sorted(maps.Keys(e.languages))
}

// Languages returns the installed languages sorted by id.
func (e *Engine) Languages() []LanguageInfo {
	infos := make([]LanguageInfo, 0, len(e.languages))
	for _, id := range e.languageIDs() {
		infos = append(infos, e.languages[id].info)
	}
	return infos
}

// Language returns the info of an installed language.
func (e *Engine) Language(id string) (LanguageInfo, bool) {
	reg, ok := e.languages[id]
	if !ok {
		return LanguageInfo{}, false
	}
	return reg.info, true
}

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Stats returns pool statistics per language id.
func (e *Engine) Stats() map[string]LanguageStats {
	stats := make(map[string]LanguageStats, len(e.languages))
	for id, reg := range e.languages {
		stats[id] = reg.pool.stats()
	}
	return stats
}

// NewSession creates a session attached to e.
func (e *Engine) NewSession(opts ...Option) (*Session, error) {
	cfg := newConfig(opts)
	if cfg.engine != nil && cfg.engine != e {
		return nil, glerrors.Config("WithEngine names a different engine")
	}
	cfg.engine = e
	if err := cfg.validateSession(); err != nil {
		return nil, err
	}
	return newSession(e, &cfg)
}

// NewSession creates a session. Without WithEngine, a bound engine is
// created from the engine options and closed together with the session.
func NewSession(opts ...Option) (*Session, error) {
	cfg := newConfig(opts)
	if err := cfg.validateSession(); err != nil {
		return nil, err
	}
	if cfg.engine != nil {
		return newSession(cfg.engine, &cfg)
	}

	e, err := newEngine(&cfg, true)
	if err != nil {
		return nil, err
	}
	s, err := newSession(e, &cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	return s, nil
}

func (e *Engine) addSession(s *Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return glerrors.IllegalState("engine is closed")
	}
	e.sessions[s] = struct{}{}
	return nil
}

func (e *Engine) removeSession(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, s)
}

// Close closes every remaining session and drops all instances. It fails
// while any session is entered by any thread. Closing twice is a no-op.
func (e *Engine) Close() error {
	return e.close(true)
}

// close optionally skips the entered check, for a bound engine closed by
// a forced session close.
func (e *Engine) close(checkEntered bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	for s := range e.sessions {
		if checkEntered && s.isEntered() {
			e.mu.Unlock()
			return glerrors.IllegalState("engine has a session that is currently entered")
		}
	}
	e.closed = true
	sessions := slices.Collect(maps.Keys(e.sessions))
	e.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, reg := range e.languages {
		reg.pool.close()
	}
	e.logger.Debug("engine closed", zap.Int("sessions", len(sessions)))
	return errors.Join(errs...)
}

// Closed reports whether Close has completed.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
