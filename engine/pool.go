package engine

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type slotState int

const (
	slotLive slotState = iota
	slotRetained
	slotDisposed
)

func (s slotState) String() string {
	switch s {
	case slotLive:
		return "live"
	case slotRetained:
		return "retained"
	}
	return "disposed"
}

// slot is one language instance in the pool.
type slot struct {
	pool  *pool
	inst  Instance
	opts  Options
	state slotState
	refs  int
	cache *parseCache
}

// pool holds the instances of one language. Mutations are serialized so
// that the compatibility check and the attach happen atomically.
type pool struct {
	lang   Language
	info   LanguageInfo
	logger *zap.Logger

	mu       sync.Mutex
	slots    []*slot
	created  int
	disposed int
	patched  int
	parses   atomic.Int64
}

func newPool(lang Language, info LanguageInfo, logger *zap.Logger) *pool {
	return &pool{lang: lang, info: info, logger: logger.With(zap.String("language", info.ID))}
}

// acquire returns a slot serving opts with its reference count incremented.
func (p *pool) acquire(opts Options) (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.info.Policy {
	case PolicyShared:
		for _, s := range p.slots {
			if s.state == slotLive && p.compatible(s.opts, opts) {
				s.refs++
				p.logger.Debug("attached to shared instance", zap.Int("refs", s.refs))
				return s, nil
			}
		}
	case PolicyReuse:
		for _, s := range slices.Clone(p.slots) {
			if s.state != slotRetained || !p.compatible(s.opts, opts) {
				continue
			}
			// A refused patch means the instance will never serve these
			// options again, so it is reclaimed.
			if !s.inst.(Patcher).Patch(s.opts, opts) {
				s.state = slotDisposed
				p.remove(s)
				p.logger.Debug("retained instance refused patch", zap.Int("instances", len(p.slots)))
				continue
			}
			s.opts = maps.Clone(opts)
			s.state = slotLive
			s.refs = 1
			p.patched++
			p.logger.Debug("reused retained instance")
			return s, nil
		}
	}
	return p.construct(opts)
}

func (p *pool) construct(opts Options) (*slot, error) {
	inst, err := p.lang.NewInstance(maps.Clone(opts))
	if err != nil {
		return nil, err
	}
	s := &slot{
		pool:  p,
		inst:  inst,
		opts:  maps.Clone(opts),
		state: slotLive,
		refs:  1,
		cache: newParseCache(),
	}
	p.slots = append(p.slots, s)
	p.created++
	p.logger.Debug("created instance",
		zap.Stringer("policy", p.info.Policy),
		zap.Int("instances", len(p.slots)))
	return s, nil
}

func (p *pool) compatible(prev, next Options) bool {
	cmp, ok := p.lang.(OptionsComparer)
	if !ok {
		return prev.Equal(next)
	}
	compatible, err := cmp.CompatibleOptions(prev, next)
	if err != nil {
		p.logger.Warn("option compatibility check failed", zap.Error(err))
		return false
	}
	return compatible
}

// release drops one reference. The instance is disposed when the last one
// goes away. REUSE instances that can be patched are then retained for later
// sessions.
func (p *pool) release(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.state != slotLive || s.refs == 0 {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}

	s.inst.Dispose()
	p.disposed++
	if _, ok := s.inst.(Patcher); ok && p.info.Policy == PolicyReuse {
		p.evictRetained(s)
		s.state = slotRetained
		p.logger.Debug("retained instance")
		return
	}
	s.state = slotDisposed
	p.remove(s)
	p.logger.Debug("disposed instance", zap.Int("instances", len(p.slots)))
}

// evictRetained drops retained slots that s makes redundant, keeping at
// most one retained instance per set of compatible options.
func (p *pool) evictRetained(s *slot) {
	for _, other := range slices.Clone(p.slots) {
		if other != s && other.state == slotRetained && p.compatible(other.opts, s.opts) {
			other.state = slotDisposed
			p.remove(other)
			p.logger.Debug("evicted retained instance")
		}
	}
}

func (p *pool) remove(s *slot) {
	for i, other := range p.slots {
		if other == s {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			return
		}
	}
}

// close drops every slot. Live slots are disposed first.
func (p *pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if s.state == slotLive {
			s.inst.Dispose()
			p.disposed++
		}
		s.state = slotDisposed
		s.refs = 0
	}
	p.slots = nil
}

func (p *pool) stats() LanguageStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := LanguageStats{
		Policy:   p.info.Policy,
		Created:  p.created,
		Disposed: p.disposed,
		Patched:  p.patched,
		Parses:   p.parses.Load(),
	}
	for _, s := range p.slots {
		switch s.state {
		case slotLive:
			st.Live++
		case slotRetained:
			st.Retained++
		}
		st.CachedSources += s.cache.len()
	}
	return st
}

// parse returns the call target for src, from the slot's cache when
// caching is enabled.
func (s *slot) parse(ctx context.Context, src Source, useCache bool) (CallTarget, error) {
	if !useCache || src.NoCache {
		s.pool.parses.Add(1)
		return s.inst.Parse(ctx, src)
	}
	return s.cache.get(src.Key(), func() (CallTarget, error) {
		s.pool.parses.Add(1)
		return s.inst.Parse(ctx, src)
	})
}

type parseCache struct {
	mu      sync.RWMutex
	entries map[[32]byte]CallTarget
	group   singleflight.Group
}

func newParseCache() *parseCache {
	return &parseCache{entries: make(map[[32]byte]CallTarget)}
}

func (c *parseCache) lookup(key [32]byte) (CallTarget, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[key]
	return t, ok
}

func (c *parseCache) get(key [32]byte, parse func() (CallTarget, error)) (CallTarget, error) {
	if t, ok := c.lookup(key); ok {
		return t, nil
	}

	v, err, _ := c.group.Do(string(key[:]), func() (any, error) {
		if t, ok := c.lookup(key); ok {
			return t, nil
		}
		t, err := parse()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(CallTarget), nil
}

func (c *parseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
