package hostfunc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// KVConfig limits a KV store. Zero fields are unlimited.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   256,
		MaxValueSize: 1 << 20,
		MaxEntries:   10000,
	}
}

// KV is an in-memory key-value store shared by every guest of a session.
type KV struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig) *KV {
	return &KV{cfg: cfg, data: make(map[string]any)}
}

// Register installs kv_get, kv_set, kv_delete and kv_keys.
func (s *KV) Register(r *Registry) {
	r.Register("kv_get", s.Get)
	r.Register("kv_set", s.Set)
	r.Register("kv_delete", s.Delete)
	r.Register("kv_keys", s.Keys)
}

func (s *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return args["default"], nil
	}
	return val, nil
}

func (s *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, errors.New("key required")
	}
	val, ok := args["value"]
	if !ok {
		return nil, errors.New("value required")
	}

	if s.cfg.MaxKeySize > 0 && len(key) > s.cfg.MaxKeySize {
		return nil, fmt.Errorf("key exceeds max size of %d bytes", s.cfg.MaxKeySize)
	}
	if s.cfg.MaxValueSize > 0 {
		size, err := valueSize(val)
		if err != nil {
			return nil, err
		}
		if size > s.cfg.MaxValueSize {
			return nil, fmt.Errorf("value exceeds max size of %d bytes", s.cfg.MaxValueSize)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && s.cfg.MaxEntries > 0 && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("store is full (%d entries)", s.cfg.MaxEntries)
	}
	s.data[key] = val

	return "ok", nil
}

func (s *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

// Keys lists stored keys, optionally filtered by "prefix".
func (s *KV) Keys(ctx context.Context, args map[string]any) (any, error) {
	prefix, _ := args["prefix"].(string)

	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	slices.Sort(keys)
	return keys, nil
}

func valueSize(v any) (int, error) {
	if s, ok := v.(string); ok {
		return len(s), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("value is not serializable: %w", err)
	}
	return len(data), nil
}
