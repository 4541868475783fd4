// Package memory keeps the context-memory client's remembered preferences and
// fills missing tool arguments from them.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nowucca/introducing-mcp/pkg/config"
	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// KeyTimezone is the remembered default timezone
const KeyTimezone = "timezone"

// DefaultTimezone seeds new stores
const DefaultTimezone = "America/New_York"

// Defaults returns the seed memory of a fresh store
func Defaults() map[string]string {
	return map[string]string{KeyTimezone: DefaultTimezone}
}

// Store holds remembered string values
type Store interface {
	// Get returns the value for key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// All returns a copy of every remembered value
	All(ctx context.Context) (map[string]string, error)
	Close() error
}

// InMemoryStore is a process-local Store
type InMemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewInMemoryStore returns a store seeded with seed, or Defaults when seed is nil
func NewInMemoryStore(seed map[string]string) *InMemoryStore {
	if seed == nil {
		seed = Defaults()
	}
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &InMemoryStore{values: values}
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *InMemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *InMemoryStore) All(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

// Open builds the store selected by cfg
func Open(ctx context.Context, cfg config.MemoryConfig, logger logging.Logger) (Store, error) {
	switch cfg.Backend {
	case "", config.MemoryBackendInProcess:
		return NewInMemoryStore(nil), nil
	case config.MemoryBackendRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:      cfg.RedisAddr,
			KeyPrefix: cfg.RedisPrefix,
			Logger:    logger,
		})
	default:
		return nil, mcperrors.ConfigError(config.KeyMemoryBackend, "unknown backend "+cfg.Backend)
	}
}

// Entry is one remembered setting
type Entry struct {
	Key   string
	Value string
}

// Sorted returns every entry of s ordered by key
func Sorted(ctx context.Context, s Store) ([]Entry, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for k, v := range all {
		out = append(out, Entry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
