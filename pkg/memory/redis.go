package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nowucca/introducing-mcp/pkg/config"
	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// RedisConfig configures a RedisStore
type RedisConfig struct {
	// Client is used when set; otherwise one is created for Addr
	Client *redis.Client
	Addr   string

	// KeyPrefix namespaces the memory hash.
	// Default: "mcp:memory:"
	KeyPrefix string

	// Seed is written for keys that are not yet present. Defaults when nil.
	Seed map[string]string

	Logger logging.Logger
}

// RedisStore keeps memory in a single redis hash so it survives client runs
type RedisStore struct {
	client *redis.Client
	owned  bool
	key    string
	logger logging.Logger
}

// NewRedisStore connects, pings and seeds the memory hash
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mcp:memory:"
	}
	if cfg.Seed == nil {
		cfg.Seed = Defaults()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	client, owned := cfg.Client, false
	if client == nil {
		if cfg.Addr == "" {
			return nil, mcperrors.ConfigError(config.KeyRedisAddr, "redis address is required")
		}
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr})
		owned = true
	}

	s := &RedisStore{
		client: client,
		owned:  owned,
		key:    cfg.KeyPrefix + "values",
		logger: cfg.Logger.WithFields(logging.String("store", "redis")),
	}

	if err := client.Ping(ctx).Err(); err != nil {
		s.Close()
		return nil, mcperrors.StorageError("redis", "ping", err)
	}

	for k, v := range cfg.Seed {
		if err := client.HSetNX(ctx, s.key, k, v).Err(); err != nil {
			s.Close()
			return nil, mcperrors.StorageError("redis", "seed", err)
		}
	}
	s.logger.Debug("Memory store ready", logging.String("key", s.key))
	return s, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mcperrors.StorageError("redis", fmt.Sprintf("get %s", key), err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.key, key, value).Err(); err != nil {
		return mcperrors.StorageError("redis", fmt.Sprintf("set %s", key), err)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) (map[string]string, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, mcperrors.StorageError("redis", "all", err)
	}
	return all, nil
}

// Close closes the client if the store created it
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
