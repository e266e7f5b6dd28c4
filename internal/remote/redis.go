package remote

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	cacheerrors "tiercache/internal/common/errors"
	"tiercache/internal/common/logging"
)

// Config holds the Redis connection settings.
type Config struct {
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	KeyPrefix    string        `json:"key_prefix"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	// OpTimeout bounds every store operation regardless of the caller's
	// context.
	OpTimeout time.Duration
}

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	rdb       *redis.Client
	keyPrefix string
	opTimeout time.Duration
	logger    logging.Logger
}

// NewRedisStore creates a Store backed by Redis. The constructor pings the
// server to surface connectivity problems early, but an unreachable server
// is only logged: the returned store stays usable and the cache runs
// degraded until Redis comes back.
func NewRedisStore(config *Config, logger logging.Logger) (*RedisStore, error) {
	if config == nil {
		return nil, cacheerrors.ConfigError("redis config is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	store := &RedisStore{
		rdb:       rdb,
		keyPrefix: config.KeyPrefix,
		opTimeout: config.OpTimeout,
		logger:    logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, continuing degraded",
			logging.String("address", config.Address),
			logging.Err(err),
		)
	}

	return store, nil
}

// Get returns the payload and remaining TTL for key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, s.prefixed(key))
	ttlCmd := pipe.TTL(ctx, s.prefixed(key))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, 0, cacheerrors.RemoteError("get", err).WithKey(key)
	}

	payload, err := getCmd.Bytes()
	if err == redis.Nil {
		return nil, 0, cacheerrors.ErrNotFound
	}
	if err != nil {
		return nil, 0, cacheerrors.RemoteError("get", err).WithKey(key)
	}

	// TTL is -1 for keys without expiry and -2 for missing keys; both mean
	// there is no remaining TTL to carry over.
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	return payload, ttl, nil
}

// Set stores a payload under key with the given expiry.
func (s *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.rdb.Set(ctx, s.prefixed(key), payload, ttl).Err(); err != nil {
		return cacheerrors.RemoteError("set", err).WithKey(key)
	}
	return nil
}

// Delete removes the given keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefixed(key)
	}

	if err := s.rdb.Del(ctx, prefixed...).Err(); err != nil {
		return cacheerrors.RemoteError("delete", err)
	}
	return nil
}

// Keys returns the keys matching a glob-style pattern. The scan walks the
// keyspace incrementally instead of blocking the server with KEYS.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefixed(pattern), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, cacheerrors.RemoteError("keys", err)
	}

	return keys, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return cacheerrors.RemoteError("ping", err)
	}
	return nil
}

// Close releases the underlying connections.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) prefixed(key string) string {
	return s.keyPrefix + key
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}
