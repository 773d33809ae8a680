package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Backend represents the storage backend type
type Backend string

const (
	// BackendMemory uses the in-memory store
	BackendMemory Backend = "memory"
	// BackendRedis uses Redis as the backend
	BackendRedis Backend = "redis"
)

// RedisConfig describes the Redis endpoint and its connection pool
type RedisConfig struct {
	// URL is redis://[:password@]host:port/db or a bare host:port
	URL string

	// PoolSize bounds the number of concurrently leased connections
	PoolSize int
	// MinIdleConns keeps this many connections open while idle
	MinIdleConns int
	// PoolWaitTimeout bounds how long a caller waits for a free connection
	PoolWaitTimeout time.Duration
	// OpTimeout bounds a single store operation once a connection is leased.
	// Zero disables the per-call deadline.
	OpTimeout time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RetryAttempts and RetryInterval control the startup readiness probe
	RetryAttempts int
	RetryInterval time.Duration

	// ScanCount is the COUNT hint used when enumerating keys
	ScanCount int64
}

// Config holds configuration for creating a Store instance
type Config struct {
	// Backend specifies which storage backend to use
	Backend Backend

	// Redis is required when Backend is "redis"
	Redis RedisConfig

	// JanitorInterval controls how often the in-memory store cleans up expired keys
	// Set to 0 to disable background cleanup (not recommended for production)
	// Default: 30 seconds
	JanitorInterval time.Duration

	// FailoverEnabled controls whether automatic failover to in-memory store is enabled
	// when Redis becomes unavailable
	FailoverEnabled bool

	// ProbeInterval controls how often to probe Redis for recovery after failover
	// Default: 5 seconds
	ProbeInterval time.Duration

	// StartupProbeTimeout bounds the whole startup readiness probe
	// Default: 5 seconds
	StartupProbeTimeout time.Duration

	// Logger receives store and failover events. Nil disables logging.
	Logger *zap.Logger

	// Recorder receives per-operation metrics. Nil disables recording.
	Recorder Recorder
}

// StoreFactory defines a function that creates a Store instance
type StoreFactory func(cfg Config) (Store, error)

// factories holds registered store factories
var factories = make(map[Backend]StoreFactory)

// RegisterBackend registers a store factory for a given backend
func RegisterBackend(backend Backend, factory StoreFactory) {
	factories[backend] = factory
}

func (c *Config) applyDefaults() {
	if c.JanitorInterval == 0 {
		c.JanitorInterval = 30 * time.Second
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.StartupProbeTimeout == 0 {
		c.StartupProbeTimeout = 5 * time.Second
	}
	if c.Redis.RetryAttempts <= 0 {
		c.Redis.RetryAttempts = 1
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Recorder == nil {
		c.Recorder = NopRecorder
	}
}

// NewStoreFromConfig creates a new Store instance based on the provided configuration
func NewStoreFromConfig(cfg Config) (Store, error) {
	cfg.applyDefaults()

	switch cfg.Backend {
	case BackendMemory:
		factory, exists := factories[BackendMemory]
		if !exists {
			return nil, fmt.Errorf("memory backend not registered")
		}
		return factory(cfg)

	case BackendRedis:
		return createRedisStore(cfg)

	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis)
	}
}

// createRedisStore creates a Redis store, wrapped in a FailoverStore when enabled
func createRedisStore(cfg Config) (Store, error) {
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
	}

	redisFactory, exists := factories[BackendRedis]
	if !exists {
		return nil, fmt.Errorf("redis backend not registered")
	}

	redisStore, err := redisFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
	defer cancel()

	if !cfg.FailoverEnabled {
		if err := waitReady(ctx, redisStore, cfg.Redis.RetryAttempts, cfg.Redis.RetryInterval); err != nil {
			redisStore.Close()
			return nil, err
		}
		cfg.Logger.Info("redis ready", zap.String("url", redactURL(cfg.Redis.URL)))
		return redisStore, nil
	}

	memoryFactory, exists := factories[BackendMemory]
	if !exists {
		redisStore.Close()
		return nil, fmt.Errorf("memory backend not registered")
	}

	memoryStore, err := memoryFactory(cfg)
	if err != nil {
		redisStore.Close()
		return nil, fmt.Errorf("failed to create memory store for failover: %w", err)
	}

	if err := waitReady(ctx, redisStore, cfg.Redis.RetryAttempts, cfg.Redis.RetryInterval); err != nil {
		// Start on the fallback and let the probe promote Redis once it answers
		cfg.Logger.Warn("redis unhealthy at startup; using in-memory store (will retry in background)",
			zap.Error(err))
		return NewFailoverStoreWithFallbackActive(redisStore, memoryStore, cfg.ProbeInterval, cfg.Logger), nil
	}

	cfg.Logger.Info("redis healthy at startup; using redis with in-memory failover")
	return NewFailoverStore(redisStore, memoryStore, cfg.ProbeInterval, cfg.Logger), nil
}

// ErrStoreNotReady is returned when the startup probe never succeeded
var ErrStoreNotReady = errors.New("store did not become ready within the given time period")

// waitReady pings store up to attempts times, sleeping interval between tries
func waitReady(ctx context.Context, store Store, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = store.Ping(ctx); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(ErrStoreNotReady, lastErr, ctx.Err())
		case <-time.After(interval):
		}
	}
	return errors.Join(ErrStoreNotReady, lastErr)
}

// redactURL hides the password of a redis URL for logging
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	return u.Redacted()
}
