package redis

import (
	"fmt"

	"github.com/leafsii/cachekit/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendRedis, func(cfg kv.Config) (kv.Store, error) {
		if cfg.Redis.URL == "" {
			return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
		}

		pool, err := NewPool(PoolConfig{
			URL:           cfg.Redis.URL,
			Size:          cfg.Redis.PoolSize,
			MinIdle:       cfg.Redis.MinIdleConns,
			WaitTimeout:   cfg.Redis.PoolWaitTimeout,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			RetryAttempts: cfg.Redis.RetryAttempts,
			RetryInterval: cfg.Redis.RetryInterval,
		}, cfg.Logger)
		if err != nil {
			return nil, err
		}

		return NewStore(pool, Options{
			OpTimeout: cfg.Redis.OpTimeout,
			ScanCount: cfg.Redis.ScanCount,
			Logger:    cfg.Logger,
			Recorder:  cfg.Recorder,
		}), nil
	})
}

// PoolOf returns the pool behind a store built by kv.NewStoreFromConfig,
// looking through a failover wrapper
func PoolOf(store kv.Store) (*Pool, bool) {
	switch s := store.(type) {
	case *Store:
		return s.pool, true
	case *kv.FailoverStore:
		return PoolOf(s.Primary())
	default:
		return nil, false
	}
}
