package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leafsii/cachekit/pkg/kv"
)

// DefaultScanCount is the SCAN COUNT hint used by Keys
const DefaultScanCount = 100

// Options tunes a Store
type Options struct {
	// OpTimeout bounds each call once a connection is leased. Zero disables it.
	OpTimeout time.Duration
	// ScanCount is the COUNT hint used by Keys
	ScanCount int64

	Logger   *zap.Logger
	Recorder kv.Recorder
}

// Store is a Redis-backed implementation of the kv.Store interface.
// Every call leases its own connection from the pool.
type Store struct {
	pool      *Pool
	opTimeout time.Duration
	scanCount int64
	logger    *zap.Logger
	recorder  kv.Recorder
}

var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Scanner = (*Store)(nil)
)

// NewStore creates a store on top of pool. The store owns the pool and closes it.
func NewStore(pool *Pool, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = kv.NopRecorder
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = DefaultScanCount
	}
	return &Store{
		pool:      pool,
		opTimeout: opts.OpTimeout,
		scanCount: opts.ScanCount,
		logger:    opts.Logger.Named("redis"),
		recorder:  opts.Recorder,
	}
}

// Pool returns the pool backing the store
func (s *Store) Pool() *Pool {
	return s.pool
}

// do leases a connection, runs fn under the per-call deadline and reports the outcome
func (s *Store) do(ctx context.Context, op, key string, fn func(ctx context.Context, conn *redis.Conn) error) error {
	start := time.Now()

	err := s.pool.With(ctx, func(conn *redis.Conn) error {
		opCtx := ctx
		if s.opTimeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, s.opTimeout)
			defer cancel()
		}
		err := fn(opCtx, conn)
		if ctxErr := expired(opCtx); err != nil && ctxErr != nil && !errors.Is(err, ctxErr) {
			// A deadline that fires mid-command surfaces as a socket timeout
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	})
	err = classify(op, key, err)

	s.observe(ctx, op, key, time.Since(start), err)
	return err
}

// expired is ctx.Err, also counting a deadline that has passed before its timer fired
func expired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

func (s *Store) observe(ctx context.Context, op, key string, elapsed time.Duration, err error) {
	s.recorder.RecordOperation(ctx, op, kv.Outcome(err), elapsed)

	switch {
	case err == nil:
		s.logger.Debug("redis operation succeeded",
			zap.String("op", op),
			zap.String("key", key),
			zap.Duration("duration", elapsed))
	case kv.IsNotFound(err):
		s.logger.Debug("redis key not found",
			zap.String("op", op),
			zap.String("key", key))
	default:
		s.logger.Warn("redis operation failed",
			zap.String("op", op),
			zap.String("key", key),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	}
}

// lookup records a read as a hit or miss
func (s *Store) lookup(ctx context.Context, op string, err error) {
	if err == nil || kv.IsNotFound(err) {
		s.recorder.RecordLookup(ctx, op, err == nil)
	}
}

// replace deletes key and writes it again inside MULTI/EXEC so readers never
// see a partial value or a window where the key is missing
func (s *Store) replace(ctx context.Context, op, key string, ttl time.Duration, write func(ctx context.Context, pipe redis.Pipeliner)) error {
	return s.do(ctx, op, key, func(ctx context.Context, conn *redis.Conn) error {
		_, err := conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			write(ctx, pipe)
			if ttl > 0 {
				pipe.PExpire(ctx, key, ttl)
			}
			return nil
		})
		return err
	})
}

func (s *Store) deleteKey(ctx context.Context, op, key string) error {
	return s.do(ctx, op, key, func(ctx context.Context, conn *redis.Conn) error {
		return conn.Del(ctx, key).Err()
	})
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := kv.ValidateWrite("set", key, ttl); err != nil {
		return err
	}
	return s.do(ctx, "set", key, func(ctx context.Context, conn *redis.Conn) error {
		return conn.Set(ctx, key, value, ttl).Err()
	})
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := kv.ValidateKey("get", key); err != nil {
		return "", err
	}

	var value string
	err := s.do(ctx, "get", key, func(ctx context.Context, conn *redis.Conn) error {
		var err error
		value, err = conn.Get(ctx, key).Result()
		return err
	})
	s.lookup(ctx, "get", err)
	if err != nil {
		return "", err
	}
	return value, nil
}

// Hash operations

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := kv.ValidateWrite("hash_set", key, ttl); err != nil {
		return err
	}
	if len(fields) == 0 {
		return s.deleteKey(ctx, "hash_set", key)
	}

	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return s.replace(ctx, "hash_set", key, ttl, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, key, args...)
	})
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := kv.ValidateKey("hash_get_all", key); err != nil {
		return nil, err
	}

	var fields map[string]string
	err := s.do(ctx, "hash_get_all", key, func(ctx context.Context, conn *redis.Conn) error {
		var err error
		fields, err = conn.HGetAll(ctx, key).Result()
		if err == nil && len(fields) == 0 {
			return redis.Nil
		}
		return err
	})
	s.lookup(ctx, "hash_get_all", err)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// List operations

func (s *Store) ListPush(ctx context.Context, key string, values []string, ttl time.Duration) (int64, error) {
	if err := kv.ValidateWrite("list_push", key, ttl); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, s.deleteKey(ctx, "list_push", key)
	}

	var push *redis.IntCmd
	err := s.replace(ctx, "list_push", key, ttl, func(ctx context.Context, pipe redis.Pipeliner) {
		push = pipe.RPush(ctx, key, toArgs(values)...)
	})
	if err != nil {
		return 0, err
	}
	return push.Val(), nil
}

func (s *Store) ListGetAll(ctx context.Context, key string) ([]string, error) {
	if err := kv.ValidateKey("list_get_all", key); err != nil {
		return nil, err
	}

	var values []string
	err := s.do(ctx, "list_get_all", key, func(ctx context.Context, conn *redis.Conn) error {
		var err error
		values, err = conn.LRange(ctx, key, 0, -1).Result()
		if err == nil && len(values) == 0 {
			return redis.Nil
		}
		return err
	})
	s.lookup(ctx, "list_get_all", err)
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Set operations

func (s *Store) SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) (int64, error) {
	if err := kv.ValidateWrite("set_add", key, ttl); err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, s.deleteKey(ctx, "set_add", key)
	}

	var add *redis.IntCmd
	err := s.replace(ctx, "set_add", key, ttl, func(ctx context.Context, pipe redis.Pipeliner) {
		add = pipe.SAdd(ctx, key, toArgs(members)...)
	})
	if err != nil {
		return 0, err
	}
	return add.Val(), nil
}

func (s *Store) SetGetAll(ctx context.Context, key string) ([]string, error) {
	if err := kv.ValidateKey("set_get_all", key); err != nil {
		return nil, err
	}

	var members []string
	err := s.do(ctx, "set_get_all", key, func(ctx context.Context, conn *redis.Conn) error {
		var err error
		members, err = conn.SMembers(ctx, key).Result()
		if err == nil && len(members) == 0 {
			return redis.Nil
		}
		return err
	})
	s.lookup(ctx, "set_get_all", err)
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

// Sorted set operations

func (s *Store) SortedSetAdd(ctx context.Context, key string, members map[string]float64, ttl time.Duration) (int64, error) {
	if err := kv.ValidateWrite("sorted_set_add", key, ttl); err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, s.deleteKey(ctx, "sorted_set_add", key)
	}

	zs := make([]redis.Z, 0, len(members))
	for m, score := range members {
		zs = append(zs, redis.Z{Score: score, Member: m})
	}

	var add *redis.IntCmd
	err := s.replace(ctx, "sorted_set_add", key, ttl, func(ctx context.Context, pipe redis.Pipeliner) {
		add = pipe.ZAdd(ctx, key, zs...)
	})
	if err != nil {
		return 0, err
	}
	return add.Val(), nil
}

// rangeOrMissing runs a range read and an EXISTS in one round trip so an
// empty range on an existing key is not mistaken for a missing key
func (s *Store) rangeOrMissing(ctx context.Context, op, key string, read func(ctx context.Context, pipe redis.Pipeliner) *redis.StringSliceCmd) ([]string, error) {
	if err := kv.ValidateKey(op, key); err != nil {
		return nil, err
	}

	var members []string
	err := s.do(ctx, op, key, func(ctx context.Context, conn *redis.Conn) error {
		var (
			rng    *redis.StringSliceCmd
			exists *redis.IntCmd
		)
		_, err := conn.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			rng = read(ctx, pipe)
			exists = pipe.Exists(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		if exists.Val() == 0 {
			return redis.Nil
		}
		members = rng.Val()
		return nil
	})
	s.lookup(ctx, op, err)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

func (s *Store) SortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rangeOrMissing(ctx, "sorted_set_range", key, func(ctx context.Context, pipe redis.Pipeliner) *redis.StringSliceCmd {
		return pipe.ZRange(ctx, key, start, stop)
	})
}

func (s *Store) SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.rangeOrMissing(ctx, "sorted_set_range_by_score", key, func(ctx context.Context, pipe redis.Pipeliner) *redis.StringSliceCmd {
		return pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: formatScore(min),
			Max: formatScore(max),
		})
	})
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Key operations

func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	if err := kv.ValidateKey("delete", key); err != nil {
		return 0, err
	}

	var n int64
	err := s.do(ctx, "delete", key, func(ctx context.Context, conn *redis.Conn) error {
		var err error
		n, err = conn.Del(ctx, key).Result()
		return err
	})
	return n, err
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := kv.ValidateKey("exists", key); err != nil {
		return false, err
	}

	var n int64
	err := s.do(ctx, "exists", key, func(ctx context.Context, conn *redis.Conn) error {
		var err error
		n, err = conn.Exists(ctx, key).Result()
		return err
	})
	return n > 0, err
}

// Keys walks the keyspace with SCAN and returns the sorted matching keys.
// An empty pattern matches everything.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	seen := make(map[string]struct{})
	err := s.do(ctx, "keys", pattern, func(ctx context.Context, conn *redis.Conn) error {
		var cursor uint64
		for {
			batch, next, err := conn.Scan(ctx, cursor, pattern, s.scanCount).Result()
			if err != nil {
				return err
			}
			for _, k := range batch {
				seen[k] = struct{}{}
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch operations

// BatchSet pipelines one SET per entry, in order, and waits for all replies once
func (s *Store) BatchSet(ctx context.Context, entries []kv.Entry) error {
	if err := kv.ValidateBatch("batch_set", entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	return s.do(ctx, "batch_set", "", func(ctx context.Context, conn *redis.Conn) error {
		_, err := conn.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, e := range entries {
				pipe.Set(ctx, e.Key, e.Value, 0)
			}
			return nil
		})
		return err
	})
}

// Ping checks if Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", "", s.pool.Ping(ctx))
}

// Close closes the pool
func (s *Store) Close() error {
	return s.pool.Close()
}
