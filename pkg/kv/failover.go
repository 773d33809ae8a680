package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FailoverStore wraps a primary and fallback store, automatically failing over
// when the primary becomes unavailable and recovering when it becomes healthy again
type FailoverStore struct {
	primary       Store        // usually Redis
	fallback      Store        // usually in-memory
	active        atomic.Value // holds storeRef
	probeInterval time.Duration
	logger        *zap.Logger

	mu        sync.Mutex
	probing   bool
	closed    chan struct{}
	closeOnce sync.Once
	probeStop chan struct{}
	probeDone chan struct{}
	promote   chan struct{}
}

// storeRef keeps atomic.Value happy with differing concrete Store types
type storeRef struct{ Store }

var _ Store = (*FailoverStore)(nil)

// NewFailoverStore creates a new failover store that prefers the primary but falls back to fallback
func NewFailoverStore(primary, fallback Store, probeInterval time.Duration, logger *zap.Logger) *FailoverStore {
	fs := newFailoverStore(primary, fallback, probeInterval, logger)
	fs.active.Store(storeRef{primary})
	go fs.handlePromotions()
	return fs
}

// NewFailoverStoreWithFallbackActive creates a failover store that starts with fallback active
// and probes primary for recovery (used when primary fails at startup)
func NewFailoverStoreWithFallbackActive(primary, fallback Store, probeInterval time.Duration, logger *zap.Logger) *FailoverStore {
	fs := newFailoverStore(primary, fallback, probeInterval, logger)
	fs.active.Store(storeRef{fallback})
	go fs.handlePromotions()
	fs.startProbing()
	return fs
}

func newFailoverStore(primary, fallback Store, probeInterval time.Duration, logger *zap.Logger) *FailoverStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if probeInterval <= 0 {
		probeInterval = 5 * time.Second
	}
	return &FailoverStore{
		primary:       primary,
		fallback:      fallback,
		probeInterval: probeInterval,
		logger:        logger.Named("failover"),
		closed:        make(chan struct{}),
		promote:       make(chan struct{}, 1),
	}
}

func (fs *FailoverStore) activeStore() Store {
	return fs.active.Load().(storeRef).Store
}

// demoteToFallback switches to the fallback store and starts background probing for recovery
func (fs *FailoverStore) demoteToFallback() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.activeStore() == fs.fallback {
		return
	}

	fs.active.Store(storeRef{fs.fallback})
	fs.logger.Warn("failing over to in-memory store", zap.String("reason", "primary_unavailable"))

	fs.startProbingLocked()
}

func (fs *FailoverStore) handlePromotions() {
	for {
		select {
		case <-fs.closed:
			return
		case <-fs.promote:
			if fs.activeStore() == fs.primary {
				continue
			}

			fs.active.Store(storeRef{fs.primary})
			fs.logger.Info("recovered to primary store", zap.String("reason", "primary_healthy"))

			fs.stopProbing()
		}
	}
}

// signalPromotion is non-blocking; a pending promotion absorbs duplicates
func (fs *FailoverStore) signalPromotion() {
	select {
	case fs.promote <- struct{}{}:
	default:
	}
}

// startProbingLocked starts background probing if not already active (must hold mutex)
func (fs *FailoverStore) startProbingLocked() {
	if fs.probing {
		return
	}

	fs.probing = true
	fs.probeStop = make(chan struct{})
	fs.probeDone = make(chan struct{})

	go fs.probeLoop(fs.probeStop, fs.probeDone)
}

func (fs *FailoverStore) startProbing() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.startProbingLocked()
}

func (fs *FailoverStore) stopProbing() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.stopProbingLocked()
}

// stopProbingLocked stops background probing (must hold mutex)
func (fs *FailoverStore) stopProbingLocked() {
	if !fs.probing {
		return
	}

	close(fs.probeStop)
	<-fs.probeDone
	fs.probing = false
}

func (fs *FailoverStore) probeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(fs.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.closed:
			return
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), fs.probeInterval/2)
			err := fs.primary.Ping(ctx)
			cancel()

			if err == nil {
				fs.signalPromotion()
				return
			}
			fs.logger.Debug("primary probe failed", zap.Error(err))
		}
	}
}

// primaryDown confirms an outage with a PING on the primary. A busy pool or a
// single dropped connection leaves the primary answering.
func (fs *FailoverStore) primaryDown(err error) bool {
	if !errors.Is(err, ErrConnectionUnavailable) || errors.Is(err, ErrPoolExhausted) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), fs.probeInterval/2)
	defer cancel()

	if pingErr := fs.primary.Ping(ctx); pingErr != nil {
		return true
	}
	fs.logger.Debug("primary still answers, not failing over", zap.Error(err))
	return false
}

// withFailover runs fn on the active store. A confirmed outage of the primary
// demotes it and the call is retried once on the fallback. Writes are never
// diverted to the fallback while the primary is reachable.
func withFailover[T any](fs *FailoverStore, fn func(Store) (T, error)) (T, error) {
	store := fs.activeStore()
	result, err := fn(store)

	if store == fs.primary && fs.primaryDown(err) {
		fs.demoteToFallback()

		if next := fs.activeStore(); next != store {
			return fn(next)
		}
	}

	return result, err
}

func withFailoverErr(fs *FailoverStore, fn func(Store) error) error {
	_, err := withFailover(fs, func(s Store) (struct{}, error) {
		return struct{}{}, fn(s)
	})
	return err
}

// String operations

func (fs *FailoverStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return withFailoverErr(fs, func(s Store) error { return s.Set(ctx, key, value, ttl) })
}

func (fs *FailoverStore) Get(ctx context.Context, key string) (string, error) {
	return withFailover(fs, func(s Store) (string, error) { return s.Get(ctx, key) })
}

// Hash operations

func (fs *FailoverStore) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return withFailoverErr(fs, func(s Store) error { return s.HashSet(ctx, key, fields, ttl) })
}

func (fs *FailoverStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return withFailover(fs, func(s Store) (map[string]string, error) { return s.HashGetAll(ctx, key) })
}

// List operations

func (fs *FailoverStore) ListPush(ctx context.Context, key string, values []string, ttl time.Duration) (int64, error) {
	return withFailover(fs, func(s Store) (int64, error) { return s.ListPush(ctx, key, values, ttl) })
}

func (fs *FailoverStore) ListGetAll(ctx context.Context, key string) ([]string, error) {
	return withFailover(fs, func(s Store) ([]string, error) { return s.ListGetAll(ctx, key) })
}

// Set operations

func (fs *FailoverStore) SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) (int64, error) {
	return withFailover(fs, func(s Store) (int64, error) { return s.SetAdd(ctx, key, members, ttl) })
}

func (fs *FailoverStore) SetGetAll(ctx context.Context, key string) ([]string, error) {
	return withFailover(fs, func(s Store) ([]string, error) { return s.SetGetAll(ctx, key) })
}

// Sorted set operations

func (fs *FailoverStore) SortedSetAdd(ctx context.Context, key string, members map[string]float64, ttl time.Duration) (int64, error) {
	return withFailover(fs, func(s Store) (int64, error) { return s.SortedSetAdd(ctx, key, members, ttl) })
}

func (fs *FailoverStore) SortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return withFailover(fs, func(s Store) ([]string, error) { return s.SortedSetRange(ctx, key, start, stop) })
}

func (fs *FailoverStore) SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return withFailover(fs, func(s Store) ([]string, error) { return s.SortedSetRangeByScore(ctx, key, min, max) })
}

// Key operations

func (fs *FailoverStore) Delete(ctx context.Context, key string) (int64, error) {
	return withFailover(fs, func(s Store) (int64, error) { return s.Delete(ctx, key) })
}

func (fs *FailoverStore) Exists(ctx context.Context, key string) (bool, error) {
	return withFailover(fs, func(s Store) (bool, error) { return s.Exists(ctx, key) })
}

// Batch operations

func (fs *FailoverStore) BatchSet(ctx context.Context, entries []Entry) error {
	return withFailoverErr(fs, func(s Store) error { return s.BatchSet(ctx, entries) })
}

// Keys enumerates the active store when it supports scanning
func (fs *FailoverStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return withFailover(fs, func(s Store) ([]string, error) {
		scanner, ok := s.(Scanner)
		if !ok {
			return nil, NewOpError("keys", pattern, ErrOperationFailed, errors.New("store cannot scan"))
		}
		return scanner.Keys(ctx, pattern)
	})
}

// Ping checks the active store
func (fs *FailoverStore) Ping(ctx context.Context) error {
	return fs.activeStore().Ping(ctx)
}

// ActiveBackend returns "primary" or "fallback"
func (fs *FailoverStore) ActiveBackend() string {
	if fs.activeStore() == fs.primary {
		return "primary"
	}
	return "fallback"
}

// Primary returns the preferred store regardless of which one is active
func (fs *FailoverStore) Primary() Store {
	return fs.primary
}

// Close shuts down the failover store and stops all background processes
func (fs *FailoverStore) Close() error {
	var errs []error
	fs.closeOnce.Do(func() {
		close(fs.closed)

		fs.mu.Lock()
		fs.stopProbingLocked()
		fs.mu.Unlock()

		if err := fs.primary.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := fs.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
