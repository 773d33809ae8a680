package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/leafsii/cachekit/pkg/kv"
)

var (
	// ErrPoolExhausted is returned when no connection became free within the wait timeout
	ErrPoolExhausted = kv.ErrPoolExhausted

	// ErrPoolClosed is returned by Acquire after Close
	ErrPoolClosed = fmt.Errorf("pool closed: %w", kv.ErrConnectionUnavailable)

	// ErrDoubleRelease is returned when a lease is released more than once
	ErrDoubleRelease = errors.New("lease already released")
)

// PoolConfig describes the endpoint and the lease bound
type PoolConfig struct {
	// URL is redis://[:password@]host:port/db or a bare host:port
	URL string

	// Size is the maximum number of leases out at once
	Size int
	// MinIdle keeps this many connections warm
	MinIdle int
	// WaitTimeout bounds how long Acquire waits for a free lease. Zero uses
	// DefaultWaitTimeout; a negative value waits until the caller's context ends.
	WaitTimeout time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectTimeout, RetryAttempts and RetryInterval drive the readiness probe in Connect
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
}

const (
	DefaultPoolSize    = 8
	DefaultWaitTimeout = 2 * time.Second
)

func (c *PoolConfig) applyDefaults() {
	if c.Size <= 0 {
		c.Size = DefaultPoolSize
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.MinIdle > c.Size {
		c.MinIdle = c.Size
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// PoolStats is a point-in-time snapshot of pool usage
type PoolStats struct {
	Capacity       int64
	InUse          int64
	AcquiredTotal  uint64
	ExhaustedTotal uint64
}

// Pool hands out dedicated Redis connections, at most Size at a time
type Pool struct {
	client *redis.Client
	sem    *semaphore.Weighted
	cfg    PoolConfig
	logger *zap.Logger

	closed    atomic.Bool
	inUse     atomic.Int64
	acquired  atomic.Uint64
	exhausted atomic.Uint64
}

// ParseOptions turns a redis URL or bare host:port into client options
func ParseOptions(raw string) (*redis.Options, error) {
	opt, err := redis.ParseURL(raw)
	if err == nil {
		return opt, nil
	}

	// Fallback for simple address format
	u, parseErr := url.Parse("redis://" + raw)
	if parseErr != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid redis address %q: %w", raw, err)
	}

	opt = &redis.Options{Addr: u.Host}
	if u.Path != "" && u.Path != "/" {
		db, dbErr := strconv.Atoi(u.Path[1:])
		if dbErr != nil {
			return nil, fmt.Errorf("invalid redis database %q: %w", u.Path[1:], dbErr)
		}
		opt.DB = db
	}
	if u.User != nil {
		if password, ok := u.User.Password(); ok {
			opt.Password = password
		}
	}
	return opt, nil
}

// NewPool builds a pool without touching the network
func NewPool(cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opt, err := ParseOptions(cfg.URL)
	if err != nil {
		return nil, err
	}

	// One connection beyond the lease bound stays free for health checks
	opt.PoolSize = cfg.Size + 1
	opt.MinIdleConns = cfg.MinIdle
	// Per-call deadlines must reach the socket, not only the pool checkout
	opt.ContextTimeoutEnabled = true
	if cfg.WaitTimeout > 0 {
		opt.PoolTimeout = cfg.WaitTimeout
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}

	return &Pool{
		client: redis.NewClient(opt),
		sem:    semaphore.NewWeighted(int64(cfg.Size)),
		cfg:    cfg,
		logger: logger.Named("redis.pool"),
	}, nil
}

// Connect builds a pool and waits until the server answers PING
func Connect(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	pool, err := NewPool(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pool.cfg.ConnectTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= pool.cfg.RetryAttempts; attempt++ {
		if lastErr = pool.Ping(ctx); lastErr == nil {
			pool.logger.Info("connected to redis",
				zap.String("addr", pool.client.Options().Addr),
				zap.Int("pool_size", pool.cfg.Size))
			return pool, nil
		}
		pool.logger.Warn("redis ping failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt == pool.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", errors.Join(lastErr, ctx.Err()))
		case <-time.After(pool.cfg.RetryInterval):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("connect to redis after %d attempts: %w", pool.cfg.RetryAttempts, lastErr)
}

// Lease is one checked-out connection. Release must be called exactly once.
type Lease struct {
	pool     *Pool
	conn     *redis.Conn
	released atomic.Bool
}

// Conn returns the leased connection
func (l *Lease) Conn() *redis.Conn {
	return l.conn
}

// Release returns the connection to the pool
func (l *Lease) Release() error {
	if !l.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}

	err := l.conn.Close()
	l.pool.inUse.Add(-1)
	l.pool.sem.Release(1)

	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// Acquire waits for a free connection for at most WaitTimeout
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	waitCtx := ctx
	if p.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.cfg.WaitTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("wait for connection: %w", ctxErr)
		}
		p.exhausted.Add(1)
		p.logger.Warn("pool exhausted",
			zap.Int("capacity", p.cfg.Size),
			zap.Duration("waited", p.cfg.WaitTimeout))
		return nil, ErrPoolExhausted
	}

	if p.closed.Load() {
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}

	p.inUse.Add(1)
	p.acquired.Add(1)
	return &Lease{pool: p, conn: p.client.Conn()}, nil
}

// With runs fn on a leased connection. The lease is released however fn exits.
func (p *Pool) With(ctx context.Context, fn func(conn *redis.Conn) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			p.logger.Debug("release failed", zap.Error(err))
		}
	}()

	return fn(lease.Conn())
}

// Ping checks the server on the reserved health connection
func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	return p.client.Ping(ctx).Err()
}

// Stats returns a snapshot of pool usage
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Capacity:       int64(p.cfg.Size),
		InUse:          p.inUse.Load(),
		AcquiredTotal:  p.acquired.Load(),
		ExhaustedTotal: p.exhausted.Load(),
	}
}

// Client exposes the underlying go-redis client for callers that need raw access
func (p *Pool) Client() *redis.Client {
	return p.client
}

// Close rejects new leases and closes all connections
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.client.Close()
}
