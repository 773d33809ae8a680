package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// MockStore implements Store for testing. Every call answers with the
// store's name, or fails with failErr when set.
type MockStore struct {
	name      string
	failErr   atomic.Pointer[error]
	pingFails atomic.Bool
	callCount atomic.Int64
	closed    atomic.Bool
}

func NewMockStore(name string) *MockStore {
	return &MockStore{name: name}
}

func (m *MockStore) FailWith(err error) {
	if err == nil {
		m.failErr.Store(nil)
		return
	}
	m.failErr.Store(&err)
}

func (m *MockStore) GetCallCount() int64 {
	return m.callCount.Load()
}

func (m *MockStore) checkFailure() error {
	if m.closed.Load() {
		return errors.New("store is closed")
	}
	m.callCount.Add(1)
	if err := m.failErr.Load(); err != nil {
		return *err
	}
	return nil
}

func (m *MockStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return m.checkFailure()
}

func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	if err := m.checkFailure(); err != nil {
		return "", err
	}
	return m.name, nil
}

func (m *MockStore) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return m.checkFailure()
}

func (m *MockStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := m.checkFailure(); err != nil {
		return nil, err
	}
	return map[string]string{"store": m.name}, nil
}

func (m *MockStore) ListPush(ctx context.Context, key string, values []string, ttl time.Duration) (int64, error) {
	if err := m.checkFailure(); err != nil {
		return 0, err
	}
	return int64(len(values)), nil
}

func (m *MockStore) ListGetAll(ctx context.Context, key string) ([]string, error) {
	if err := m.checkFailure(); err != nil {
		return nil, err
	}
	return []string{m.name}, nil
}

func (m *MockStore) SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) (int64, error) {
	if err := m.checkFailure(); err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

func (m *MockStore) SetGetAll(ctx context.Context, key string) ([]string, error) {
	return m.ListGetAll(ctx, key)
}

func (m *MockStore) SortedSetAdd(ctx context.Context, key string, members map[string]float64, ttl time.Duration) (int64, error) {
	if err := m.checkFailure(); err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

func (m *MockStore) SortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return m.ListGetAll(ctx, key)
}

func (m *MockStore) SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return m.ListGetAll(ctx, key)
}

func (m *MockStore) Delete(ctx context.Context, key string) (int64, error) {
	if err := m.checkFailure(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.checkFailure(); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MockStore) BatchSet(ctx context.Context, entries []Entry) error {
	return m.checkFailure()
}

func (m *MockStore) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return errors.New("store is closed")
	}
	if m.pingFails.Load() {
		return NewOpError("ping", "", ErrConnectionUnavailable, errors.New("mock ping failure"))
	}
	return nil
}

func (m *MockStore) Close() error {
	m.closed.Store(true)
	return nil
}

var errConnRefused = NewOpError("get", "k", ErrConnectionUnavailable, errors.New("connection refused"))

func TestFailoverStore_BasicFailover(t *testing.T) {
	primary := NewMockStore("primary")
	fallback := NewMockStore("fallback")
	primary.pingFails.Store(true)

	fs := NewFailoverStore(primary, fallback, 50*time.Millisecond, zap.NewNop())
	defer fs.Close()

	ctx := context.Background()

	got, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "primary", got)
	assert.Equal(t, "primary", fs.ActiveBackend())

	primary.FailWith(errConnRefused)

	// The failing call is retried on the fallback
	got, err = fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	assert.Equal(t, "fallback", fs.ActiveBackend())

	calls := primary.GetCallCount()
	_, err = fs.HashGetAll(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, calls, primary.GetCallCount(), "primary should not be called while demoted")
}

func TestFailoverStore_Recovery(t *testing.T) {
	primary := NewMockStore("primary")
	fallback := NewMockStore("fallback")
	primary.pingFails.Store(true)
	primary.FailWith(errConnRefused)

	fs := NewFailoverStore(primary, fallback, 20*time.Millisecond, zap.NewNop())
	defer fs.Close()

	ctx := context.Background()
	require.NoError(t, fs.Set(ctx, "k", "v", 0))
	require.Equal(t, "fallback", fs.ActiveBackend())

	primary.FailWith(nil)
	primary.pingFails.Store(false)

	assert.Eventually(t, func() bool {
		return fs.ActiveBackend() == "primary"
	}, time.Second, 10*time.Millisecond)

	got, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "primary", got)
}

func TestFailoverStore_StartsOnFallback(t *testing.T) {
	primary := NewMockStore("primary")
	fallback := NewMockStore("fallback")
	primary.pingFails.Store(true)

	fs := NewFailoverStoreWithFallbackActive(primary, fallback, 20*time.Millisecond, zap.NewNop())
	defer fs.Close()

	got, err := fs.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)

	primary.pingFails.Store(false)
	assert.Eventually(t, func() bool {
		return fs.ActiveBackend() == "primary"
	}, time.Second, 10*time.Millisecond)
}

func TestFailoverStore_NoFailoverOnOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", NewOpError("get", "k", ErrNotFound, nil)},
		{"operation failed", NewOpError("get", "k", ErrOperationFailed, errors.New("WRONGTYPE"))},
		{"malformed", NewOpError("get", "", ErrMalformedArgument, nil)},
		{"canceled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := NewMockStore("primary")
			fallback := NewMockStore("fallback")
			primary.FailWith(tt.err)

			fs := NewFailoverStore(primary, fallback, time.Hour, zap.NewNop())
			defer fs.Close()

			_, err := fs.Get(context.Background(), "k")
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, "primary", fs.ActiveBackend())
			assert.Equal(t, int64(0), fallback.GetCallCount())
		})
	}
}

func TestFailoverStore_NoFailoverWhilePrimaryAnswers(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"pool exhausted", NewOpError("set", "k", ErrPoolExhausted, nil)},
		{"dropped connection", errConnRefused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := NewMockStore("primary")
			fallback := NewMockStore("fallback")
			primary.FailWith(tt.err)

			fs := NewFailoverStore(primary, fallback, time.Hour, zap.NewNop())
			defer fs.Close()

			err := fs.Set(context.Background(), "k", "v", 0)
			assert.ErrorIs(t, err, ErrConnectionUnavailable)
			assert.Equal(t, "primary", fs.ActiveBackend())
			assert.Equal(t, int64(0), fallback.GetCallCount(), "write must not land on the fallback")
		})
	}
}

func TestFailoverStore_PoolExhaustedSkipsPing(t *testing.T) {
	primary := NewMockStore("primary")
	fallback := NewMockStore("fallback")
	primary.pingFails.Store(true)
	primary.FailWith(NewOpError("set", "k", ErrPoolExhausted, nil))

	fs := NewFailoverStore(primary, fallback, time.Hour, zap.NewNop())
	defer fs.Close()

	err := fs.Set(context.Background(), "k", "v", 0)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, "primary", fs.ActiveBackend())
	assert.Equal(t, int64(0), fallback.GetCallCount())
}

func TestFailoverStore_FallbackErrorsPassThrough(t *testing.T) {
	primary := NewMockStore("primary")
	fallback := NewMockStore("fallback")
	primary.pingFails.Store(true)

	fs := NewFailoverStoreWithFallbackActive(primary, fallback, time.Hour, zap.NewNop())
	defer fs.Close()

	fallback.FailWith(errConnRefused)
	_, err := fs.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.Equal(t, int64(0), primary.GetCallCount())
}

func TestFailoverStore_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	primary := NewMockStore("primary")
	fallback := NewMockStore("fallback")
	primary.pingFails.Store(true)
	primary.FailWith(errConnRefused)

	fs := NewFailoverStore(primary, fallback, 20*time.Millisecond, zap.New(core))
	defer fs.Close()

	_, err := fs.Exists(context.Background(), "k")
	require.NoError(t, err)

	primary.FailWith(nil)
	primary.pingFails.Store(false)
	require.Eventually(t, func() bool {
		return fs.ActiveBackend() == "primary"
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, logs.FilterMessage("failing over to in-memory store").Len())
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("recovered to primary store").Len() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFailoverStore_ConcurrentAccess(t *testing.T) {
	primary := NewMockStore("primary")
	fallback := NewMockStore("fallback")
	primary.pingFails.Store(true)

	fs := NewFailoverStore(primary, fallback, time.Hour, zap.NewNop())
	defer fs.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 25 {
				primary.FailWith(errConnRefused)
			}
			_, err := fs.Get(context.Background(), "k")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, "fallback", fs.ActiveBackend())
}

func TestFailoverStore_Keys(t *testing.T) {
	fs := NewFailoverStore(NewMockStore("primary"), NewMockStore("fallback"), time.Hour, zap.NewNop())
	defer fs.Close()

	_, err := fs.Keys(context.Background(), "*")
	assert.ErrorIs(t, err, ErrOperationFailed)
}

func TestFailoverStore_CloseStopsProbing(t *testing.T) {
	primary := NewMockStore("primary")
	fallback := NewMockStore("fallback")
	primary.pingFails.Store(true)

	fs := NewFailoverStoreWithFallbackActive(primary, fallback, 10*time.Millisecond, zap.NewNop())
	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())

	assert.True(t, primary.closed.Load())
	assert.True(t, fallback.closed.Load())
}
