package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/cachekit/pkg/kv"
	"github.com/leafsii/cachekit/pkg/kv/kvtest"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) *kvtest.Harness {
		clock := newFakeClock()
		return &kvtest.Harness{
			Store:   New(0, WithClock(clock.Now)), // Disable janitor for deterministic tests
			Advance: clock.Advance,
		}
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestMemoryStoreWithJanitor(t *testing.T) {
	clock := newFakeClock()
	store := New(10*time.Millisecond, WithClock(clock.Now))
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:janitor", "test", 20*time.Millisecond))
	require.NoError(t, store.Set(ctx, "test:keep", "test", 0))
	require.Equal(t, 2, store.Len())

	clock.Advance(time.Second)

	assert.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		_, present := store.items["test:janitor"]
		return !present
	}, time.Second, 5*time.Millisecond, "janitor should evict the expired key")

	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreKeys(t *testing.T) {
	clock := newFakeClock()
	store := New(0, WithClock(clock.Now))
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "user:1", "a", 0))
	require.NoError(t, store.Set(ctx, "user:2", "b", time.Second))
	require.NoError(t, store.Set(ctx, "user/1", "c", 0))
	require.NoError(t, store.Set(ctx, "plain", "d", 0))
	require.NoError(t, store.HashSet(ctx, "session:1", map[string]string{"f": "v"}, 0))

	keys, err := store.Keys(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1", "user:2"}, keys)

	keys, err = store.Keys(ctx, "user*")
	require.NoError(t, err)
	assert.Equal(t, []string{"user/1", "user:1", "user:2"}, keys, "* spans separators")

	keys, err = store.Keys(ctx, "user?1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user/1", "user:1"}, keys)

	clock.Advance(2 * time.Second)

	keys, err = store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", "session:1", "user/1", "user:1"}, keys)

	keys, err = store.Keys(ctx, "nomatch*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryStoreClosed(t *testing.T) {
	store := New(time.Minute)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is idempotent")

	ctx := context.Background()
	assert.ErrorIs(t, store.Ping(ctx), kv.ErrConnectionUnavailable)
	assert.ErrorIs(t, store.Set(ctx, "k", "v", 0), kv.ErrConnectionUnavailable)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrConnectionUnavailable)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := New(0)
	defer store.Close()

	ctx := context.Background()
	fields := map[string]string{"a": "1"}
	require.NoError(t, store.HashSet(ctx, "h", fields, 0))
	fields["a"] = "mutated"

	got, err := store.HashGetAll(ctx, "h")
	require.NoError(t, err)
	got["b"] = "2"

	again, err := store.HashGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, again)
}

func TestRegisteredBackend(t *testing.T) {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*Store)
	assert.True(t, ok, "expected *memory.Store, got %T", store)
}
