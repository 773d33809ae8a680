// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/cachekit/pkg/kv"
)

// Harness is a store under test together with a handle on its clock
type Harness struct {
	Store kv.Store
	// Advance moves the store's notion of time forward so expirations fire
	Advance func(d time.Duration)
}

// Factory creates a fresh, empty store for every subtest
type Factory func(t *testing.T) *Harness

type conformanceTest struct {
	name string
	test func(t *testing.T, h *Harness)
}

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory Factory) {
	groups := []struct {
		name  string
		tests []conformanceTest
	}{
		{"StringOperations", []conformanceTest{
			{"SetGet", testSetGet},
			{"GetMissing", testGetMissing},
			{"Overwrite", testOverwrite},
			{"RejectsMalformed", testRejectsMalformed},
		}},
		{"Expiration", []conformanceTest{
			{"SetWithTTL", testSetWithTTL},
			{"SetWithoutTTL", testSetWithoutTTL},
			{"OverwriteClearsTTL", testOverwriteClearsTTL},
			{"CompositeTTL", testCompositeTTL},
		}},
		{"HashOperations", []conformanceTest{
			{"SetGetAll", testHashSetGetAll},
			{"ReplaceNotMerge", testHashReplace},
			{"EmptyDeletes", testHashEmpty},
		}},
		{"ListOperations", []conformanceTest{
			{"PushKeepsOrder", testListOrder},
			{"ReplaceNotAppend", testListReplace},
		}},
		{"SetOperations", []conformanceTest{
			{"DuplicatesCollapse", testSetDuplicates},
			{"ReplaceNotMerge", testSetReplace},
		}},
		{"SortedSetOperations", []conformanceTest{
			{"RangeByRank", testSortedSetRange},
			{"NegativeIndexes", testSortedSetNegativeRange},
			{"OutOfRange", testSortedSetOutOfRange},
			{"RangeByScore", testSortedSetRangeByScore},
			{"Missing", testSortedSetMissing},
		}},
		{"KeyOperations", []conformanceTest{
			{"Delete", testDelete},
			{"Exists", testExists},
			{"WrongType", testWrongType},
		}},
		{"BatchOperations", []conformanceTest{
			{"BatchSet", testBatchSet},
			{"LaterEntryWins", testBatchOrder},
			{"Empty", testBatchEmpty},
			{"RejectsEmptyKey", testBatchEmptyKey},
		}},
		{"Concurrency", []conformanceTest{
			{"LastWriteWins", testConcurrentSet},
		}},
		{"HealthCheck", []conformanceTest{
			{"Ping", testPing},
		}},
	}

	for _, g := range groups {
		t.Run(g.name, func(t *testing.T) {
			for _, tt := range g.tests {
				t.Run(tt.name, func(t *testing.T) {
					h := factory(t)
					defer h.Store.Close()
					tt.test(t, h)
				})
			}
		})
	}
}

func testSetGet(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Set(ctx, "test:string", "hello world", 0))

	got, err := h.Store.Get(ctx, "test:string")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func testGetMissing(t *testing.T, h *Harness) {
	_, err := h.Store.Get(context.Background(), "test:missing")
	require.Error(t, err)
	assert.True(t, kv.IsNotFound(err), "expected not found, got %v", err)
	assert.NotErrorIs(t, err, kv.ErrOperationFailed)
}

func testOverwrite(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Set(ctx, "test:string", "first", 0))
	require.NoError(t, h.Store.Set(ctx, "test:string", "second", 0))

	got, err := h.Store.Get(ctx, "test:string")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func testRejectsMalformed(t *testing.T, h *Harness) {
	ctx := context.Background()

	err := h.Store.Set(ctx, "", "value", 0)
	assert.ErrorIs(t, err, kv.ErrMalformedArgument)

	err = h.Store.Set(ctx, "test:string", "value", -time.Second)
	assert.ErrorIs(t, err, kv.ErrMalformedArgument)

	_, err = h.Store.Get(ctx, "")
	assert.ErrorIs(t, err, kv.ErrMalformedArgument)

	_, err = h.Store.ListPush(ctx, "test:list", []string{"a"}, -time.Second)
	assert.ErrorIs(t, err, kv.ErrMalformedArgument)

	exists, err := h.Store.Exists(ctx, "test:list")
	require.NoError(t, err)
	assert.False(t, exists, "rejected write must not reach the store")
}

func testSetWithTTL(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Set(ctx, "test:ttl", "value", 2*time.Second))

	got, err := h.Store.Get(ctx, "test:ttl")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	h.Advance(2*time.Second + 100*time.Millisecond)

	_, err = h.Store.Get(ctx, "test:ttl")
	assert.True(t, kv.IsNotFound(err), "expected expired key, got %v", err)
}

func testSetWithoutTTL(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Set(ctx, "test:persist", "value", 0))
	h.Advance(24 * time.Hour)

	got, err := h.Store.Get(ctx, "test:persist")
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func testOverwriteClearsTTL(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Set(ctx, "test:ttl", "short", time.Second))
	require.NoError(t, h.Store.Set(ctx, "test:ttl", "long", 0))
	h.Advance(2 * time.Second)

	got, err := h.Store.Get(ctx, "test:ttl")
	require.NoError(t, err)
	assert.Equal(t, "long", got)
}

func testCompositeTTL(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.HashSet(ctx, "test:hash", map[string]string{"f": "v"}, time.Second))
	_, err := h.Store.ListPush(ctx, "test:list", []string{"a"}, time.Second)
	require.NoError(t, err)
	_, err = h.Store.SetAdd(ctx, "test:set", []string{"a"}, time.Second)
	require.NoError(t, err)
	_, err = h.Store.SortedSetAdd(ctx, "test:zset", map[string]float64{"a": 1}, time.Second)
	require.NoError(t, err)

	h.Advance(1500 * time.Millisecond)

	for _, key := range []string{"test:hash", "test:list", "test:set", "test:zset"} {
		exists, err := h.Store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, "%s should have expired", key)
	}
}

func testHashSetGetAll(t *testing.T, h *Harness) {
	ctx := context.Background()
	fields := map[string]string{"name": "alice", "role": "admin"}

	require.NoError(t, h.Store.HashSet(ctx, "test:hash", fields, 0))

	got, err := h.Store.HashGetAll(ctx, "test:hash")
	require.NoError(t, err)
	assert.Equal(t, fields, got)

	_, err = h.Store.HashGetAll(ctx, "test:nohash")
	assert.True(t, kv.IsNotFound(err))
}

func testHashReplace(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.HashSet(ctx, "test:hash", map[string]string{"a": "1", "b": "2"}, 0))
	require.NoError(t, h.Store.HashSet(ctx, "test:hash", map[string]string{"c": "3"}, 0))

	got, err := h.Store.HashGetAll(ctx, "test:hash")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c": "3"}, got)
}

func testHashEmpty(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.HashSet(ctx, "test:hash", map[string]string{"a": "1"}, 0))
	require.NoError(t, h.Store.HashSet(ctx, "test:hash", map[string]string{}, 0))

	_, err := h.Store.HashGetAll(ctx, "test:hash")
	assert.True(t, kv.IsNotFound(err), "empty payload should leave the key absent, got %v", err)
}

func testListOrder(t *testing.T, h *Harness) {
	ctx := context.Background()
	values := []string{"c", "a", "b", "a"}

	n, err := h.Store.ListPush(ctx, "test:list", values, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	got, err := h.Store.ListGetAll(ctx, "test:list")
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func testListReplace(t *testing.T, h *Harness) {
	ctx := context.Background()

	_, err := h.Store.ListPush(ctx, "test:list", []string{"a", "b"}, 0)
	require.NoError(t, err)
	n, err := h.Store.ListPush(ctx, "test:list", []string{"z"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := h.Store.ListGetAll(ctx, "test:list")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, got)
}

func testSetDuplicates(t *testing.T, h *Harness) {
	ctx := context.Background()

	n, err := h.Store.SetAdd(ctx, "test:set", []string{"x", "y", "x"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := h.Store.SetGetAll(ctx, "test:set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, got)
}

func testSetReplace(t *testing.T, h *Harness) {
	ctx := context.Background()

	_, err := h.Store.SetAdd(ctx, "test:set", []string{"a", "b"}, 0)
	require.NoError(t, err)
	_, err = h.Store.SetAdd(ctx, "test:set", []string{"c"}, 0)
	require.NoError(t, err)

	got, err := h.Store.SetGetAll(ctx, "test:set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c"}, got)
}

func seedSortedSet(t *testing.T, h *Harness) {
	t.Helper()
	n, err := h.Store.SortedSetAdd(context.Background(), "test:zset", map[string]float64{
		"dave":  4,
		"alice": 1,
		"carol": 2,
		"bob":   2,
	}, 0)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func testSortedSetRange(t *testing.T, h *Harness) {
	seedSortedSet(t, h)

	got, err := h.Store.SortedSetRange(context.Background(), "test:zset", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, got)

	got, err = h.Store.SortedSetRange(context.Background(), "test:zset", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, got)
}

func testSortedSetNegativeRange(t *testing.T, h *Harness) {
	seedSortedSet(t, h)

	got, err := h.Store.SortedSetRange(context.Background(), "test:zset", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, got)
}

func testSortedSetOutOfRange(t *testing.T, h *Harness) {
	seedSortedSet(t, h)

	got, err := h.Store.SortedSetRange(context.Background(), "test:zset", 10, 20)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = h.Store.SortedSetRange(context.Background(), "test:zset", 2, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, got)
}

func testSortedSetRangeByScore(t *testing.T, h *Harness) {
	seedSortedSet(t, h)

	got, err := h.Store.SortedSetRangeByScore(context.Background(), "test:zset", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol", "dave"}, got)

	got, err = h.Store.SortedSetRangeByScore(context.Background(), "test:zset", 5, 9)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = h.Store.SortedSetRangeByScore(context.Background(), "test:zset", math.Inf(-1), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got)

	got, err = h.Store.SortedSetRangeByScore(context.Background(), "test:zset", 3, math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, got)
}

func testSortedSetMissing(t *testing.T, h *Harness) {
	_, err := h.Store.SortedSetRange(context.Background(), "test:nozset", 0, -1)
	assert.True(t, kv.IsNotFound(err))

	_, err = h.Store.SortedSetRangeByScore(context.Background(), "test:nozset", 0, 1)
	assert.True(t, kv.IsNotFound(err))
}

func testDelete(t *testing.T, h *Harness) {
	ctx := context.Background()

	n, err := h.Store.Delete(ctx, "test:missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, h.Store.Set(ctx, "test:del", "value", 0))
	n, err = h.Store.Delete(ctx, "test:del")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = h.Store.Get(ctx, "test:del")
	assert.True(t, kv.IsNotFound(err))
}

func testExists(t *testing.T, h *Harness) {
	ctx := context.Background()

	exists, err := h.Store.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = h.Store.SetAdd(ctx, "test:exists", []string{"a"}, 0)
	require.NoError(t, err)

	exists, err = h.Store.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.True(t, exists)
}

func testWrongType(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.HashSet(ctx, "test:hash", map[string]string{"f": "v"}, 0))

	_, err := h.Store.Get(ctx, "test:hash")
	require.Error(t, err)
	assert.ErrorIs(t, err, kv.ErrOperationFailed)
	assert.False(t, kv.IsNotFound(err))

	// Writes overwrite regardless of the previous shape
	require.NoError(t, h.Store.Set(ctx, "test:hash", "now a string", 0))
	got, err := h.Store.Get(ctx, "test:hash")
	require.NoError(t, err)
	assert.Equal(t, "now a string", got)
}

func testBatchSet(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.BatchSet(ctx, []kv.Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}))

	a, err := h.Store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", a)

	b, err := h.Store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", b)
}

func testBatchOrder(t *testing.T, h *Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.BatchSet(ctx, []kv.Entry{
		{Key: "dup", Value: "first"},
		{Key: "other", Value: "x"},
		{Key: "dup", Value: "last"},
	}))

	got, err := h.Store.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "last", got)
}

func testBatchEmpty(t *testing.T, h *Harness) {
	require.NoError(t, h.Store.BatchSet(context.Background(), nil))
}

func testBatchEmptyKey(t *testing.T, h *Harness) {
	ctx := context.Background()

	err := h.Store.BatchSet(ctx, []kv.Entry{{Key: "ok", Value: "1"}, {Key: "", Value: "2"}})
	assert.ErrorIs(t, err, kv.ErrMalformedArgument)

	_, err = h.Store.Get(ctx, "ok")
	assert.True(t, kv.IsNotFound(err), "a rejected batch must write nothing")
}

func testConcurrentSet(t *testing.T, h *Harness) {
	ctx := context.Background()
	const writers = 8

	submitted := make(map[string]bool, writers)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		value := fmt.Sprintf("value-%d", i)
		submitted[value] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.Store.Set(ctx, "test:race", value, 0)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := h.Store.Get(ctx, "test:race")
	require.NoError(t, err)
	assert.True(t, submitted[got], "unexpected value %q", got)
}

func testPing(t *testing.T, h *Harness) {
	require.NoError(t, h.Store.Ping(context.Background()))
}
