package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/cachekit/pkg/kv"
	kvredis "github.com/leafsii/cachekit/pkg/kv/redis"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_RecordsStoreOperations(t *testing.T) {
	m, handler, err := New("cachekit-test")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordOperation(ctx, "get", kv.OutcomeOK, 3*time.Millisecond)
	m.RecordOperation(ctx, "get", kv.OutcomeNotFound, time.Millisecond)
	m.RecordLookup(ctx, "get", true)
	m.RecordLookup(ctx, "get", false)
	m.RecordHTTPRequest(ctx, http.MethodGet, "/v1/strings/{key}", http.StatusOK, 5*time.Millisecond)

	body := scrape(t, handler)
	assert.Contains(t, body, "cachekit_store_operations_total")
	assert.Contains(t, body, `outcome="not_found"`)
	assert.Contains(t, body, "cachekit_store_operation_duration_seconds_bucket")
	assert.Contains(t, body, "cachekit_cache_hits_total")
	assert.Contains(t, body, "cachekit_cache_misses_total")
	assert.Contains(t, body, "cachekit_http_requests_total")
}

type fakePool struct{}

func (fakePool) Stats() kvredis.PoolStats {
	return kvredis.PoolStats{Capacity: 8, InUse: 3, ExhaustedTotal: 2}
}

func TestMetrics_ObservePool(t *testing.T) {
	m, handler, err := New("cachekit-test")
	require.NoError(t, err)
	require.NoError(t, m.ObservePool(fakePool{}))

	body := scrape(t, handler)
	assert.Contains(t, body, "cachekit_pool_leases_in_use")
	assert.Contains(t, body, "cachekit_pool_capacity")
	assert.Contains(t, body, "cachekit_pool_exhausted_total")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	_, _, err := New("a")
	require.NoError(t, err)
	_, _, err = New("b")
	require.NoError(t, err)
}
