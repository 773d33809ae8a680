package metrics

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/leafsii/cachekit/pkg/kv"
	kvredis "github.com/leafsii/cachekit/pkg/kv/redis"
)

type Metrics struct {
	HTTPRequests metric.Int64Counter
	HTTPDuration metric.Float64Histogram
	StoreOps     metric.Int64Counter
	StoreLatency metric.Float64Histogram
	CacheHits    metric.Int64Counter
	CacheMisses  metric.Int64Counter

	meter metric.Meter
}

var _ kv.Recorder = (*Metrics)(nil)

// Setup registers the exporter with the global otel provider and returns the
// scrape handler
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	m, handler, provider, err := newWithRegistry(serviceName, promclient.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	otel.SetMeterProvider(provider)
	return m, handler, nil
}

// New builds metrics on a private registry without touching global state
func New(serviceName string) (*Metrics, http.Handler, error) {
	m, handler, _, err := newWithRegistry(serviceName, promclient.NewRegistry())
	return m, handler, err
}

func newWithRegistry(serviceName string, registry *promclient.Registry) (*Metrics, http.Handler, *sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	m := &Metrics{meter: meter}

	m.HTTPRequests, err = meter.Int64Counter(
		"cachekit_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"cachekit_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	m.StoreOps, err = meter.Int64Counter(
		"cachekit_store_operations_total",
		metric.WithDescription("Store operations by operation and outcome"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	m.StoreLatency, err = meter.Float64Histogram(
		"cachekit_store_operation_duration_seconds",
		metric.WithDescription("Store operation duration in seconds, including the wait for a connection"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"cachekit_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"cachekit_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, provider, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

// RecordOperation implements kv.Recorder
func (m *Metrics) RecordOperation(ctx context.Context, op, outcome string, duration time.Duration) {
	m.StoreOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	m.StoreLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("op", op)))
}

// RecordLookup implements kv.Recorder
func (m *Metrics) RecordLookup(ctx context.Context, op string, hit bool) {
	labels := metric.WithAttributes(attribute.String("op", op))
	if hit {
		m.CacheHits.Add(ctx, 1, labels)
		return
	}
	m.CacheMisses.Add(ctx, 1, labels)
}

// PoolStatser is implemented by *redis.Pool
type PoolStatser interface {
	Stats() kvredis.PoolStats
}

// ObservePool exports lease usage of pool as gauges read at scrape time
func (m *Metrics) ObservePool(pool PoolStatser) error {
	inUse, err := m.meter.Int64ObservableGauge(
		"cachekit_pool_leases_in_use",
		metric.WithDescription("Connections currently leased from the pool"),
	)
	if err != nil {
		return err
	}

	capacity, err := m.meter.Int64ObservableGauge(
		"cachekit_pool_capacity",
		metric.WithDescription("Maximum number of concurrent leases"),
	)
	if err != nil {
		return err
	}

	exhausted, err := m.meter.Int64ObservableCounter(
		"cachekit_pool_exhausted_total",
		metric.WithDescription("Acquisitions that timed out waiting for a connection"),
	)
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := pool.Stats()
		o.ObserveInt64(inUse, stats.InUse)
		o.ObserveInt64(capacity, stats.Capacity)
		o.ObserveInt64(exhausted, int64(stats.ExhaustedTotal))
		return nil
	}, inUse, capacity, exhausted)
	return err
}
