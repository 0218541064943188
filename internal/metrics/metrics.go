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
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter
	MarketOperations  metric.Int64Counter
	Resolutions       metric.Int64Counter
	Settlements       metric.Int64Counter
}

// Setup registers the meters on the default Prometheus registry and makes
// the provider global.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	m, provider, err := build(serviceName, promclient.DefaultRegisterer)
	if err != nil {
		return nil, nil, err
	}
	otel.SetMeterProvider(provider)
	return m, promhttp.Handler(), nil
}

// NewWithRegistry builds meters scraped from reg only.
func NewWithRegistry(serviceName string, reg *promclient.Registry) (*Metrics, http.Handler, error) {
	m, _, err := build(serviceName, reg)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func build(serviceName string, reg promclient.Registerer) (*Metrics, *sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"amm_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"amm_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"amm_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"amm_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"amm_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.MarketOperations, err = meter.Int64Counter(
		"amm_market_operations_total",
		metric.WithDescription("Market operations by name and outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Resolutions, err = meter.Int64Counter(
		"amm_market_resolutions_total",
		metric.WithDescription("Finalized markets by resolution path and payout state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Settlements, err = meter.Int64Counter(
		"amm_settlement_attempts_total",
		metric.WithDescription("Settlement transfer attempts by kind and result"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, provider, nil
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

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}

func (m *Metrics) RecordMarketOperation(ctx context.Context, op string, success bool) {
	m.MarketOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", success),
	))
}

func (m *Metrics) RecordResolution(ctx context.Context, path string, state string) {
	m.Resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("payout", state),
	))
}

func (m *Metrics) RecordSettlement(ctx context.Context, kind string, delivered bool) {
	m.Settlements.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("delivered", delivered),
	))
}
