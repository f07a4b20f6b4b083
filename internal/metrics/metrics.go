package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics methods are safe on a nil receiver, so callers can run without
// a meter.
type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter

	Instructions     metric.Int64Counter
	PenaltyAccrued   metric.Int64Counter
	PenaltyHarvested metric.Int64Counter
	PriceSamples     metric.Int64Counter
	PegTransitions   metric.Int64Counter
	PegBroken        metric.Int64UpDownCounter
	FeedRefreshes    metric.Int64Counter
}

// Setup installs a Prometheus-backed meter provider and returns the
// instruments plus the /metrics handler.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := New(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// New creates every instrument on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequests, err = meter.Int64Counter(
		"lcr_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.HTTPDuration, err = meter.Float64Histogram(
		"lcr_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}

	if m.CacheHits, err = meter.Int64Counter(
		"lcr_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	); err != nil {
		return nil, err
	}

	if m.CacheMisses, err = meter.Int64Counter(
		"lcr_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	); err != nil {
		return nil, err
	}

	if m.ActiveConnections, err = meter.Int64UpDownCounter(
		"lcr_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	); err != nil {
		return nil, err
	}

	if m.Instructions, err = meter.Int64Counter(
		"lcr_instructions_total",
		metric.WithDescription("Instructions processed, by name and outcome"),
	); err != nil {
		return nil, err
	}

	if m.PenaltyAccrued, err = meter.Int64Counter(
		"lcr_penalty_accrued_lamports_total",
		metric.WithDescription("Penalty accrued against loans, in lamports"),
	); err != nil {
		return nil, err
	}

	if m.PenaltyHarvested, err = meter.Int64Counter(
		"lcr_penalty_harvested_lamports_total",
		metric.WithDescription("Penalty liquidated, in lamports"),
	); err != nil {
		return nil, err
	}

	if m.PriceSamples, err = meter.Int64Counter(
		"lcr_price_samples_total",
		metric.WithDescription("Price samples recorded into the history"),
	); err != nil {
		return nil, err
	}

	if m.PegTransitions, err = meter.Int64Counter(
		"lcr_peg_transitions_total",
		metric.WithDescription("Peg flag changes, by direction"),
	); err != nil {
		return nil, err
	}

	if m.PegBroken, err = meter.Int64UpDownCounter(
		"lcr_peg_broken",
		metric.WithDescription("1 while the synthetic asset is off peg"),
	); err != nil {
		return nil, err
	}

	if m.FeedRefreshes, err = meter.Int64Counter(
		"lcr_oracle_refreshes_total",
		metric.WithDescription("Oracle feed refreshes, by provider and outcome"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, -1)
}

// RecordInstruction counts one invocation. outcome is "ok" or the error kind.
func (m *Metrics) RecordInstruction(ctx context.Context, name, outcome string) {
	if m == nil {
		return
	}
	m.Instructions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instruction", name),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordPenaltyAccrued(ctx context.Context, lamports uint64) {
	if m == nil || lamports == 0 {
		return
	}
	m.PenaltyAccrued.Add(ctx, clampInt64(lamports))
}

func (m *Metrics) RecordPenaltyHarvested(ctx context.Context, venue string, lamports uint64) {
	if m == nil {
		return
	}
	m.PenaltyHarvested.Add(ctx, clampInt64(lamports), metric.WithAttributes(attribute.String("venue", venue)))
}

func (m *Metrics) RecordPriceSample(ctx context.Context) {
	if m == nil {
		return
	}
	m.PriceSamples.Add(ctx, 1)
}

// RecordPegChange tracks a flip of the peg flag.
func (m *Metrics) RecordPegChange(ctx context.Context, broken bool) {
	if m == nil {
		return
	}
	direction, delta := "restored", int64(-1)
	if broken {
		direction, delta = "broken", 1
	}
	m.PegTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
	m.PegBroken.Add(ctx, delta)
}

func (m *Metrics) RecordFeedRefresh(ctx context.Context, provider string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.FeedRefreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func clampInt64(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}
