package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"qabatch/internal/core/domain"
)

// Metrics holds the pipeline's OpenTelemetry instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	persisted metric.Int64Counter
	failed    metric.Int64Counter
	attempts  metric.Int64Counter
	retries   metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics registers the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.persisted, err = meter.Int64Counter("qabatch.items.persisted",
		metric.WithDescription("Items whose record was appended to the success store")); err != nil {
		return nil, fmt.Errorf("metrics: persisted counter: %w", err)
	}
	if m.failed, err = meter.Int64Counter("qabatch.items.failed",
		metric.WithDescription("Items recorded to the failure log, by error kind")); err != nil {
		return nil, fmt.Errorf("metrics: failed counter: %w", err)
	}
	if m.attempts, err = meter.Int64Counter("qabatch.generation.attempts",
		metric.WithDescription("Calls made to the generative service")); err != nil {
		return nil, fmt.Errorf("metrics: attempts counter: %w", err)
	}
	if m.retries, err = meter.Int64Counter("qabatch.generation.retries",
		metric.WithDescription("Transient failures that were retried")); err != nil {
		return nil, fmt.Errorf("metrics: retries counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("qabatch.item.duration",
		metric.WithDescription("Wall time spent processing one item"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("metrics: duration histogram: %w", err)
	}
	return &m, nil
}

func (m *Metrics) itemPersisted(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.persisted.Add(ctx, 1)
	m.duration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", "persisted")))
}

func (m *Metrics) itemFailed(ctx context.Context, kind domain.ErrorKind, seconds float64) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	m.duration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", "failed")))
}

func (m *Metrics) attempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1)
}

func (m *Metrics) retry(ctx context.Context) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1)
}
