package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
)

type metrics struct {
	triagedCount  metric.Int64Counter
	droppedCount  metric.Int64Counter
	failureCount  metric.Int64Counter
	synthDuration metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-feedcast/internal/orchestrator")
	triaged, err := meter.Int64Counter("feedcast.posts.triaged",
		metric.WithDescription("Posts that passed triage"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("feedcast.posts.dropped",
		metric.WithDescription("Posts rejected by triage"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("feedcast.synthesis.failures",
		metric.WithDescription("Synthesis jobs that failed"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("feedcast.synthesis.duration_ms",
		metric.WithDescription("Synthesis job latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &metrics{
		triagedCount:  triaged,
		droppedCount:  dropped,
		failureCount:  failures,
		synthDuration: duration,
	}, nil
}

func (m *metrics) triaged(ctx context.Context, n int) {
	if n > 0 {
		m.triagedCount.Add(ctx, int64(n))
	}
}

func (m *metrics) dropped(ctx context.Context, n int) {
	if n > 0 {
		m.droppedCount.Add(ctx, int64(n))
	}
}

func (m *metrics) failure(ctx context.Context, kind apperr.Kind) {
	m.failureCount.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *metrics) duration(ctx context.Context, d time.Duration) {
	m.synthDuration.Record(ctx, float64(d.Microseconds())/1000)
}
