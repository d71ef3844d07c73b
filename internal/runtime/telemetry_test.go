package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-feedcast/internal/config"
)

func TestMetricsHandlerServesSynthesisBuckets(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = "test"
	shutdown, handler, err := setupTelemetry(cfg, newLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	if handler == nil {
		t.Fatalf("expected a metrics handler")
	}

	hist, err := otel.Meter("feedcast-test").Float64Histogram("feedcast.synthesis.duration_ms", metric.WithUnit("ms"))
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	hist.Record(context.Background(), 300)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{"feedcast_synthesis_duration", `le="250"`, `le="500"`, "go_goroutines"} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
