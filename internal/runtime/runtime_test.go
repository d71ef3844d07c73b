package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-feedcast/internal/config"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
	"github.com/loqalabs/loqa-feedcast/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Bus.Host = "127.0.0.1"
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = filepath.Join(dir, "nats")
	cfg.Archive.Path = filepath.Join(dir, "feedcast.db")
	cfg.Sink.Directory = filepath.Join(dir, "audio")
	return cfg
}

func buildRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	r := New(cfg, newLogger())
	if err := r.build(context.Background()); err != nil {
		r.closeComponents()
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(r.closeComponents)
	return r
}

func TestBuildWiresIngestOverEmbeddedBus(t *testing.T) {
	r := buildRuntime(t, testConfig(t))
	if !r.healthy() {
		t.Fatalf("freshly built runtime should be healthy")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var resp protocol.SubmitResponse
	err := r.bus.RequestJSON(ctx, protocol.SubjectPostsSubmit, protocol.SubmitRequest{Posts: []feed.Post{
		{ID: "rt1", Platform: "linkedin", Author: "dana", Content: "Excited to announce $2M funding for our AI startup!", CreatedAt: time.Now()},
	}}, &resp)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(resp.Succeeded) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if stats := r.orch.Stats(); stats.WithAudio != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestBuildRecoversArchivedHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.Enabled = false

	first := New(cfg, newLogger())
	if err := first.build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err := first.orch.Process(context.Background(), []feed.Post{
		{ID: "keep", Platform: "twitter", Author: "eve", Content: "Registration for the community event is open", CreatedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	first.closeComponents()

	second := buildRuntime(t, cfg)
	if got := second.orch.Stats().TotalProcessed; got != 1 {
		t.Fatalf("expected recovered history, got %d items", got)
	}
	if second.bus != nil {
		t.Fatalf("bus must not be started without ingest or object store")
	}
}

func TestBuildObjectStoreSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.Enabled = false
	cfg.Sink.Mode = "objectstore"
	r := buildRuntime(t, cfg)

	report, err := r.orch.Process(context.Background(), []feed.Post{
		{ID: "obj", Platform: "twitter", Author: "finn", Content: "New release notes are published for the platform", CreatedAt: time.Now()},
	})
	if err != nil || len(report.Succeeded) != 1 {
		t.Fatalf("process: %+v %v", report, err)
	}
	ref := r.orch.History()[0].AudioRef()
	if len(ref) < len("objectstore://") || ref[:len("objectstore://")] != "objectstore://" {
		t.Fatalf("unexpected audio ref %q", ref)
	}
}

func TestReadyEndpoint(t *testing.T) {
	r := buildRuntime(t, testConfig(t))

	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before start, got %d", rec.Code)
	}

	r.ready.Store(true)
	rec = httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}

	r.orch.Close()
	rec = httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed orchestrator must report not ready, got %d", rec.Code)
	}
}
