package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-feedcast/internal/archive"
	"github.com/loqalabs/loqa-feedcast/internal/bus"
	"github.com/loqalabs/loqa-feedcast/internal/config"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
	"github.com/loqalabs/loqa-feedcast/internal/ingest"
	"github.com/loqalabs/loqa-feedcast/internal/llm"
	"github.com/loqalabs/loqa-feedcast/internal/natsserver"
	"github.com/loqalabs/loqa-feedcast/internal/orchestrator"
	"github.com/loqalabs/loqa-feedcast/internal/sink"
	"github.com/loqalabs/loqa-feedcast/internal/triage"
	"github.com/loqalabs/loqa-feedcast/internal/tts"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	archive *archive.Store
	orch    *orchestrator.Orchestrator
	ingest  *ingest.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.build(ctx); err != nil {
		r.closeComponents()
		r.shutdownTelemetry()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsSrv, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("context_id", r.orch.ContextID()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.closeComponents()
	r.shutdownTelemetry()
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// build wires bus, storage, generation and synthesis into the orchestrator.
func (r *Runtime) build(ctx context.Context) error {
	cfg := r.cfg
	needBus := cfg.Ingest.Enabled || cfg.Sink.Mode == "objectstore"

	if needBus {
		srv, err := natsserver.Start(cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded nats: %w", err)
		}
		r.nats = srv
		busCfg := cfg.Bus
		if srv != nil {
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.bus = client
	}

	if cfg.Archive.Enabled {
		store, err := archive.Open(ctx, cfg.Archive, r.logger)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		r.archive = store
	}

	out, err := r.newSink(ctx)
	if err != nil {
		return err
	}
	synth, err := r.newSynth()
	if err != nil {
		return err
	}
	gen, err := llm.NewGenerator(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}
	pipeline := triage.NewPipeline(triage.Options{
		MinPostLength:   cfg.Triage.MinPostLength,
		MaxPostLength:   cfg.Triage.MaxPostLength,
		SummaryMaxChars: cfg.Triage.SummaryMaxChars,
	}, llm.NewSummarizer(gen, cfg.LLM, r.logger), r.logger)

	orch, err := orchestrator.New(orchestrator.Options{
		Pipeline:        pipeline,
		Synth:           synth,
		Sink:            out,
		Archive:         r.archive,
		Logger:          r.logger,
		Voice:           cfg.Voice,
		Fanout:          cfg.Feed.Fanout,
		SeenCapacity:    cfg.Feed.SeenCapacity,
		HistoryMaxItems: cfg.Feed.HistoryMaxItems,
		ContextPrefix:   cfg.Feed.ContextPrefix,
		JobTimeout:      time.Duration(cfg.Feed.JobTimeoutMS) * time.Millisecond,
		SampleRate:      cfg.TTS.SampleRate,
		Channels:        cfg.TTS.Channels(),
		Retry: orchestrator.RetryOptions{
			MaxRetries: cfg.Feed.Retry.MaxRetries,
			Backoff:    time.Duration(cfg.Feed.Retry.BackoffMS) * time.Millisecond,
			MaxBackoff: time.Duration(cfg.Feed.Retry.MaxBackoffMS) * time.Millisecond,
		},
		OnItem: r.publishItem,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	r.orch = orch
	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover history: %w", err)
	}

	window := time.Duration(cfg.Feed.DigestWindowHours) * time.Hour
	r.ingest = ingest.NewService(ctx, cfg.Ingest, window, r.bus, orch, r.logger)
	if err := r.ingest.Start(); err != nil {
		return fmt.Errorf("failed to start ingest service: %w", err)
	}
	return nil
}

func (r *Runtime) publishItem(it *feed.Item) {
	if r.ingest != nil {
		r.ingest.PublishItem(it)
	}
}

func (r *Runtime) newSink(ctx context.Context) (sink.Sink, error) {
	switch r.cfg.Sink.Mode {
	case "s3":
		s, err := sink.NewS3Sink(ctx, r.cfg.Sink.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 sink: %w", err)
		}
		r.logger.Info("s3 sink initialized",
			slog.String("bucket", r.cfg.Sink.S3.Bucket),
			slog.String("endpoint", r.cfg.Sink.S3.Endpoint))
		return s, nil
	case "objectstore":
		s, err := sink.NewObjectStoreSink(r.bus.JetStream(), r.cfg.Sink.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind object store: %w", err)
		}
		return s, nil
	default:
		s, err := sink.NewFileSink(r.cfg.Sink.Directory)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio directory: %w", err)
		}
		return s, nil
	}
}

func (r *Runtime) newSynth() (tts.Synthesizer, error) {
	cfg := r.cfg.TTS
	switch cfg.Mode {
	case "stream":
		client, err := tts.NewStreamClient(tts.StreamConfig{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			SampleRate:    cfg.SampleRate,
			ChannelType:   cfg.ChannelType,
			Format:        cfg.Format,
			MaxChunkChars: cfg.MaxChunkChars,
			HeaderBytes:   cfg.HeaderBytes,
			StallTimeout:  time.Duration(cfg.StallTimeoutMS) * time.Millisecond,
			DialTimeout:   time.Duration(cfg.DialTimeoutMS) * time.Millisecond,
		}, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create stream synthesizer: %w", err)
		}
		return client, nil
	case "exec":
		synth, err := tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.MaxChunkChars, cfg.HeaderBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create exec synthesizer: %w", err)
		}
		return synth, nil
	default:
		return tts.NewMockSynth(cfg.SampleRate, cfg.MaxChunkChars), nil
	}
}

func (r *Runtime) closeComponents() {
	if r.ingest != nil {
		r.ingest.Close()
	}
	if r.orch != nil {
		r.orch.Close()
	}
	if r.archive != nil {
		if err := r.archive.Close(); err != nil {
			r.logger.Warn("archive close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
}

func (r *Runtime) shutdownTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) healthy() bool {
	if r.orch == nil || !r.orch.Healthy() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.ingest != nil && !r.ingest.Healthy() {
		return false
	}
	if r.archive != nil && r.archive.Ensure() != nil {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
