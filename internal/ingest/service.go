// Package ingest exposes the orchestrator over NATS request/reply subjects.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-feedcast/internal/bus"
	"github.com/loqalabs/loqa-feedcast/internal/config"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
	"github.com/loqalabs/loqa-feedcast/internal/orchestrator"
	"github.com/loqalabs/loqa-feedcast/internal/protocol"
	"github.com/loqalabs/loqa-feedcast/internal/tts"
)

// Orchestrator is the subset of the orchestrator the service drives.
type Orchestrator interface {
	Process(ctx context.Context, posts []feed.Post) (orchestrator.Report, error)
	Digest(ctx context.Context, window time.Duration) (orchestrator.DigestReport, error)
	UpdateVoiceConfig(cfg feed.VoiceConfig) error
	VoiceConfig() feed.VoiceConfig
	Stats() orchestrator.Stats
	History() []*feed.Item
	Speak(ctx context.Context, text string, voice *feed.VoiceConfig) (orchestrator.SpeechReport, error)
}

type Service struct {
	cfg    config.IngestConfig
	window time.Duration
	bus    *bus.Client
	orch   Orchestrator
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewService(parent context.Context, cfg config.IngestConfig, digestWindow time.Duration, busClient *bus.Client, orch Orchestrator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		window: digestWindow,
		bus:    busClient,
		orch:   orch,
		logger: logger.With(slog.String("component", "ingest")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectPostsSubmit:    s.handleSubmit,
		protocol.SubjectDigestRequest:  s.handleDigest,
		protocol.SubjectVoiceUpdate:    s.handleVoiceUpdate,
		protocol.SubjectStatsRequest:   s.handleStats,
		protocol.SubjectVoicesList:     s.handleVoices,
		protocol.SubjectHistoryRequest: s.handleHistory,
		protocol.SubjectSpeakRequest:   s.handleSpeak,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().QueueSubscribe(subject, s.cfg.QueueGroup, handler)
		if err != nil {
			s.drainLocked()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.bus.Conn().Flush(); err != nil {
		s.drainLocked()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	s.logger.Info("ingest service listening", slog.String("queue_group", s.cfg.QueueGroup))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainLocked()
}

func (s *Service) drainLocked() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	if !s.cfg.Enabled {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) > 0
}

// PublishItem announces a completed item on the bus.
func (s *Service) PublishItem(it *feed.Item) {
	if !s.cfg.Enabled || s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(protocol.SubjectItemReady, protocol.NewItemEvent(it)); err != nil {
		s.logger.Warn("failed to publish item event", slog.String("post_id", it.Post.ID), slogError(err))
	}
}

func (s *Service) handleSubmit(msg *nats.Msg) {
	var req protocol.SubmitRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.SubmitResponse{Error: "decode request: " + err.Error()})
		return
	}
	if s.cfg.MaxBatch > 0 && len(req.Posts) > s.cfg.MaxBatch {
		s.respond(msg, protocol.SubmitResponse{Error: fmt.Sprintf("batch of %d posts exceeds limit %d", len(req.Posts), s.cfg.MaxBatch)})
		return
	}
	report, err := s.orch.Process(s.ctx, req.Posts)
	resp := protocol.SubmitResponse{
		Succeeded: report.Succeeded,
		Dropped:   report.Dropped,
		Skipped:   report.Skipped,
	}
	if resp.Succeeded == nil {
		resp.Succeeded = []string{}
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, protocol.BatchFailure{PostID: f.PostID, Kind: f.Kind, Error: f.Error})
	}
	if err != nil {
		resp.Error = err.Error()
	}
	s.respond(msg, resp)
}

func (s *Service) handleDigest(msg *nats.Msg) {
	var req protocol.DigestRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.respond(msg, protocol.DigestResponse{Error: "decode request: " + err.Error()})
			return
		}
	}
	window := s.window
	if req.WindowHours > 0 {
		window = time.Duration(req.WindowHours * float64(time.Hour))
	}
	report, err := s.orch.Digest(s.ctx, window)
	if err != nil {
		s.respond(msg, protocol.DigestResponse{Error: err.Error()})
		return
	}
	s.respond(msg, protocol.DigestResponse{
		Empty:             report.Empty,
		Items:             report.Items,
		AudioRef:          report.AudioRef,
		EstimatedDuration: report.Duration,
	})
}

func (s *Service) handleVoiceUpdate(msg *nats.Msg) {
	var cfg feed.VoiceConfig
	if err := json.Unmarshal(msg.Data, &cfg); err != nil {
		s.respond(msg, protocol.VoiceUpdateResponse{Voice: s.orch.VoiceConfig(), Error: "decode request: " + err.Error()})
		return
	}
	resp := protocol.VoiceUpdateResponse{}
	if err := s.orch.UpdateVoiceConfig(cfg); err != nil {
		resp.Error = err.Error()
	}
	resp.Voice = s.orch.VoiceConfig()
	s.respond(msg, resp)
}

func (s *Service) handleStats(msg *nats.Msg) {
	stats := s.orch.Stats()
	s.respond(msg, protocol.StatsResponse{
		TotalProcessed:  stats.TotalProcessed,
		ByPlatform:      stats.ByPlatform,
		AveragePriority: stats.AveragePriority,
		WithAudio:       stats.WithAudio,
	})
}

func (s *Service) handleVoices(msg *nats.Msg) {
	voices := tts.Voices()
	resp := protocol.VoicesResponse{Voices: make([]protocol.VoiceInfo, 0, len(voices))}
	for _, v := range voices {
		resp.Voices = append(resp.Voices, protocol.VoiceInfo{ID: v.ID, Name: v.Name, Style: v.Style})
	}
	s.respond(msg, resp)
}

func (s *Service) handleHistory(msg *nats.Msg) {
	var req protocol.HistoryRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.respond(msg, protocol.HistoryResponse{Items: []protocol.ItemEvent{}, Error: "decode request: " + err.Error()})
			return
		}
	}
	items := s.orch.History()
	if req.Limit > 0 && len(items) > req.Limit {
		items = items[len(items)-req.Limit:]
	}
	resp := protocol.HistoryResponse{Items: make([]protocol.ItemEvent, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, protocol.NewItemEvent(it))
	}
	s.respond(msg, resp)
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.SpeakResponse{Error: "decode request: " + err.Error()})
		return
	}
	report, err := s.orch.Speak(s.ctx, req.Text, req.VoiceConfig)
	if err != nil {
		s.respond(msg, protocol.SpeakResponse{Error: err.Error()})
		return
	}
	s.respond(msg, protocol.SpeakResponse{
		AudioRef:          report.AudioRef,
		EstimatedDuration: report.Duration,
		TextLength:        report.TextLength,
	})
}

func (s *Service) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode reply", slog.String("subject", msg.Subject), slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slog.String("subject", msg.Subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
