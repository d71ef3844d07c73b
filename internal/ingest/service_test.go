package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-feedcast/internal/bus"
	"github.com/loqalabs/loqa-feedcast/internal/config"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
	"github.com/loqalabs/loqa-feedcast/internal/natsserver"
	"github.com/loqalabs/loqa-feedcast/internal/orchestrator"
	"github.com/loqalabs/loqa-feedcast/internal/protocol"
	"github.com/loqalabs/loqa-feedcast/internal/sink"
	"github.com/loqalabs/loqa-feedcast/internal/triage"
	"github.com/loqalabs/loqa-feedcast/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startService(t *testing.T, cfg config.IngestConfig) (*bus.Client, *Service) {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	fileSink, err := sink.NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}
	var svc *Service
	orch, err := orchestrator.New(orchestrator.Options{
		Pipeline: triage.NewPipeline(triage.DefaultOptions(), nil, newLogger()),
		Synth:    tts.NewMockSynth(16000, 0),
		Sink:     fileSink,
		Logger:   newLogger(),
		OnItem:   func(it *feed.Item) { svc.PublishItem(it) },
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	svc = NewService(context.Background(), cfg, 24*time.Hour, client, orch, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start ingest: %v", err)
	}
	t.Cleanup(svc.Close)
	return client, svc
}

func enabledConfig() config.IngestConfig {
	return config.IngestConfig{Enabled: true, QueueGroup: "feedcast", MaxBatch: 10}
}

func request(t *testing.T, client *bus.Client, subject string, req, resp any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.RequestJSON(ctx, subject, req, resp); err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
}

func TestSubmitPublishesItemsAndStats(t *testing.T) {
	client, svc := startService(t, enabledConfig())
	if !svc.Healthy() {
		t.Fatalf("started service reports unhealthy")
	}

	events := make(chan *nats.Msg, 4)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectItemReady, events)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	var resp protocol.SubmitResponse
	request(t, client, protocol.SubjectPostsSubmit, protocol.SubmitRequest{Posts: []feed.Post{
		{ID: "p1", Platform: "linkedin", Author: "alice", Content: "Excited to announce $2M funding for our AI startup!", CreatedAt: time.Now()},
		{ID: "p2", Platform: "twitter", Author: "bob", Content: "lol", CreatedAt: time.Now()},
	}}, &resp)
	if resp.Error != "" || len(resp.Succeeded) != 1 || len(resp.Dropped) != 1 {
		t.Fatalf("unexpected submit response %+v", resp)
	}

	select {
	case msg := <-events:
		var ev protocol.ItemEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.PostID != "p1" || ev.AudioRef == "" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for item event")
	}

	var stats protocol.StatsResponse
	request(t, client, protocol.SubjectStatsRequest, struct{}{}, &stats)
	if stats.TotalProcessed != 1 || stats.WithAudio != 1 || stats.ByPlatform["linkedin"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	var history protocol.HistoryResponse
	request(t, client, protocol.SubjectHistoryRequest, protocol.HistoryRequest{Limit: 5}, &history)
	if len(history.Items) != 1 || history.Items[0].PostID != "p1" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestSubmitRejectsOversizedBatch(t *testing.T) {
	cfg := enabledConfig()
	cfg.MaxBatch = 1
	client, _ := startService(t, cfg)

	var resp protocol.SubmitResponse
	request(t, client, protocol.SubjectPostsSubmit, protocol.SubmitRequest{Posts: []feed.Post{
		{ID: "a", Content: "First post about the product launch"},
		{ID: "b", Content: "Second post about the product launch"},
	}}, &resp)
	if resp.Error == "" {
		t.Fatalf("expected oversized batch to be rejected")
	}
}

func TestDigestAndVoiceSubjects(t *testing.T) {
	client, _ := startService(t, enabledConfig())

	var empty protocol.DigestResponse
	request(t, client, protocol.SubjectDigestRequest, protocol.DigestRequest{}, &empty)
	if !empty.Empty || empty.Error != "" {
		t.Fatalf("expected empty digest, got %+v", empty)
	}

	var submit protocol.SubmitResponse
	request(t, client, protocol.SubjectPostsSubmit, protocol.SubmitRequest{Posts: []feed.Post{
		{ID: "d1", Platform: "twitter", Author: "carol", Content: "Our community event is next week, register now", CreatedAt: time.Now()},
	}}, &submit)

	var digest protocol.DigestResponse
	request(t, client, protocol.SubjectDigestRequest, protocol.DigestRequest{WindowHours: 1}, &digest)
	if digest.Empty || digest.Items != 1 || digest.AudioRef == "" {
		t.Fatalf("unexpected digest %+v", digest)
	}

	voice := feed.DefaultVoice()
	voice.VoiceID = "en-US-priya"
	var updated protocol.VoiceUpdateResponse
	request(t, client, protocol.SubjectVoiceUpdate, voice, &updated)
	if updated.Error != "" || updated.Voice.VoiceID != "en-US-priya" {
		t.Fatalf("unexpected voice update %+v", updated)
	}

	bad := voice
	bad.Pitch = 99
	var rejected protocol.VoiceUpdateResponse
	request(t, client, protocol.SubjectVoiceUpdate, bad, &rejected)
	if rejected.Error == "" || rejected.Voice.VoiceID != "en-US-priya" {
		t.Fatalf("invalid update must be rejected and keep the active voice, got %+v", rejected)
	}

	var voices protocol.VoicesResponse
	request(t, client, protocol.SubjectVoicesList, struct{}{}, &voices)
	if len(voices.Voices) != len(tts.Voices()) {
		t.Fatalf("unexpected voice list %+v", voices)
	}
}

func TestSpeakSubject(t *testing.T) {
	client, _ := startService(t, enabledConfig())

	var resp protocol.SpeakResponse
	request(t, client, protocol.SubjectSpeakRequest, protocol.SpeakRequest{Text: "Welcome to the morning briefing."}, &resp)
	if resp.Error != "" || resp.AudioRef == "" || resp.TextLength != 32 || resp.EstimatedDuration <= 0 {
		t.Fatalf("unexpected speak response %+v", resp)
	}

	var blank protocol.SpeakResponse
	request(t, client, protocol.SubjectSpeakRequest, protocol.SpeakRequest{Text: " "}, &blank)
	if blank.Error == "" {
		t.Fatalf("blank text must be rejected")
	}

	var stats protocol.StatsResponse
	request(t, client, protocol.SubjectStatsRequest, struct{}{}, &stats)
	if stats.TotalProcessed != 0 {
		t.Fatalf("speech must not count as processed posts, got %+v", stats)
	}
}

func TestHistoryRejectsMalformedRequest(t *testing.T) {
	client, _ := startService(t, enabledConfig())
	msg, err := client.Conn().Request(protocol.SubjectHistoryRequest, []byte("{not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var resp protocol.HistoryResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !strings.Contains(resp.Error, "decode request") {
		t.Fatalf("expected decode error, got %+v", resp)
	}
}

func TestDisabledServiceIsInert(t *testing.T) {
	svc := NewService(context.Background(), config.IngestConfig{}, time.Hour, nil, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start disabled: %v", err)
	}
	if !svc.Healthy() {
		t.Fatalf("disabled service should report healthy")
	}
	svc.PublishItem(feed.NewItem(feed.Post{ID: "x"}, "s", 1))
	svc.Close()
}
