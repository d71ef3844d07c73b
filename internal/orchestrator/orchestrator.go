// Package orchestrator drives posts through triage and synthesis, keeps the processed history
// and assembles digests from it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
	"github.com/loqalabs/loqa-feedcast/internal/archive"
	"github.com/loqalabs/loqa-feedcast/internal/digest"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
	"github.com/loqalabs/loqa-feedcast/internal/history"
	"github.com/loqalabs/loqa-feedcast/internal/sink"
	"github.com/loqalabs/loqa-feedcast/internal/triage"
	"github.com/loqalabs/loqa-feedcast/internal/tts"
)

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("orchestrator closed")

const (
	defaultFanout     = 4
	defaultPrefix     = "socialcast"
	defaultSampleRate = 44100
)

// RetryOptions configure caller-side retries of synthesis jobs. Zero MaxRetries disables them.
type RetryOptions struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Options carry the orchestrator dependencies. Pipeline, Synth and Sink are required.
type Options struct {
	Pipeline *triage.Pipeline
	Synth    tts.Synthesizer
	Sink     sink.Sink
	Archive  *archive.Store
	Clock    func() time.Time
	Logger   *slog.Logger

	Voice           feed.VoiceConfig
	Fanout          int
	SeenCapacity    int
	HistoryMaxItems int
	ContextPrefix   string
	JobTimeout      time.Duration
	SampleRate      int
	Channels        int
	Retry           RetryOptions

	// OnItem is called after each item completes, with or without audio.
	OnItem func(*feed.Item)
}

// Failure describes a post whose synthesis failed.
type Failure struct {
	PostID string `json:"post_id"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// Report summarizes a batch.
type Report struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
	Dropped   []string  `json:"dropped"`
	Skipped   []string  `json:"skipped"`
}

// DigestReport describes a produced digest. Empty means no items fell inside the window.
type DigestReport struct {
	Empty    bool    `json:"empty"`
	Items    int     `json:"items"`
	AudioRef string  `json:"audio_ref,omitempty"`
	Duration float64 `json:"estimated_duration,omitempty"`
	Script   string  `json:"script,omitempty"`
}

// SpeechReport describes narrated free text.
type SpeechReport struct {
	AudioRef   string  `json:"audio_ref"`
	Duration   float64 `json:"estimated_duration"`
	TextLength int     `json:"text_length"`
}

// Stats aggregates the processed history.
type Stats struct {
	TotalProcessed  int            `json:"total_posts_processed"`
	ByPlatform      map[string]int `json:"posts_by_platform"`
	AveragePriority float64        `json:"average_priority"`
	WithAudio       int            `json:"posts_with_audio"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	pipeline *triage.Pipeline
	synth    tts.Synthesizer
	sink     sink.Sink
	archive  *archive.Store
	clock    func() time.Time
	logger   *slog.Logger
	onItem   func(*feed.Item)

	fanout     int
	jobTimeout time.Duration
	sampleRate int
	channels   int
	contextID  string
	seenLimit  int
	historyMax int

	voice   atomic.Pointer[feed.VoiceConfig]
	seen    *history.Seen
	history *history.Store
	retry   retrypolicy.RetryPolicy[*tts.Artifact]
	metrics *metrics

	admit  sync.Mutex
	closed atomic.Bool
}

// New validates the options and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Pipeline == nil || opts.Synth == nil || opts.Sink == nil {
		return nil, errors.New("orchestrator requires a pipeline, a synthesizer and a sink")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Fanout <= 0 {
		opts.Fanout = defaultFanout
	}
	if opts.ContextPrefix == "" {
		opts.ContextPrefix = defaultPrefix
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.Voice == (feed.VoiceConfig{}) {
		opts.Voice = feed.DefaultVoice()
	}
	if err := opts.Voice.Validate(); err != nil {
		return nil, err
	}

	seen, err := history.NewSeen(opts.SeenCapacity)
	if err != nil {
		return nil, fmt.Errorf("create seen set: %w", err)
	}
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	o := &Orchestrator{
		pipeline:   opts.Pipeline,
		synth:      opts.Synth,
		sink:       opts.Sink,
		archive:    opts.Archive,
		clock:      opts.Clock,
		logger:     opts.Logger.With(slog.String("component", "orchestrator")),
		onItem:     opts.OnItem,
		fanout:     opts.Fanout,
		jobTimeout: opts.JobTimeout,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		contextID:  fmt.Sprintf("%s_%d", opts.ContextPrefix, opts.Clock().Unix()),
		seenLimit:  opts.SeenCapacity,
		historyMax: opts.HistoryMaxItems,
		seen:       seen,
		history:    history.NewStore(opts.HistoryMaxItems),
		metrics:    m,
	}
	voice := opts.Voice
	o.voice.Store(&voice)
	if opts.Retry.MaxRetries > 0 {
		o.retry = newRetryPolicy(opts.Retry)
	}
	return o, nil
}

func newRetryPolicy(opts RetryOptions) retrypolicy.RetryPolicy[*tts.Artifact] {
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = opts.Backoff
	}
	return retrypolicy.NewBuilder[*tts.Artifact]().
		WithBackoff(opts.Backoff, opts.MaxBackoff).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		HandleIf(func(_ *tts.Artifact, err error) bool {
			return apperr.IsRetryable(err)
		}).
		Build()
}

// Recover restores seen ids and history from the archive.
func (o *Orchestrator) Recover(ctx context.Context) error {
	if o.archive == nil {
		return nil
	}
	ids, err := o.archive.LoadSeen(ctx, o.seenLimit)
	if err != nil {
		return fmt.Errorf("load seen ids: %w", err)
	}
	for _, id := range ids {
		o.seen.MarkIfNew(id)
	}
	records, err := o.archive.LoadItems(ctx, o.historyMax)
	if err != nil {
		return fmt.Errorf("load archived items: %w", err)
	}
	items, err := archive.Restore(records)
	if err != nil {
		return fmt.Errorf("restore archived items: %w", err)
	}
	for _, it := range items {
		// archived items stay deduplicated even when the seen table was pruned first
		o.seen.MarkIfNew(it.Post.ID)
		o.history.Append(it)
	}
	o.logger.Info("recovered history", slog.Int("seen", len(ids)), slog.Int("items", len(items)))
	return nil
}

// Close rejects further batches. Work already running finishes.
func (o *Orchestrator) Close() {
	if o != nil {
		o.closed.Store(true)
	}
}

// Healthy reports whether the orchestrator accepts work.
func (o *Orchestrator) Healthy() bool { return o != nil && !o.closed.Load() }

// ContextID is the synthesis context shared by every post job.
func (o *Orchestrator) ContextID() string { return o.contextID }

// VoiceConfig returns the voice used for jobs started from now on.
func (o *Orchestrator) VoiceConfig() feed.VoiceConfig { return *o.voice.Load() }

// UpdateVoiceConfig validates cfg and swaps it in. Running jobs keep their snapshot.
func (o *Orchestrator) UpdateVoiceConfig(cfg feed.VoiceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.voice.Store(&cfg)
	o.logger.Info("voice config updated",
		slog.String("voice_id", cfg.VoiceID),
		slog.String("style", cfg.Style))
	return nil
}

// Process runs a batch. Individual failures are reported, never returned.
func (o *Orchestrator) Process(ctx context.Context, posts []feed.Post) (Report, error) {
	var report Report
	if o == nil || o.closed.Load() {
		return report, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	fresh := o.admitPosts(ctx, posts, &report)
	if len(fresh) == 0 {
		return report, nil
	}

	res := o.pipeline.Triage(ctx, fresh)
	report.Dropped = append(report.Dropped, res.Dropped...)
	o.metrics.triaged(ctx, len(res.Items))
	o.metrics.dropped(ctx, len(res.Dropped))

	voice := o.VoiceConfig()
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.fanout)
	for _, it := range res.Items {
		g.Go(func() error {
			err := o.narrate(ctx, it, voice)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, Failure{
					PostID: it.Post.ID,
					Kind:   apperr.KindOf(err).String(),
					Error:  err.Error(),
				})
			} else {
				report.Succeeded = append(report.Succeeded, it.Post.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("batch processed",
		slog.Int("received", len(posts)),
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("failed", len(report.Failed)),
		slog.Int("dropped", len(report.Dropped)),
		slog.Int("skipped", len(report.Skipped)))
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// admitPosts marks unseen posts as seen before triage so concurrent batches never process the
// same id twice.
func (o *Orchestrator) admitPosts(ctx context.Context, posts []feed.Post, report *Report) []feed.Post {
	o.admit.Lock()
	defer o.admit.Unlock()

	var fresh []feed.Post
	var ids []string
	for _, post := range posts {
		if post.ID == "" {
			report.Dropped = append(report.Dropped, post.ID)
			continue
		}
		if !o.seen.MarkIfNew(post.ID) {
			report.Skipped = append(report.Skipped, post.ID)
			continue
		}
		fresh = append(fresh, post)
		ids = append(ids, post.ID)
	}
	if o.archive != nil {
		if err := o.archive.MarkSeen(ctx, ids); err != nil {
			o.logger.Warn("failed to archive seen ids", slogError(err))
		}
	}
	return fresh
}

// narrate synthesizes one item and stores its audio. The item joins the history either way.
func (o *Orchestrator) narrate(ctx context.Context, it *feed.Item, voice feed.VoiceConfig) error {
	jobID := uuid.NewString()
	logger := o.logger.With(slog.String("job_id", jobID), slog.String("post_id", it.Post.ID))
	defer o.complete(it)

	start := time.Now()
	art, err := o.synthesize(ctx, tts.Job{Text: it.Summary, Voice: voice, ContextID: o.contextID})
	o.metrics.duration(ctx, time.Since(start))
	if err != nil {
		o.metrics.failure(ctx, apperr.KindOf(err))
		logger.Warn("synthesis failed", slogError(err))
		return err
	}

	key := fmt.Sprintf("audio_%s_%d.wav", it.Post.ID, o.clock().Unix())
	ref, err := o.sink.Put(ctx, key, art.WAV(o.sampleRate, o.channels, 16))
	if err != nil {
		logger.Warn("failed to store audio", slogError(err))
		return apperr.Wrap(err, apperr.Internal, "store audio")
	}
	if err := it.SetAudio(ref, feed.EstimateDuration(it.Summary)); err != nil {
		return err
	}
	logger.Info("generated audio", slog.String("audio_ref", ref), slog.Int("bytes", art.Len()))
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, job tts.Job) (*tts.Artifact, error) {
	run := func() (*tts.Artifact, error) {
		jobCtx := ctx
		if o.jobTimeout > 0 {
			var cancel context.CancelFunc
			jobCtx, cancel = context.WithTimeout(ctx, o.jobTimeout)
			defer cancel()
		}
		art, err := tts.Collect(jobCtx, o.synth, job)
		if err != nil && ctx.Err() == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(err, apperr.Timeout, "synthesis job exceeded deadline")
		}
		return art, err
	}
	if o.retry == nil {
		return run()
	}
	return failsafe.With(o.retry).WithContext(ctx).Get(run)
}

func (o *Orchestrator) complete(it *feed.Item) {
	if evicted := o.history.Append(it); evicted != nil {
		o.logger.Debug("history full, evicted oldest item", slog.String("post_id", evicted.Post.ID))
	}
	if o.archive != nil {
		// the batch context may already be cancelled; the record is still worth keeping
		if err := o.archive.RecordItem(context.Background(), it); err != nil {
			o.logger.Warn("failed to archive item", slog.String("post_id", it.Post.ID), slogError(err))
		}
	}
	if o.onItem != nil {
		o.onItem(it)
	}
}

// History returns processed items in completion order.
func (o *Orchestrator) History() []*feed.Item { return o.history.Snapshot() }

// Stats aggregates the current history.
func (o *Orchestrator) Stats() Stats {
	items := o.history.Snapshot()
	stats := Stats{TotalProcessed: len(items), ByPlatform: make(map[string]int)}
	var total float64
	for _, it := range items {
		stats.ByPlatform[it.Post.Platform]++
		total += it.Priority
		if it.HasAudio() {
			stats.WithAudio++
		}
	}
	if len(items) > 0 {
		stats.AveragePriority = total / float64(len(items))
	}
	return stats
}

// Digest narrates the items created within window, highest priority first.
func (o *Orchestrator) Digest(ctx context.Context, window time.Duration) (DigestReport, error) {
	if o == nil || o.closed.Load() {
		return DigestReport{}, ErrClosed
	}
	now := o.clock()
	items := digest.Select(o.history.Snapshot(), now, window)
	if len(items) == 0 {
		return DigestReport{Empty: true}, nil
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority > items[j].Priority })
	res := digest.Build(items, now, window)

	art, err := o.synthesize(ctx, tts.Job{Text: res.Script, Voice: o.VoiceConfig(), ContextID: "digest_" + o.contextID})
	if err != nil {
		o.metrics.failure(ctx, apperr.KindOf(err))
		return DigestReport{}, err
	}
	key := fmt.Sprintf("daily_digest_%d.wav", now.Unix())
	ref, err := o.sink.Put(ctx, key, art.WAV(o.sampleRate, o.channels, 16))
	if err != nil {
		return DigestReport{}, apperr.Wrap(err, apperr.Internal, "store digest audio")
	}
	o.logger.Info("generated digest", slog.String("audio_ref", ref), slog.Int("items", len(res.Items)))
	return DigestReport{
		Items:    len(res.Items),
		AudioRef: ref,
		Duration: feed.EstimateDuration(res.Script),
		Script:   res.Script,
	}, nil
}

// Speak narrates text outside the feed. It neither touches the history nor the seen set. A nil
// voice uses the active voice config.
func (o *Orchestrator) Speak(ctx context.Context, text string, voice *feed.VoiceConfig) (SpeechReport, error) {
	if o == nil || o.closed.Load() {
		return SpeechReport{}, ErrClosed
	}
	v := o.VoiceConfig()
	if voice != nil {
		if err := voice.Validate(); err != nil {
			return SpeechReport{}, err
		}
		v = *voice
	}
	jobID := uuid.NewString()
	art, err := o.synthesize(ctx, tts.Job{Text: text, Voice: v, ContextID: "tts_" + o.contextID})
	if err != nil {
		o.metrics.failure(ctx, apperr.KindOf(err))
		return SpeechReport{}, err
	}
	key := fmt.Sprintf("tts_%d_%s.wav", o.clock().Unix(), jobID[:8])
	ref, err := o.sink.Put(ctx, key, art.WAV(o.sampleRate, o.channels, 16))
	if err != nil {
		return SpeechReport{}, apperr.Wrap(err, apperr.Internal, "store speech audio")
	}
	o.logger.Info("generated speech", slog.String("job_id", jobID), slog.String("audio_ref", ref))
	return SpeechReport{
		AudioRef:   ref,
		Duration:   feed.EstimateDuration(text),
		TextLength: utf8.RuneCountInString(text),
	}, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
