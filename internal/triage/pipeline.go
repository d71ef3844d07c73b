package triage

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

// Summarizer turns normalized post text into a one-paragraph narration.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Options tune the pipeline thresholds.
type Options struct {
	MinPostLength   int
	MaxPostLength   int
	SummaryMaxChars int
}

// DefaultOptions mirrors the thresholds used by the feed service out of the box.
func DefaultOptions() Options {
	return Options{MinPostLength: 10, MaxPostLength: 1000, SummaryMaxChars: 150}
}

// Result holds the surviving items ordered by priority and the ids that were filtered out.
type Result struct {
	Items   []*feed.Item
	Dropped []string
}

// Pipeline runs filter, normalization, summarization and scoring over a batch of posts.
type Pipeline struct {
	opts       Options
	summarizer Summarizer
	logger     *slog.Logger
}

// NewPipeline builds a pipeline. A nil summarizer always uses the local fallback.
func NewPipeline(opts Options, summarizer Summarizer, logger *slog.Logger) *Pipeline {
	def := DefaultOptions()
	if opts.MinPostLength < 0 {
		opts.MinPostLength = def.MinPostLength
	}
	if opts.MaxPostLength <= 0 {
		opts.MaxPostLength = def.MaxPostLength
	}
	if opts.SummaryMaxChars <= 3 {
		opts.SummaryMaxChars = def.SummaryMaxChars
	}
	return &Pipeline{
		opts:       opts,
		summarizer: summarizer,
		logger:     logger.With(slog.String("component", "triage")),
	}
}

// Triage processes posts in order. It never fails for an individual post.
func (p *Pipeline) Triage(ctx context.Context, posts []feed.Post) Result {
	var res Result
	for _, post := range posts {
		item, ok := p.triageOne(ctx, post)
		if !ok {
			res.Dropped = append(res.Dropped, post.ID)
			continue
		}
		res.Items = append(res.Items, item)
	}
	sort.SliceStable(res.Items, func(i, j int) bool {
		return res.Items[i].Priority > res.Items[j].Priority
	})
	return res
}

func (p *Pipeline) triageOne(ctx context.Context, post feed.Post) (*feed.Item, bool) {
	text := Normalize(post.Content)
	if IsLowValue(text) {
		p.logger.Debug("filtered low value post", slog.String("post_id", post.ID))
		return nil, false
	}
	if utf8.RuneCountInString(text) < p.opts.MinPostLength {
		p.logger.Debug("filtered short post", slog.String("post_id", post.ID))
		return nil, false
	}
	text = truncateRunes(text, p.opts.MaxPostLength)

	summary := p.summarize(ctx, post.ID, text)
	return feed.NewItem(post, summary, Score(post.Content)), true
}

func (p *Pipeline) summarize(ctx context.Context, postID, text string) string {
	if p.summarizer != nil {
		summary, err := p.summarizer.Summarize(ctx, text)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary)
		}
		if err != nil {
			p.logger.Warn("summarizer failed, using fallback",
				slog.String("post_id", postID), slogError(err))
		}
	}
	return FallbackSummary(text, p.opts.SummaryMaxChars)
}

// FallbackSummary takes the first sentence, terminates it with a period and caps its length.
func FallbackSummary(text string, maxChars int) string {
	summary := text
	if idx := strings.Index(text, ". "); idx >= 0 {
		summary = text[:idx]
	}
	if !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	if utf8.RuneCountInString(summary) > maxChars {
		summary = truncateRunes(summary, maxChars-3) + "..."
	}
	return summary
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
