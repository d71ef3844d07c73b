package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
	"github.com/loqalabs/loqa-feedcast/internal/config"
)

const (
	postMarker    = "Post: "
	summaryMarker = "Summary:"
	instructions  = "Summarize the following social media post into a clear, concise sentence suitable for " +
		"text-to-speech narration. Focus on the main message and make it conversational."
)

// Prompt builds the narration prompt for a normalized post.
func Prompt(text string) string {
	return instructions + "\n\n" + postMarker + text + "\n\n" + summaryMarker
}

// Summarizer adapts a Generator to the triage pipeline.
type Summarizer struct {
	gen         Generator
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// NewSummarizer wraps gen with the model settings from cfg.
func NewSummarizer(gen Generator, cfg config.LLMConfig, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		gen:         gen,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:      logger.With(slog.String("component", "summarizer")),
	}
}

// Summarize returns the generated narration. Backend failures surface as Upstream errors.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var out strings.Builder
	var latency time.Duration
	err := s.gen.Generate(ctx, Request{
		Prompt:      Prompt(text),
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}, func(c Chunk) error {
		out.WriteString(c.Content)
		latency = c.Latency
		return nil
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.Upstream, "summarize post")
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", apperr.New(apperr.Upstream, "summarizer returned empty text")
	}
	s.logger.Debug("post summarized", slog.Duration("latency", latency), slog.Int("chars", len(summary)))
	return summary, nil
}
