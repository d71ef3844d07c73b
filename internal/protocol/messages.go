package protocol

import (
	"time"

	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

const (
	SubjectPostsSubmit    = "feed.posts.submit"
	SubjectDigestRequest  = "feed.digest.request"
	SubjectVoiceUpdate    = "feed.voice.update"
	SubjectStatsRequest   = "feed.stats.request"
	SubjectVoicesList     = "feed.voices.list"
	SubjectHistoryRequest = "feed.history.request"
	SubjectSpeakRequest   = "feed.tts.generate"
	SubjectItemReady      = "feed.item.ready"
)

// SubmitRequest carries a batch of harvested posts.
type SubmitRequest struct {
	Posts []feed.Post `json:"posts"`
}

// BatchFailure describes one post whose narration failed.
type BatchFailure struct {
	PostID string `json:"post_id"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// SubmitResponse reports the outcome of a batch.
type SubmitResponse struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed,omitempty"`
	Dropped   []string       `json:"dropped,omitempty"`
	Skipped   []string       `json:"skipped,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// DigestRequest asks for a digest of the last WindowHours. Zero uses the configured window.
type DigestRequest struct {
	WindowHours float64 `json:"window_hours,omitempty"`
}

// DigestResponse describes the produced digest.
type DigestResponse struct {
	Empty             bool    `json:"empty"`
	Items             int     `json:"items"`
	AudioRef          string  `json:"audio_ref,omitempty"`
	EstimatedDuration float64 `json:"estimated_duration,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// VoiceUpdateResponse echoes the active voice after an update.
type VoiceUpdateResponse struct {
	Voice feed.VoiceConfig `json:"voice"`
	Error string           `json:"error,omitempty"`
}

// StatsResponse mirrors the orchestrator statistics.
type StatsResponse struct {
	TotalProcessed  int            `json:"total_posts_processed"`
	ByPlatform      map[string]int `json:"posts_by_platform"`
	AveragePriority float64        `json:"average_priority"`
	WithAudio       int            `json:"posts_with_audio"`
}

// VoiceInfo is one entry of the voice catalogue.
type VoiceInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Style string `json:"style"`
}

// VoicesResponse lists the available voices.
type VoicesResponse struct {
	Voices []VoiceInfo `json:"voices"`
}

// HistoryRequest limits the returned history to the most recent Limit items. Zero returns all.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResponse lists processed items in completion order.
type HistoryResponse struct {
	Items []ItemEvent `json:"items"`
	Error string      `json:"error,omitempty"`
}

// SpeakRequest narrates arbitrary text. A nil VoiceConfig uses the active voice.
type SpeakRequest struct {
	Text        string            `json:"text"`
	VoiceConfig *feed.VoiceConfig `json:"voice_config,omitempty"`
}

// SpeakResponse references the stored narration.
type SpeakResponse struct {
	AudioRef          string  `json:"audio_ref,omitempty"`
	EstimatedDuration float64 `json:"estimated_duration,omitempty"`
	TextLength        int     `json:"text_length,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// ItemEvent is published whenever an item finishes processing.
type ItemEvent struct {
	PostID            string    `json:"post_id"`
	Platform          string    `json:"platform"`
	Author            string    `json:"author"`
	Summary           string    `json:"summary"`
	Priority          float64   `json:"priority"`
	AudioRef          string    `json:"audio_ref,omitempty"`
	EstimatedDuration float64   `json:"estimated_duration,omitempty"`
	CreatedAt         time.Time `json:"timestamp"`
}

// NewItemEvent snapshots an item.
func NewItemEvent(it *feed.Item) ItemEvent {
	return ItemEvent{
		PostID:            it.Post.ID,
		Platform:          it.Post.Platform,
		Author:            it.Post.Author,
		Summary:           it.Summary,
		Priority:          it.Priority,
		AudioRef:          it.AudioRef(),
		EstimatedDuration: it.EstimatedDuration(),
		CreatedAt:         it.Post.CreatedAt,
	}
}
