package feed

import (
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
)

// Post is a social media post as harvested from a platform.
type Post struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
	SourceURL string    `json:"url,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
}

// Item is a triaged post ready for narration. Audio fields are assigned once.
type Item struct {
	Post     Post
	Summary  string
	Priority float64

	mu       sync.RWMutex
	audioRef string
	duration float64
}

// NewItem creates an item without audio.
func NewItem(post Post, summary string, priority float64) *Item {
	return &Item{Post: post, Summary: summary, Priority: priority}
}

// SetAudio records the artifact reference and duration estimate.
func (it *Item) SetAudio(ref string, durationSeconds float64) error {
	if ref == "" {
		return apperr.New(apperr.Validation, "audio reference must not be empty")
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.audioRef != "" {
		return apperr.New(apperr.Conflict, "audio reference already set").WithMetadata("post_id", it.Post.ID)
	}
	it.audioRef = ref
	it.duration = durationSeconds
	return nil
}

// AudioRef returns the artifact reference, or "" when synthesis did not succeed.
func (it *Item) AudioRef() string {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.audioRef
}

// EstimatedDuration returns the narration length estimate in seconds.
func (it *Item) EstimatedDuration() float64 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.duration
}

// HasAudio reports whether an artifact reference is recorded.
func (it *Item) HasAudio() bool { return it.AudioRef() != "" }

// WordsPerMinute is the narration pace used for duration estimates.
const WordsPerMinute = 150

// EstimateDuration approximates narration time for text in seconds.
func EstimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	return float64(words) / WordsPerMinute * 60
}
