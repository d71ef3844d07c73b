// Package digest assembles triaged items into a single narration script.
package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

const closing = "That concludes your social media digest. Thanks for listening!"

// Result is the outcome of building a digest. Empty means the window held no items.
type Result struct {
	Script string
	Items  []*feed.Item
	Empty  bool
}

// Select keeps items created at or after now-window, preserving order.
func Select(items []*feed.Item, now time.Time, window time.Duration) []*feed.Item {
	cutoff := now.Add(-window)
	var out []*feed.Item
	for _, it := range items {
		if !it.Post.CreatedAt.Before(cutoff) {
			out = append(out, it)
		}
	}
	return out
}

// BuildScript narrates items in the given order.
func BuildScript(items []*feed.Item) string {
	parts := make([]string, 0, len(items)+2)
	parts = append(parts, fmt.Sprintf("Here's your %d-post social media digest:", len(items)))
	for i, it := range items {
		parts = append(parts, fmt.Sprintf("Post %d from %s on %s: %s", i+1, it.Post.Author, it.Post.Platform, it.Summary))
	}
	parts = append(parts, closing)
	return strings.Join(parts, " ")
}

// Build selects the window and produces the script.
func Build(items []*feed.Item, now time.Time, window time.Duration) Result {
	selected := Select(items, now, window)
	if len(selected) == 0 {
		return Result{Empty: true}
	}
	return Result{Script: BuildScript(selected), Items: selected}
}
