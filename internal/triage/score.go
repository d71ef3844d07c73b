package triage

import (
	"strings"
	"unicode/utf8"
)

var importanceKeywords = []string{
	"job", "career", "opportunity", "hiring", "position",
	"ai", "artificial intelligence", "machine learning",
	"event", "meeting", "conference", "workshop",
	"update", "announcement", "news", "important",
	"deadline", "urgent", "critical",
}

var engagementKeywords = []string{"please", "help", "need", "urgent", "important"}

const (
	bandScore       = 2.0
	longScore       = 1.0
	keywordScore    = 1.0
	questionScore   = 0.5
	engagementScore = 0.3
)

// Score computes the ranking priority of raw post text. The result is never negative.
func Score(text string) float64 {
	score := 0.0

	length := utf8.RuneCountInString(text)
	switch {
	case length >= 50 && length <= 300:
		score += bandScore
	case length > 300:
		score += longScore
	}

	lower := strings.ToLower(text)
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			score += keywordScore
		}
	}
	if strings.Contains(text, "?") {
		score += questionScore
	}
	for _, kw := range engagementKeywords {
		if strings.Contains(lower, kw) {
			score += engagementScore
		}
	}
	return score
}
