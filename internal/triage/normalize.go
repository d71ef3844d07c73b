package triage

import (
	"regexp"
	"strings"
)

var (
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	mentionPattern    = regexp.MustCompile(`@[\p{L}\p{N}_]+`)
	hashtagPattern    = regexp.MustCompile(`#+([\p{L}\p{N}_]+)`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize removes URLs and mentions, unwraps hashtags and collapses whitespace.
// A removal can expose a new match (e.g. "@#tag"), so passes repeat until nothing changes.
// No pass lengthens the text, which bounds the loop.
func Normalize(text string) string {
	for {
		next := normalizePass(text)
		if next == text {
			return next
		}
		text = next
	}
}

func normalizePass(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = mentionPattern.ReplaceAllString(text, "")
	text = hashtagPattern.ReplaceAllString(text, "$1")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
