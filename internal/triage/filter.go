package triage

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinFilterLength is the shortest text the filter lets through.
const MinFilterLength = 5

var lowValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(ok|k|yes|no|haha|lol|lmao|thanks|thx|ty|cool|nice|wow)$`),
	regexp.MustCompile(`^\?+$`),
	regexp.MustCompile(`^!+$`),
	regexp.MustCompile(`^\.+$`),
	regexp.MustCompile(`^[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}]+$`),
	regexp.MustCompile(`^[a-z]{1,3}$`),
}

func isEmoji(r rune) bool {
	return (r >= 0x1F600 && r <= 0x1F64F) || (r >= 0x1F300 && r <= 0x1F5FF)
}

// IsLowValue reports whether text is spam, an acknowledgement, or mostly emoji.
func IsLowValue(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if utf8.RuneCountInString(lower) < MinFilterLength {
		return true
	}
	for _, p := range lowValuePatterns {
		if p.MatchString(lower) {
			return true
		}
	}

	total, emoji := 0, 0
	for _, r := range text {
		total++
		if isEmoji(r) {
			emoji++
		}
	}
	return float64(emoji) > float64(total)*0.5
}
