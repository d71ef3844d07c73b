package tts

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the per-message character limit of the synthesis transport.
const DefaultChunkSize = 3000

const sentenceDelimiter = ". "

// a word together with the whitespace that follows it; leading whitespace is its own token
var wordToken = regexp.MustCompile(`^\s+|\S+\s*`)

// Chunk splits text into segments of at most maxSize runes, preferring sentence and then word
// boundaries. Segments are contiguous pieces of text, so joining them yields the input, except
// that a word longer than maxSize is truncated along with the whitespace after it.
func Chunk(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if runeLen(text) <= maxSize {
		return []string{text}
	}

	c := chunker{max: maxSize}
	for _, sentence := range strings.SplitAfter(text, sentenceDelimiter) {
		if sentence == "" {
			continue
		}
		if c.fits(sentence) {
			c.buf.WriteString(sentence)
			continue
		}
		c.flush()
		if runeLen(sentence) <= maxSize {
			c.buf.WriteString(sentence)
			continue
		}
		c.addWords(sentence)
	}
	c.flush()
	return c.out
}

type chunker struct {
	max int
	buf strings.Builder
	out []string
}

func (c *chunker) fits(s string) bool {
	return runeLen(c.buf.String())+runeLen(s) <= c.max
}

func (c *chunker) flush() {
	if c.buf.Len() == 0 {
		return
	}
	c.out = append(c.out, c.buf.String())
	c.buf.Reset()
}

// addSpace buffers a whitespace run, spilling into new segments when the limit is reached.
func (c *chunker) addSpace(ws string) {
	for ws != "" {
		room := c.max - runeLen(c.buf.String())
		if room <= 0 {
			c.flush()
			continue
		}
		head := truncate(ws, room)
		c.buf.WriteString(head)
		ws = ws[len(head):]
	}
}

func (c *chunker) addWords(sentence string) {
	for _, tok := range wordToken.FindAllString(sentence, -1) {
		if c.fits(tok) {
			c.buf.WriteString(tok)
			continue
		}
		c.flush()
		if runeLen(tok) <= c.max {
			c.buf.WriteString(tok)
			continue
		}
		word := strings.TrimRightFunc(tok, unicode.IsSpace)
		if runeLen(word) > c.max {
			// lossy: the remainder of the word and its trailing space are dropped
			c.out = append(c.out, truncate(word, c.max))
			continue
		}
		c.buf.WriteString(word)
		c.addSpace(tok[len(word):])
	}
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
