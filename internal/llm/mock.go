package llm

import (
	"context"
	"strings"
	"time"
)

const mockSummaryWords = 20

type mockGenerator struct{}

// NewMockGenerator echoes the first words of the post embedded in the prompt.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := req.Prompt
	if idx := strings.LastIndex(text, postMarker); idx >= 0 {
		text = text[idx+len(postMarker):]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), summaryMarker)
	words := strings.Fields(text)
	if len(words) > mockSummaryWords {
		words = words[:mockSummaryWords]
	}
	content := strings.Join(words, " ")
	if content != "" && !strings.HasSuffix(content, ".") {
		content += "."
	}
	return consumer(Chunk{Content: content, Latency: time.Millisecond})
}
