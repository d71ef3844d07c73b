package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

type openAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator streams chat completions. An empty baseURL uses the public API.
func NewOpenAIGenerator(apiKey, baseURL, model string) Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := req.Model
	if model == "" {
		model = g.model
	}
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	start := time.Now()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return consumer(Chunk{Latency: time.Since(start)})
		}
		if err != nil {
			return fmt.Errorf("openai receive: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := consumer(Chunk{
			Content: resp.Choices[0].Delta.Content,
			Partial: true,
			Latency: time.Since(start),
		}); err != nil {
			return err
		}
	}
}
