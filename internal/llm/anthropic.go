package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the Anthropic Messages API client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client. An empty baseURL keeps the SDK default.
func NewAnthropicClient(apiKey, baseURL string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
	}, nil
}

// Name returns the provider SDK id.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

func (c *AnthropicClient) params(req *CompletionRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(req.Model),
		MaxTokens:   anthropic.F(int64(maxTokens)),
		Messages:    anthropic.F(messages),
		Temperature: anthropic.F(req.Temperature),
	}
	if req.System != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(req.System)})
	}
	return params
}

// CompleteStream sends a streaming completion request.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	stream := c.client.Messages.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	message := anthropic.Message{}
	var content strings.Builder
	index := 0

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, err
		}

		delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
		if !ok || delta.Text == "" {
			continue
		}
		content.WriteString(delta.Text)
		if err := callback(delta.Text, index); err != nil {
			return nil, err
		}
		index++
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      req.Model,
		Chunks:     index,
		StopReason: string(message.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
