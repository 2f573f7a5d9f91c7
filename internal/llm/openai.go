package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to OpenAI and to any provider exposing the same chat API.
type OpenAIClient struct {
	name   string
	client *openai.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(name, apiKey, baseURL string, requireKey bool) (*OpenAIClient, error) {
	if requireKey && apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAIClient{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
	}, nil
}

// Name returns the provider SDK id.
func (c *OpenAIClient) Name() string {
	return c.name
}

func (c *OpenAIClient) request(req *CompletionRequest) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	}
}

// CompleteStream sends a streaming completion request.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	creq := c.request(req)
	creq.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content strings.Builder
	var stopReason string
	index := 0

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			content.WriteString(delta)
			if err := callback(delta, index); err != nil {
				return nil, err
			}
			index++
		}
		if response.Choices[0].FinishReason != "" {
			stopReason = string(response.Choices[0].FinishReason)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      req.Model,
		Chunks:     index,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
