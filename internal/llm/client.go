// Package llm provides language model clients and the per-request provider registry.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrModelNotAvailable is returned when a model id cannot be resolved to a provider handle.
	ErrModelNotAvailable = errors.New("model not available")
	// ErrUnsupportedProvider is returned when no client can be built for a provider SDK id.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for a provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	Chunks     int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for language model providers.
type Client interface {
	// CompleteStream sends a streaming completion request. It returns an error
	// if the stream fails or ctx is cancelled before the provider finishes.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider SDK id.
	Name() string
}

// Credential is a decrypted provider credential handed to a Factory.
type Credential struct {
	ProviderID string
	APIKey     string
	BaseURL    string
}

// Factory builds a client for one provider SDK id.
type Factory func(cred Credential) (Client, error)

// OpenAI-compatible endpoints keyed by provider SDK id.
var compatibleBaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"ollama":   "http://localhost:11434/v1",
}

// DefaultFactories returns the factories for every supported provider SDK id.
func DefaultFactories() map[string]Factory {
	factories := map[string]Factory{
		"anthropic": func(cred Credential) (Client, error) {
			return NewAnthropicClient(cred.APIKey, cred.BaseURL)
		},
	}
	for id, base := range compatibleBaseURLs {
		id, base := id, base
		factories[id] = func(cred Credential) (Client, error) {
			url := cred.BaseURL
			if url == "" {
				url = base
			}
			return NewOpenAIClient(id, cred.APIKey, url, id != "ollama")
		}
	}
	return factories
}
