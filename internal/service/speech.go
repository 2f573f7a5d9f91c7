package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/anand-san/murmur/pkg/logger"
	"github.com/anand-san/murmur/pkg/metrics"
	"github.com/anand-san/murmur/pkg/tracing"
)

// ErrUpstream is returned when the speech-to-text provider fails.
var ErrUpstream = errors.New("upstream speech-to-text failed")

// AudioTranscriber is the subset of the go-openai client used for speech-to-text.
type AudioTranscriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// SpeechService proxies audio to a Whisper-compatible endpoint.
type SpeechService struct {
	client AudioTranscriber
	model  string
	logger *logger.Logger
}

// NewSpeechService creates a speech service on a Whisper-compatible base URL.
func NewSpeechService(baseURL, apiKey, modelName string, log *logger.Logger) *SpeechService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewSpeechServiceWithClient(openai.NewClientWithConfig(cfg), modelName, log)
}

// NewSpeechServiceWithClient creates a speech service on an existing client.
func NewSpeechServiceWithClient(client AudioTranscriber, modelName string, log *logger.Logger) *SpeechService {
	return &SpeechService{client: client, model: modelName, logger: log}
}

// Transcribe sends audio to the provider and returns the recognised text.
func (s *SpeechService) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "speech.transcribe")
	defer span.End()

	if filename == "" {
		filename = "recording.wav"
	}
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		metrics.TranscriptionsTotal.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("transcription failed", zap.String("model", s.model), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
	return resp.Text, nil
}
