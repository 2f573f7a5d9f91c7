package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/llm"
	"github.com/anand-san/murmur/internal/model"
	natsclient "github.com/anand-san/murmur/internal/nats"
	"github.com/anand-san/murmur/pkg/logger"
	"github.com/anand-san/murmur/pkg/metrics"
	"github.com/anand-san/murmur/pkg/tracing"
)

const persistTimeout = 30 * time.Second

// RegistryBuilder builds the provider registry for one request.
type RegistryBuilder interface {
	Build(ctx context.Context) (*llm.Registry, error)
}

// SystemResolver resolves the system message of an owner's agent. An empty
// id selects the owner's default agent.
type SystemResolver interface {
	SystemMessage(ctx context.Context, owner, id string) (string, bool, error)
}

// CompletionOptions holds the model call defaults. Agents, when set, supplies
// the system message for requests that do not carry one.
type CompletionOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Agents       SystemResolver
}

// CompletionService resolves a model, streams its output and persists the
// finished turn in the background.
type CompletionService struct {
	repo     ConversationRepo
	registry RegistryBuilder
	events   natsclient.Publisher
	logger   *logger.Logger
	opts     CompletionOptions

	wg sync.WaitGroup
}

// NewCompletionService creates a new completion service.
func NewCompletionService(repo ConversationRepo, registry RegistryBuilder, events natsclient.Publisher, opts CompletionOptions, log *logger.Logger) *CompletionService {
	return &CompletionService{
		repo:     repo,
		registry: registry,
		events:   events,
		logger:   log,
		opts:     opts,
	}
}

// Completion is a resolved chat turn ready to stream.
type Completion struct {
	Owner          string
	ConversationID string
	ModelID        string
	Created        bool
	Prior          []model.Message
	User           model.Message

	client    llm.Client
	modelName string
	system    string
}

// Resolve validates a chat request, resolves its model and makes sure the
// conversation exists. Nothing is streamed yet, so errors here can still be
// reported with a plain HTTP status.
func (s *CompletionService) Resolve(ctx context.Context, owner string, req *model.ChatRequest) (*Completion, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", ErrInvalidRequest)
	}
	user := req.Messages[len(req.Messages)-1]
	if user.Role != model.RoleUser {
		return nil, fmt.Errorf("%w: last message must be a user turn", ErrInvalidRequest)
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, m.Role)
		}
	}

	system, err := s.systemMessage(ctx, owner, req)
	if err != nil {
		return nil, err
	}

	reg, err := s.registry.Build(ctx)
	if err != nil {
		return nil, err
	}
	client, modelName, err := reg.LanguageModel(req.ModelID)
	if err != nil {
		return nil, err
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = reg.DefaultModelID()
	}

	c := &Completion{
		Owner:     owner,
		ModelID:   modelID,
		Prior:     append([]model.Message(nil), req.Messages[:len(req.Messages)-1]...),
		User:      user,
		client:    client,
		modelName: modelName,
		system:    system,
	}

	if req.ConversationID == "" {
		conv, err := s.repo.CreateConversation(ctx, owner, "", "")
		if err != nil {
			return nil, err
		}
		c.ConversationID, c.Created = conv.ID, true
	} else {
		conv, created, err := s.repo.EnsureConversation(ctx, owner, req.ConversationID)
		if err != nil {
			return nil, err
		}
		c.ConversationID, c.Created = conv.ID, created
	}

	if c.Created {
		metrics.ConversationsTotal.WithLabelValues("chat").Inc()
		publish(ctx, s.events, s.logger, &model.ConversationEvent{
			ConversationID: c.ConversationID,
			UserID:         owner,
			Type:           model.EventTypeCreated,
			Metadata:       map[string]any{"model_id": modelID},
		})
	}
	return c, nil
}

// systemMessage picks the request's own system message, then its agent or
// the owner's default agent, then the configured prompt.
func (s *CompletionService) systemMessage(ctx context.Context, owner string, req *model.ChatRequest) (string, error) {
	if req.System != "" {
		return req.System, nil
	}
	if s.opts.Agents != nil {
		msg, ok, err := s.opts.Agents.SystemMessage(ctx, owner, req.AgentID)
		if err != nil {
			return "", err
		}
		if ok {
			return msg, nil
		}
	}
	return s.opts.SystemPrompt, nil
}

// Complete streams the model output to onToken. Only when the stream finishes
// is prior+user+assistant persisted, asynchronously, together with the title
// of a first turn. A failed or cancelled stream persists nothing.
func (s *CompletionService) Complete(ctx context.Context, c *Completion, onToken llm.StreamCallback) (*llm.CompletionResponse, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "completion.stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", c.ConversationID),
		attribute.String("model.id", c.ModelID),
	)

	messages := make([]llm.ChatMessage, 0, len(c.Prior)+1)
	for _, m := range c.Prior {
		messages = append(messages, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: string(c.User.Role), Content: c.User.Content})

	start := time.Now()
	resp, err := c.client.CompleteStream(ctx, &llm.CompletionRequest{
		Model:       c.modelName,
		System:      c.system,
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}, onToken)
	if err != nil {
		metrics.RecordLLMStream(c.ModelID, "error", time.Since(start).Seconds(), 0)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.RecordLLMStream(c.ModelID, "success", time.Since(start).Seconds(), resp.Chunks)

	assistant := model.Message{Role: model.RoleAssistant, Content: resp.Content}
	s.wg.Add(1)
	go s.persist(context.WithoutCancel(ctx), c, assistant)

	return resp, nil
}

// Wait blocks until every background persistence has finished.
func (s *CompletionService) Wait() {
	s.wg.Wait()
}

func (s *CompletionService) persist(ctx context.Context, c *Completion, assistant model.Message) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	history := make([]model.Message, 0, len(c.Prior)+2)
	history = append(history, c.Prior...)
	history = append(history, c.User, assistant)

	if err := s.repo.AppendTurn(ctx, c.Owner, c.ConversationID, history); err != nil {
		s.persistFailed(ctx, c, "append", err)
		return
	}

	if len(c.Prior) != 0 {
		return
	}
	titled, err := s.repo.DeriveTitle(ctx, c.ConversationID, []model.Message{c.User})
	if err != nil {
		s.persistFailed(ctx, c, "title", err)
		return
	}
	if titled {
		publish(ctx, s.events, s.logger, &model.ConversationEvent{
			ConversationID: c.ConversationID,
			UserID:         c.Owner,
			Type:           model.EventTypeTitled,
		})
	}
}

func (s *CompletionService) persistFailed(ctx context.Context, c *Completion, stage string, err error) {
	metrics.PersistFailuresTotal.WithLabelValues(stage).Inc()
	s.logger.Error("failed to persist completed turn",
		zap.String("conversation_id", c.ConversationID),
		zap.String("user_id", c.Owner),
		zap.String("stage", stage),
		zap.Error(err),
	)
	publish(ctx, s.events, s.logger, &model.ConversationEvent{
		ConversationID: c.ConversationID,
		UserID:         c.Owner,
		Type:           model.EventTypePersistFailed,
		Reason:         err.Error(),
		Metadata:       map[string]any{"stage": stage},
	})
}
