// Package service provides business logic for the voice assistant server.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/model"
	natsclient "github.com/anand-san/murmur/internal/nats"
	"github.com/anand-san/murmur/pkg/logger"
	"github.com/anand-san/murmur/pkg/metrics"
)

// ErrInvalidRequest is returned for malformed input that never reached the store.
var ErrInvalidRequest = errors.New("invalid request")

// ConversationRepo is the conversation persistence used by the services.
type ConversationRepo interface {
	CreateConversation(ctx context.Context, owner, title, externalID string) (*model.Conversation, error)
	EnsureConversation(ctx context.Context, owner, id string) (*model.Conversation, bool, error)
	GetConversation(ctx context.Context, owner, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, owner string, limit, offset int) ([]model.Conversation, int64, error)
	Messages(ctx context.Context, owner, id string) ([]model.Message, error)
	AppendTurn(ctx context.Context, owner, id string, messages []model.Message) error
	DeriveTitle(ctx context.Context, id string, turns []model.Message) (bool, error)
	Rename(ctx context.Context, owner, id, title string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, owner, id string) error
}

// ConversationService handles conversation operations.
type ConversationService struct {
	repo   ConversationRepo
	events natsclient.Publisher
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(repo ConversationRepo, events natsclient.Publisher, log *logger.Logger) *ConversationService {
	return &ConversationService{repo: repo, events: events, logger: log}
}

// Create creates a conversation, optionally with a caller-supplied id.
func (s *ConversationService) Create(ctx context.Context, owner string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	conv, err := s.repo.CreateConversation(ctx, owner, strings.TrimSpace(req.Title), req.ID)
	if err != nil {
		return nil, err
	}

	metrics.ConversationsTotal.WithLabelValues("explicit").Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", owner),
	)
	publish(ctx, s.events, s.logger, &model.ConversationEvent{
		ConversationID: conv.ID,
		UserID:         owner,
		Type:           model.EventTypeCreated,
	})
	return conv, nil
}

// Get retrieves a conversation by id.
func (s *ConversationService) Get(ctx context.Context, owner, id string) (*model.Conversation, error) {
	return s.repo.GetConversation(ctx, owner, id)
}

// List retrieves the owner's conversations, most recent first.
func (s *ConversationService) List(ctx context.Context, owner string, limit, offset int) (*model.ListConversationsResponse, error) {
	convs, total, err := s.repo.ListConversations(ctx, owner, limit, offset)
	if err != nil {
		return nil, err
	}
	return &model.ListConversationsResponse{Conversations: convs, Total: int(total)}, nil
}

// Messages returns the stored history of a conversation.
func (s *ConversationService) Messages(ctx context.Context, owner, id string) (*model.ConversationMessagesResponse, error) {
	msgs, err := s.repo.Messages(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return &model.ConversationMessagesResponse{ConversationID: id, Messages: msgs}, nil
}

// Rename sets an explicit title.
func (s *ConversationService) Rename(ctx context.Context, owner, id string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	conv, err := s.repo.Rename(ctx, owner, id, title)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.events, s.logger, &model.ConversationEvent{
		ConversationID: id,
		UserID:         owner,
		Type:           model.EventTypeTitled,
		Metadata:       map[string]any{"title": title, "explicit": true},
	})
	return conv, nil
}

// Delete removes a conversation and its history.
func (s *ConversationService) Delete(ctx context.Context, owner, id string) error {
	if err := s.repo.DeleteConversation(ctx, owner, id); err != nil {
		return err
	}
	s.logger.Info("conversation deleted",
		zap.String("conversation_id", id),
		zap.String("user_id", owner),
	)
	publish(ctx, s.events, s.logger, &model.ConversationEvent{
		ConversationID: id,
		UserID:         owner,
		Type:           model.EventTypeDeleted,
	})
	return nil
}

// publish sends an event and logs, but never returns, a publish failure.
func publish(ctx context.Context, events natsclient.Publisher, log *logger.Logger, event *model.ConversationEvent) {
	if err := events.Publish(ctx, event); err != nil {
		log.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err),
		)
	}
}
