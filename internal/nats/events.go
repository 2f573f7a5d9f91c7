package nats

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/model"
	"github.com/anand-san/murmur/pkg/logger"
	"github.com/anand-san/murmur/pkg/metrics"
)

const (
	// StreamName is the name of the conversation events stream.
	StreamName = "CONVERSATION_EVENTS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"

	// CatalogOwner is the owner token used for model catalog events.
	CatalogOwner = "_catalog"
)

// ErrDisabled is returned by reads when no event bus is configured.
var ErrDisabled = errors.New("event bus disabled")

// Publisher sends conversation events.
type Publisher interface {
	Publish(ctx context.Context, event *model.ConversationEvent) error
}

// Reader reads back the events of one conversation.
type Reader interface {
	Events(ctx context.Context, owner, conversationID string, limit int) ([]model.ConversationEvent, error)
}

// EventSubject returns the subject for an event.
func EventSubject(owner, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, subjectToken(owner), subjectToken(conversationID), eventType)
}

// ConversationFilter returns the filter subject for every event of a conversation.
func ConversationFilter(owner, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.event.>", SubjectPrefix, subjectToken(owner), subjectToken(conversationID))
}

// Subject tokens are unpadded base32hex so any owner or id maps to a single
// wildcard-free token and decodes back to itself. "_" stands for empty.
var tokenEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenEncoding.EncodeToString([]byte(s))
}

func parseSubjectToken(tok string) (string, error) {
	if tok == "_" {
		return "", nil
	}
	b, err := tokenEncoding.DecodeString(tok)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseEventSubject recovers the owner, conversation and event type of a
// subject built by EventSubject.
func ParseEventSubject(subject string) (owner, conversationID string, eventType model.EventType, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[0] != SubjectPrefix || parts[3] != "event" {
		return "", "", "", fmt.Errorf("not an event subject: %q", subject)
	}
	if owner, err = parseSubjectToken(parts[1]); err != nil {
		return "", "", "", fmt.Errorf("owner token of %q: %w", subject, err)
	}
	if conversationID, err = parseSubjectToken(parts[2]); err != nil {
		return "", "", "", fmt.Errorf("conversation token of %q: %w", subject, err)
	}
	return owner, conversationID, model.EventType(parts[4]), nil
}

// EventBus publishes to and reads from the JetStream events stream.
type EventBus struct {
	client *Client
	log    *logger.Logger
}

// NewEventBus creates an event bus on an established connection.
func NewEventBus(client *Client, log *logger.Logger) *EventBus {
	return &EventBus{client: client, log: log}
}

// EnsureStream ensures the events stream exists.
func (b *EventBus) EnsureStream(ctx context.Context) error {
	js := b.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation lifecycle and persistence events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	b.log.Info("created JetStream stream", zap.String("stream", StreamName))
	return nil
}

// Publish publishes an event to JetStream, filling in id and timestamp when unset.
func (b *EventBus) Publish(ctx context.Context, event *model.ConversationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	owner := event.UserID
	if owner == "" {
		owner = CatalogOwner
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := b.client.JetStream().Publish(ctx, EventSubject(owner, event.ConversationID, event.Type), data); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "ok").Inc()
	return nil
}

// Events returns up to limit stored events for one conversation, oldest first.
func (b *EventBus) Events(ctx context.Context, owner, conversationID string, limit int) ([]model.ConversationEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := b.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ConversationFilter(owner, conversationID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.FetchNoWait(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	events := make([]model.ConversationEvent, 0)
	for msg := range batch.Messages() {
		gotOwner, gotConv, _, err := ParseEventSubject(msg.Subject())
		if err != nil || gotOwner != owner || gotConv != conversationID {
			b.log.Warn("skipping foreign event", zap.String("subject", msg.Subject()), zap.Error(err))
			continue
		}
		var event model.ConversationEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			b.log.Warn("skipping malformed event", zap.String("subject", msg.Subject()), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}
	return events, nil
}

// NopBus drops every event. It is used when NATS_URL is empty.
type NopBus struct{}

// Publish discards the event.
func (NopBus) Publish(context.Context, *model.ConversationEvent) error { return nil }

// Events always fails with ErrDisabled.
func (NopBus) Events(context.Context, string, string, int) ([]model.ConversationEvent, error) {
	return nil, ErrDisabled
}
