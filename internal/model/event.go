package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeCreated        EventType = "created"
	EventTypeTitled         EventType = "titled"
	EventTypeDeleted        EventType = "deleted"
	EventTypePersistFailed  EventType = "persist_failed"
	EventTypeDefaultChanged EventType = "default_changed"
)

// ConversationEvent represents an event in a conversation or the model catalog.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
