// Package model defines data structures for the voice assistant platform.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultConversationTitle is assigned when a conversation is created without a title.
const DefaultConversationTitle = "New Conversation"

// Conversation represents a conversation thread owned by a single user.
type Conversation struct {
	ID            string    `gorm:"primaryKey;size:128" json:"id"`
	UserID        string    `gorm:"index;size:128;not null" json:"user_id"`
	Title         string    `gorm:"size:256;not null" json:"title"`
	TitleExplicit bool      `gorm:"not null" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `gorm:"index" json:"updated_at"`
}

// MessageLog holds the entire message history of one conversation as a single value.
// ConversationID is the primary key, so a conversation can never have more than one log.
type MessageLog struct {
	ConversationID string         `gorm:"primaryKey;size:128"`
	Content        datatypes.JSON `gorm:"not null"`
	UpdatedAt      time.Time
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

// UpdateConversationRequest is the request to rename a conversation.
type UpdateConversationRequest struct {
	Title string `json:"title"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// ConversationMessagesResponse is the response for reading a conversation's history.
type ConversationMessagesResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// TableName returns the table name for Conversation.
func (Conversation) TableName() string {
	return "conversations"
}

// TableName returns the table name for MessageLog.
func (MessageLog) TableName() string {
	return "message_logs"
}
