package model

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message is one role-tagged block of a conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatRequest is the body of POST /chat. Messages carries the complete history,
// ending with the new user turn.
type ChatRequest struct {
	Messages       []Message `json:"messages"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ModelID        string    `json:"model_id,omitempty"`
	System         string    `json:"system,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
}

// ConversationStartedEvent is the first SSE event of a chat stream.
type ConversationStartedEvent struct {
	ConversationID string `json:"conversation_id"`
	ModelID        string `json:"model_id"`
}

// TokenEvent represents a streaming token event.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// DoneEvent is the last SSE event of a successful chat stream.
type DoneEvent struct {
	Success    bool   `json:"success"`
	StopReason string `json:"stop_reason,omitempty"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TranscriptionResponse is the body returned by the speech-to-text endpoint.
type TranscriptionResponse struct {
	Text string `json:"text"`
}
