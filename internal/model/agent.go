package model

import "time"

// Agent is a named system message owned by one user. At most one agent per
// user is the default, and /chat uses it when the request names none.
type Agent struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	UserID        string    `gorm:"index:idx_agents_user_name,unique;size:255;not null" json:"user_id"`
	Name          string    `gorm:"index:idx_agents_user_name,unique;size:100;not null" json:"name"`
	Description   string    `gorm:"size:200" json:"description,omitempty"`
	SystemMessage string    `gorm:"type:text;not null" json:"system_message"`
	IsDefault     bool      `gorm:"not null;index" json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the table name for Agent.
func (Agent) TableName() string {
	return "agents"
}

// Kind returns KindAgent.
func (Agent) Kind() SelectionKind { return KindAgent }

// CreateAgentRequest is the request to create an agent.
type CreateAgentRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	SystemMessage string `json:"system_message"`
	IsDefault     bool   `json:"is_default,omitempty"`
}

// UpdateAgentRequest is the request to edit an agent.
type UpdateAgentRequest struct {
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	SystemMessage *string `json:"system_message,omitempty"`
	IsDefault     *bool   `json:"is_default,omitempty"`
}

// ListAgentsResponse is the response for listing agents.
type ListAgentsResponse struct {
	Agents []Agent `json:"agents"`
}
