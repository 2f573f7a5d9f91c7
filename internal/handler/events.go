package handler

import (
	"errors"
	"net/http"

	"github.com/anand-san/murmur/internal/middleware"
	natsclient "github.com/anand-san/murmur/internal/nats"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/pkg/logger"
)

// EventHandler exposes the event bus history of a conversation.
type EventHandler struct {
	conversations *service.ConversationService
	events        natsclient.Reader
	logger        *logger.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(conversations *service.ConversationService, events natsclient.Reader, log *logger.Logger) *EventHandler {
	return &EventHandler{conversations: conversations, events: events, logger: log}
}

// List handles GET /api/v1/conversations/{id}/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	// Events outlive their conversation; ownership is checked on the live row.
	if _, err := h.conversations.Get(ctx, userID, conversationID); err != nil {
		writeServiceError(w, h.logger, err, "get conversation")
		return
	}

	events, err := h.events.Events(ctx, userID, conversationID, queryInt(r, "limit", 100, 1, 1000))
	if errors.Is(err, natsclient.ErrDisabled) {
		writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "read events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"events":          events,
	})
}
