// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anand-san/murmur/internal/middleware"
	"github.com/anand-san/murmur/internal/model"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID != "" {
		if err := middleware.ValidateConversationID(req.ID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.service.Create(ctx, userID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 50, 1, 200)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	resp, err := h.service.List(ctx, middleware.GetUserID(ctx), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err, "list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Messages handles GET /api/v1/conversations/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Messages(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Update handles PUT /api/v1/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	var req model.UpdateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Rename(ctx, middleware.GetUserID(ctx), conversationID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(ctx, middleware.GetUserID(ctx), conversationID); err != nil {
		writeServiceError(w, h.logger, err, "delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func conversationParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
