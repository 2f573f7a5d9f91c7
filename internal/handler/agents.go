package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anand-san/murmur/internal/middleware"
	"github.com/anand-san/murmur/internal/model"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/pkg/logger"
)

// AgentHandler handles the per-user agent endpoints.
type AgentHandler struct {
	service *service.AgentService
	logger  *logger.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(svc *service.AgentService, log *logger.Logger) *AgentHandler {
	return &AgentHandler{service: svc, logger: log}
}

// Create handles POST /api/v1/agents
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req model.CreateAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.service.Create(ctx, middleware.GetUserID(ctx), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "create agent")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// List handles GET /api/v1/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := h.service.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(w, h.logger, err, "list agents")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Default handles GET /api/v1/agents/default
func (h *AgentHandler) Default(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.service.Default(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(w, h.logger, err, "get default agent")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "no default agent")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Get handles GET /api/v1/agents/{id}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.service.Get(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "get agent")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Update handles PUT /api/v1/agents/{id}
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req model.UpdateAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.service.Update(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update agent")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Delete handles DELETE /api/v1/agents/{id}
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Delete(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err, "delete agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDefault handles POST /api/v1/agents/{id}/set-default
func (h *AgentHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.service.SetDefault(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "set default agent")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
