package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anand-san/murmur/internal/model"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/pkg/logger"
)

// CatalogHandler handles provider, model and registry endpoints.
type CatalogHandler struct {
	service *service.CatalogService
	logger  *logger.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(svc *service.CatalogService, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{service: svc, logger: log}
}

// CreateProvider handles POST /api/v1/providers
func (h *CatalogHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProviderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.service.CreateProvider(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "create provider")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListProviders handles GET /api/v1/providers
func (h *CatalogHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.service.ListProviders(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list providers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
}

// GetProvider handles GET /api/v1/providers/{id}
func (h *CatalogHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "get provider")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProvider handles PUT /api/v1/providers/{id}
func (h *CatalogHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateProviderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.service.UpdateProvider(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update provider")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProvider handles DELETE /api/v1/providers/{id}
func (h *CatalogHandler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProvider(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err, "delete provider")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDefaultProvider handles POST /api/v1/providers/{id}/set-default
func (h *CatalogHandler) SetDefaultProvider(w http.ResponseWriter, r *http.Request) {
	h.setDefault(w, r, model.KindProvider)
}

// CreateModel handles POST /api/v1/models
func (h *CatalogHandler) CreateModel(w http.ResponseWriter, r *http.Request) {
	var req model.CreateModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.service.CreateModel(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "create model")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListModels handles GET /api/v1/models/provider/{providerId}
func (h *CatalogHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.ListModels(r.Context(), chi.URLParam(r, "providerId"))
	if err != nil {
		writeServiceError(w, h.logger, err, "list models")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// GetModel handles GET /api/v1/models/{id}
func (h *CatalogHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "get model")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateModel handles PUT /api/v1/models/{id}
func (h *CatalogHandler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.service.UpdateModel(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update model")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteModel handles DELETE /api/v1/models/{id}
func (h *CatalogHandler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err, "delete model")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDefaultModel handles POST /api/v1/models/{id}/set-default
func (h *CatalogHandler) SetDefaultModel(w http.ResponseWriter, r *http.Request) {
	h.setDefault(w, r, model.KindModel)
}

// Registry handles GET /api/v1/model-registry
func (h *CatalogHandler) Registry(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Registry(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "load model registry")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CatalogHandler) setDefault(w http.ResponseWriter, r *http.Request, kind model.SelectionKind) {
	id := chi.URLParam(r, "id")
	rec, err := h.service.SetDefault(r.Context(), kind, id)
	if err != nil {
		writeServiceError(w, h.logger, err, "set default")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
