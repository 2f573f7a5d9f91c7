package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/llm"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/internal/store"
	"github.com/anand-san/murmur/pkg/logger"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps a service or store error onto a status code.
// Unexpected errors are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, store.ErrInvalid), errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, llm.ErrModelNotAvailable):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"code":  "model_not_available",
		})
	case errors.Is(err, service.ErrUpstream):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error("failed to "+action, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return def
	}
	return n
}
