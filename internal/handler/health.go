package handler

import (
	"context"
	"net/http"
	"time"

	natsclient "github.com/anand-san/murmur/internal/nats"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness checks.
type HealthHandler struct {
	db  Pinger
	bus *natsclient.Client
}

// NewHealthHandler creates a new health handler. A nil bus means events are
// disabled and the bus is left out of readiness.
func NewHealthHandler(db Pinger, bus *natsclient.Client) *HealthHandler {
	return &HealthHandler{db: db, bus: bus}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{"database": "ok", "event_bus": "disabled"}
	ready := true

	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = "unreachable"
		ready = false
	}
	if h.bus != nil {
		checks["event_bus"] = "ok"
		if !h.bus.IsConnected() {
			checks["event_bus"] = "disconnected"
			ready = false
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}
