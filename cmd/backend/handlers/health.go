package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hairizuan-noorazman/testflow/logger"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// HealthHandler reports service health, including the database when one is set.
type HealthHandler struct {
	db     Pinger
	logger logger.Logger
}

// NewHealthHandler creates a health handler. db may be nil.
func NewHealthHandler(db Pinger, log logger.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: log}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.db == nil {
		respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn(r.Context(), "database ping failed", logger.Fields{"error": err.Error()})
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Database: "unreachable"})
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Database: "ok"})
}
