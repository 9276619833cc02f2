package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pipsignal/backend/pkg/response"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db      Pinger
	version string
	logger  *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, version: version, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
}

func newHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Health returns the health status
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := newHealthResponse("ok")
	resp.Version = h.version
	response.Plain(w, http.StatusOK, resp)
}

// Ready reports ready only while the store answers a ping
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		response.Plain(w, http.StatusServiceUnavailable, newHealthResponse("unavailable"))
		return
	}
	response.Plain(w, http.StatusOK, newHealthResponse("ready"))
}

// Live returns the liveness status
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.Plain(w, http.StatusOK, newHealthResponse("alive"))
}
