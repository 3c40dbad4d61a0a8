package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ProtocolVersion is reported by the health endpoint so clients can detect
// incompatible API changes.
const ProtocolVersion = "1.0.0"

// Handler provides HTTP endpoints for health checks
type Handler struct {
	checkers []Checker
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler for health checks
func NewHandler(logger *zap.Logger, checkers ...Checker) *Handler {
	return &Handler{
		checkers: checkers,
		logger:   logger,
	}
}

// RegisterRoutes registers health check endpoints with an HTTP mux. The
// basic health endpoint is also mounted under the API prefix so clients
// can probe it with the same base URL they use for everything else.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReadiness)
	mux.HandleFunc("GET /health/live", h.handleLiveness)
}

// handleHealth reports that the process is up. Dependency state is the
// readiness endpoint's concern.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"protocol_version": ProtocolVersion,
	})
}

// handleReadiness runs every dependency check (for k8s readiness probes).
func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	components := make(map[string]string, len(h.checkers))
	ready := true

	for _, checker := range h.checkers {
		if err := checker.Check(ctx); err != nil {
			h.logger.Warn("Readiness check failed",
				zap.String("component", checker.Name()),
				zap.Error(err))
			components[checker.Name()] = err.Error()
			ready = false
			continue
		}
		components[checker.Name()] = "ok"
	}

	status := http.StatusOK
	message := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		message = "not ready"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status":     message,
		"ready":      ready,
		"components": components,
	})
}

// handleLiveness reports process liveness (for k8s liveness probes).
func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"live":   true,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
