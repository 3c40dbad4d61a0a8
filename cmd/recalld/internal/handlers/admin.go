package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recall-labs/recall/internal/db"
	"github.com/recall-labs/recall/internal/memory"
)

// AdminHandler handles admin endpoints
type AdminHandler struct {
	service *memory.Service
	logger  *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service *memory.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		logger:  logger,
	}
}

// requireCore resolves the calling agent and rejects anyone below core
// trust. Returns nil after writing the error response.
func (h *AdminHandler) requireCore(w http.ResponseWriter, r *http.Request) *db.Agent {
	agent, ok := r.Context().Value("agent").(*db.Agent)
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return nil
	}
	if agent.TrustLevel < db.TrustCore {
		sendError(w, "Requires trust_level >= 2", http.StatusForbidden)
		return nil
	}
	return agent
}

// Heartbeat handles POST /api/v1/admin/heartbeat
func (h *AdminHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agent := h.requireCore(w, r)
	if agent == nil {
		return
	}

	ts, err := h.service.Heartbeat(r.Context())
	if err != nil {
		h.logger.Error("Failed to record heartbeat", zap.Error(err))
		sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":              true,
		"heartbeat":            ts.Format(time.RFC3339),
		"global_write_enabled": true,
	})
}

// QuarantineAgent handles POST /api/v1/admin/quarantine/{agent_id}
func (h *AdminHandler) QuarantineAgent(w http.ResponseWriter, r *http.Request) {
	admin := h.requireCore(w, r)
	if admin == nil {
		return
	}

	agentID, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		sendValidationErrors(w, []ValidationError{{
			Field:   "agent_id",
			Message: "must be a valid UUID",
		}})
		return
	}

	if _, err := h.service.Quarantine(r.Context(), agentID); err != nil {
		if errors.Is(err, db.ErrAgentNotFound) {
			sendError(w, "Agent not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to quarantine agent",
			zap.String("agent_id", agentID.String()),
			zap.Error(err))
		sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Agent quarantined",
		zap.String("agent_id", agentID.String()),
		zap.String("admin_id", admin.ID.String()),
	)

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"agent_id": agentID.String(),
		"status":   "quarantined",
	})
}
