package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	authpkg "github.com/recall-labs/recall/internal/auth"
	"github.com/recall-labs/recall/internal/db"
)

const maxAgentNameLength = 100

// AgentHandler handles agent registration
type AgentHandler struct {
	authService *authpkg.Service
	store       *db.Client
	logger      *zap.Logger
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(authService *authpkg.Service, store *db.Client, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		authService: authService,
		store:       store,
		logger:      logger,
	}
}

// RegisterRequest represents an agent registration request
type RegisterRequest struct {
	Name string `json:"name"`
}

// AgentInfo identifies a registered agent.
type AgentInfo struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// RegisterResponse carries the raw API key. It is shown exactly once;
// only its hash is stored.
type RegisterResponse struct {
	Agent  AgentInfo `json:"agent"`
	APIKey string    `json:"api_key"`
}

// RegisterAgent handles POST /api/v1/agents/register
func (h *AgentHandler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enabled, err := h.store.IsWriteEnabled(ctx)
	if err != nil {
		h.logger.Error("Failed to read write-enabled flag", zap.Error(err))
		sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !enabled {
		sendError(w, "Writes are temporarily disabled", http.StatusServiceUnavailable)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if n := utf8.RuneCountInString(req.Name); n < 1 || n > maxAgentNameLength {
		sendValidationErrors(w, []ValidationError{{
			Field:   "name",
			Message: fmt.Sprintf("must be between 1 and %d characters", maxAgentNameLength),
		}})
		return
	}

	agent, apiKey, err := h.authService.Register(ctx, req.Name)
	if err != nil {
		h.logger.Error("Failed to register agent", zap.Error(err))
		sendError(w, "Failed to register agent", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, RegisterResponse{
		Agent:  AgentInfo{ID: agent.ID, Name: agent.Name},
		APIKey: apiKey,
	})
}
