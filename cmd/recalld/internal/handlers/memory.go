package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/recall-labs/recall/internal/db"
	"github.com/recall-labs/recall/internal/embeddings"
	"github.com/recall-labs/recall/internal/memory"
)

const (
	minTags        = 2
	maxTags        = 6
	maxQueryLength = 500
	maxSearchLimit = 50
	defaultLimit   = 10
)

// MemoryHandler handles memory write, search and detail requests
type MemoryHandler struct {
	service *memory.Service
	logger  *zap.Logger
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(service *memory.Service, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{
		service: service,
		logger:  logger,
	}
}

// WriteRequest represents a memory write request
type WriteRequest struct {
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	SourceURL *string  `json:"source_url,omitempty"`
}

// WriteResponse represents a memory write response
type WriteResponse struct {
	Success bool               `json:"success"`
	ID      uuid.UUID          `json:"id"`
	ShortID string             `json:"short_id"`
	Status  string             `json:"status"`
	Similar []db.SimilarMemory `json:"similar"`
}

// AuthorInfo identifies a memory's author to readers.
type AuthorInfo struct {
	Name string `json:"name"`
}

// SearchResult is one search hit as returned on the wire.
type SearchResult struct {
	ID             uuid.UUID  `json:"id"`
	ShortID        string     `json:"short_id"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags"`
	SourceURL      *string    `json:"source_url"`
	Author         AuthorInfo `json:"author"`
	CreatedAt      time.Time  `json:"created_at"`
	Similarity     float64    `json:"similarity"`
	RetrievalCount int        `json:"retrieval_count"`
}

// SearchResponse represents a search response
type SearchResponse struct {
	Success bool           `json:"success"`
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// RelatedMemory is one outgoing link in a memory detail response.
type RelatedMemory struct {
	ID         uuid.UUID `json:"id"`
	ShortID    string    `json:"short_id"`
	Relation   string    `json:"relation"`
	Similarity float64   `json:"similarity"`
}

// MemoryDetail is the full single-memory view as returned on the wire.
type MemoryDetail struct {
	ID        uuid.UUID       `json:"id"`
	ShortID   string          `json:"short_id"`
	Content   string          `json:"content"`
	Tags      []string        `json:"tags"`
	SourceURL *string         `json:"source_url"`
	Author    AuthorInfo      `json:"author"`
	CreatedAt time.Time       `json:"created_at"`
	Related   []RelatedMemory `json:"related"`
}

// GetResponse represents a memory detail response
type GetResponse struct {
	Success bool         `json:"success"`
	Memory  MemoryDetail `json:"memory"`
}

// WriteMemory handles POST /api/v1/memory
func (h *MemoryHandler) WriteMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agent, ok := ctx.Value("agent").(*db.Agent)
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	var details []ValidationError
	if minLen := h.service.MinContentLength(); utf8.RuneCountInString(req.Content) < minLen {
		details = append(details, ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("must be at least %d characters", minLen),
		})
	}
	if len(req.Tags) < minTags || len(req.Tags) > maxTags {
		details = append(details, ValidationError{
			Field:   "tags",
			Message: fmt.Sprintf("must contain between %d and %d tags", minTags, maxTags),
		})
	}
	if len(details) > 0 {
		sendValidationErrors(w, details)
		return
	}

	result, err := h.service.Write(ctx, agent, memory.WriteInput{
		Content:   req.Content,
		Tags:      req.Tags,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		h.sendServiceError(w, err, "Failed to write memory")
		return
	}

	similar := result.Similar
	if similar == nil {
		similar = []db.SimilarMemory{}
	}

	sendJSON(w, http.StatusOK, WriteResponse{
		Success: true,
		ID:      result.Memory.ID,
		ShortID: result.Memory.ShortID,
		Status:  "saved",
		Similar: similar,
	})
}

// SearchMemories handles GET /api/v1/memory/search
func (h *MemoryHandler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agent, ok := ctx.Value("agent").(*db.Agent)
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query().Get("q")
	if n := utf8.RuneCountInString(q); n < 1 || n > maxQueryLength {
		sendValidationErrors(w, []ValidationError{{
			Field:   "q",
			Message: fmt.Sprintf("must be between 1 and %d characters", maxQueryLength),
		}})
		return
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			sendValidationErrors(w, []ValidationError{{
				Field:   "limit",
				Message: fmt.Sprintf("must be an integer between 1 and %d", maxSearchLimit),
			}})
			return
		}
		limit = n
	}

	result, err := h.service.Search(ctx, agent, q, limit)
	if err != nil {
		h.sendServiceError(w, err, "Failed to search memories")
		return
	}

	results := lo.Map(result.Rows, func(row db.SearchRow, _ int) SearchResult {
		return SearchResult{
			ID:             row.ID,
			ShortID:        row.ShortID,
			Content:        row.Content,
			Tags:           row.Tags,
			SourceURL:      row.SourceURL,
			Author:         AuthorInfo{Name: row.AuthorName},
			CreatedAt:      row.CreatedAt,
			Similarity:     row.Similarity,
			RetrievalCount: row.RetrievalCount,
		}
	})

	sendJSON(w, http.StatusOK, SearchResponse{
		Success: true,
		Query:   q,
		Results: results,
	})
}

// GetMemory handles GET /api/v1/memory/{id}
func (h *MemoryHandler) GetMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := ctx.Value("agent").(*db.Agent); !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	handle := r.PathValue("id")
	if handle == "" {
		sendError(w, "Memory ID is required", http.StatusBadRequest)
		return
	}

	detail, err := h.service.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, db.ErrMemoryNotFound) {
			sendError(w, "Memory not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to load memory", zap.String("handle", handle), zap.Error(err))
		sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	related := lo.Map(detail.Related, func(l db.RelatedMemory, _ int) RelatedMemory {
		return RelatedMemory{
			ID:         l.ID,
			ShortID:    l.ShortID,
			Relation:   l.Relation,
			Similarity: l.Similarity,
		}
	})

	sendJSON(w, http.StatusOK, GetResponse{
		Success: true,
		Memory: MemoryDetail{
			ID:        detail.ID,
			ShortID:   detail.ShortID,
			Content:   detail.Content,
			Tags:      detail.Tags,
			SourceURL: detail.SourceURL,
			Author:    AuthorInfo{Name: detail.AuthorName},
			CreatedAt: detail.CreatedAt,
			Related:   related,
		},
	})
}

// sendServiceError maps pipeline failures onto HTTP statuses. Embedding
// provider failures surface as 502/504 so callers can tell them apart from
// our own faults.
func (h *MemoryHandler) sendServiceError(w http.ResponseWriter, err error, logMsg string) {
	var provErr *embeddings.ProviderError
	switch {
	case errors.Is(err, memory.ErrWritesDisabled):
		sendError(w, "Writes are temporarily disabled", http.StatusServiceUnavailable)
	case errors.As(err, &provErr):
		h.logger.Warn("Embedding provider failed", zap.Error(provErr))
		if provErr.Timeout {
			sendError(w, "Embedding provider timed out", http.StatusGatewayTimeout)
		} else {
			sendError(w, "Embedding provider unavailable", http.StatusBadGateway)
		}
	default:
		h.logger.Error(logMsg, zap.Error(err))
		sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}
