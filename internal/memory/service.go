// Package memory implements the write, search, and admin pipelines on top
// of the storage, embedding, cache, and short-id layers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recall-labs/recall/internal/cache"
	"github.com/recall-labs/recall/internal/db"
	"github.com/recall-labs/recall/internal/embeddings"
	"github.com/recall-labs/recall/internal/metrics"
	"github.com/recall-labs/recall/internal/shortid"
)

// ErrWritesDisabled is returned when the global write switch is off, which
// happens when no admin heartbeat has refreshed it.
var ErrWritesDisabled = errors.New("writes are disabled")

// shortIDRetries bounds how often a write is retried after a short-id
// collision before giving up.
const shortIDRetries = 3

// Config carries the similarity thresholds and content rules.
type Config struct {
	MinSimilarity          float64
	DuplicateThreshold     float64
	AutoDuplicateThreshold float64
	MinContentLength       int
}

// Service coordinates memory writes, searches, and admin operations.
type Service struct {
	store    *db.Client
	embedder embeddings.Client
	cache    *cache.SearchCache
	cfg      Config
	logger   *zap.Logger
}

// NewService creates a new memory service
func NewService(store *db.Client, embedder embeddings.Client, searchCache *cache.SearchCache, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		cache:    searchCache,
		cfg:      cfg,
		logger:   logger,
	}
}

// MinContentLength exposes the configured content floor for validation.
func (s *Service) MinContentLength() int { return s.cfg.MinContentLength }

// WriteInput is one memory to be stored.
type WriteInput struct {
	Content   string
	Tags      []string
	SourceURL *string
}

// WriteResult reports the stored memory and the neighbors it was linked to.
type WriteResult struct {
	Memory  *db.Memory
	Similar []db.SimilarMemory
}

// Write embeds the content, stores the memory, and links it to similar
// existing memories, all before returning. Writes from trust-0 agents are
// stored at provisional quality. The write fails up front when the global
// write switch is off, and the transaction is never opened if the
// embedding provider fails.
func (s *Service) Write(ctx context.Context, agent *db.Agent, in WriteInput) (*WriteResult, error) {
	start := time.Now()

	enabled, err := s.store.IsWriteEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrWritesDisabled
	}

	embedding, err := s.embedder.Embed(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	quality := db.QualityNeutral
	if agent.TrustLevel == 0 {
		quality = db.QualityProvisional
	}

	thresholds := db.Thresholds{
		MinSimilarity: s.cfg.MinSimilarity,
		Duplicate:     s.cfg.DuplicateThreshold,
		AutoDuplicate: s.cfg.AutoDuplicateThreshold,
	}

	// Short ids are random, so an insert can collide with an existing
	// one. Retry with a fresh id a bounded number of times.
	var mem *db.Memory
	var similar []db.SimilarMemory

	attempt := func() error {
		sid, err := shortid.New()
		if err != nil {
			return backoff.Permanent(err)
		}

		m, sim, err := s.store.InsertMemoryAndProbe(ctx, db.InsertMemoryParams{
			ShortID:        sid,
			AgentID:        agent.ID,
			Content:        in.Content,
			Tags:           in.Tags,
			SourceURL:      in.SourceURL,
			Embedding:      embedding,
			EmbeddingModel: s.embedder.Model(),
			Quality:        quality,
		}, thresholds)
		if err != nil {
			if db.IsUniqueViolation(err) {
				s.logger.Warn("Short id collision, retrying with a fresh id",
					zap.String("short_id", sid))
				return err
			}
			return backoff.Permanent(err)
		}

		mem, similar = m, sim
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, shortIDRetries)); err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	for _, sim := range similar {
		metrics.LinksCreated.WithLabelValues(sim.Relation).Inc()
	}
	metrics.RecordWrite(agent.TrustLevel, time.Since(start).Seconds(), mem.DuplicateOf != nil)

	s.logger.Info("Memory written",
		zap.String("short_id", mem.ShortID),
		zap.String("agent_id", agent.ID.String()),
		zap.Int("links", len(similar)),
		zap.Bool("duplicate", mem.DuplicateOf != nil))

	return &WriteResult{Memory: mem, Similar: similar}, nil
}

// SearchResult carries the matched rows and whether they came from cache.
type SearchResult struct {
	Rows     []db.SearchRow
	CacheHit bool
}

// Search returns the memories most similar to the query. Results are
// cached for a short window keyed by query and limit; a retrieval event is
// recorded for every returned row whether or not the cache served it.
func (s *Service) Search(ctx context.Context, agent *db.Agent, query string, limit int) (*SearchResult, error) {
	start := time.Now()

	if rows, ok := s.cache.Get(ctx, query, limit); ok {
		s.logRetrievals(agent.ID, query, rows)
		metrics.RecordSearch(true, time.Since(start).Seconds())
		return &SearchResult{Rows: rows, CacheHit: true}, nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	rows, err := s.store.VectorSearch(ctx, embedding, limit, s.cfg.MinSimilarity)
	if err != nil {
		return nil, err
	}

	s.cache.Put(ctx, query, limit, rows)
	s.logRetrievals(agent.ID, query, rows)
	metrics.RecordSearch(false, time.Since(start).Seconds())

	return &SearchResult{Rows: rows, CacheHit: false}, nil
}

func (s *Service) logRetrievals(agentID uuid.UUID, query string, rows []db.SearchRow) {
	for _, row := range rows {
		s.store.QueueRetrievalEvent(&db.RetrievalEvent{
			AgentID:    agentID,
			MemoryID:   row.ID,
			Query:      query,
			Similarity: row.Similarity,
		})
	}
}

// Get loads one memory by UUID or short id, including its links. Reads by
// handle are reference lookups and do not record retrieval events.
func (s *Service) Get(ctx context.Context, handle string) (*db.MemoryDetail, error) {
	return s.store.GetMemoryByHandle(ctx, handle)
}

// Heartbeat records an admin liveness signal and re-enables writes.
// Returns the recorded timestamp.
func (s *Service) Heartbeat(ctx context.Context) (time.Time, error) {
	now := time.Now().UTC()

	if err := s.store.SetConfig(ctx, db.ConfigKeyAdminHeartbeat, now.Format(time.RFC3339)); err != nil {
		return time.Time{}, err
	}
	if err := s.store.SetConfig(ctx, db.ConfigKeyWriteEnabled, "true"); err != nil {
		return time.Time{}, err
	}

	s.logger.Info("Admin heartbeat recorded", zap.Time("at", now))
	return now, nil
}

// Quarantine disables an agent and hides all of its memories from search.
// Returns how many memories were quarantined.
func (s *Service) Quarantine(ctx context.Context, agentID uuid.UUID) (int64, error) {
	quarantined, err := s.store.QuarantineAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}

	metrics.AgentsQuarantined.Inc()
	return quarantined, nil
}
