package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// InsertMemoryParams carries everything needed to persist one memory.
type InsertMemoryParams struct {
	ShortID        string
	AgentID        uuid.UUID
	Content        string
	Tags           []string
	SourceURL      *string
	Embedding      []float32
	EmbeddingModel string
	Quality        int
}

// Thresholds control how probe hits are classified into link relations.
type Thresholds struct {
	MinSimilarity float64
	Duplicate     float64
	AutoDuplicate float64
}

const insertMemoryQuery = `
	INSERT INTO memories (id, short_id, agent_id, content, tags, source_url, embedding, embedding_model, quality)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING created_at`

// probeQuery finds the nearest stored memories to the fresh embedding.
// Ordering by raw distance keeps the HNSW index usable; ties are broken
// client-side.
const probeQuery = `
	SELECT id, short_id, 1 - (embedding <=> $1) AS similarity
	FROM memories
	WHERE id != $2 AND quality > -2
	ORDER BY embedding <=> $1
	LIMIT 10`

const insertLinkQuery = `
	INSERT INTO memory_links (id, memory_id, related_id, relation, similarity)
	VALUES ($1, $2, $3, $4, $5)`

const markDuplicateQuery = `
	UPDATE memories SET duplicate_of = $1 WHERE id = $2`

type probeRow struct {
	ID         uuid.UUID `db:"id"`
	ShortID    string    `db:"short_id"`
	Similarity float64   `db:"similarity"`
}

// InsertMemoryAndProbe writes a memory, finds its nearest neighbors, and
// records link rows for every neighbor at or above th.MinSimilarity, all in
// one transaction. If the closest neighbor reaches th.AutoDuplicate the new
// memory is marked as a duplicate of it. The returned slice reports the
// linked neighbors in probe order with similarities rounded to four
// decimals.
func (c *Client) InsertMemoryAndProbe(ctx context.Context, p InsertMemoryParams, th Thresholds) (*Memory, []SimilarMemory, error) {
	mem := &Memory{
		ID:             uuid.New(),
		ShortID:        p.ShortID,
		AgentID:        p.AgentID,
		Content:        p.Content,
		Tags:           pq.StringArray(p.Tags),
		SourceURL:      p.SourceURL,
		Embedding:      pgvector.NewVector(p.Embedding),
		EmbeddingModel: p.EmbeddingModel,
		Quality:        p.Quality,
	}
	if mem.Tags == nil {
		mem.Tags = pq.StringArray{}
	}

	var similar []SimilarMemory

	err := c.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := tx.QueryRowxContext(ctx, insertMemoryQuery,
			mem.ID, mem.ShortID, mem.AgentID, mem.Content, mem.Tags,
			mem.SourceURL, mem.Embedding, mem.EmbeddingModel, mem.Quality,
		).Scan(&mem.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert memory: %w", err)
		}

		var hits []probeRow
		if err := tx.SelectContext(ctx, &hits, probeQuery, mem.Embedding, mem.ID); err != nil {
			return fmt.Errorf("similarity probe failed: %w", err)
		}

		// Stable order: highest similarity first, id as tie-break.
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Similarity != hits[j].Similarity {
				return hits[i].Similarity > hits[j].Similarity
			}
			return hits[i].ID.String() < hits[j].ID.String()
		})

		var duplicateOf *uuid.UUID
		for _, hit := range hits {
			if hit.Similarity < th.MinSimilarity {
				continue
			}

			relation := RelationSimilar
			if hit.Similarity >= th.Duplicate {
				relation = RelationDuplicateCandidate
			}
			if hit.Similarity >= th.AutoDuplicate && duplicateOf == nil {
				id := hit.ID
				duplicateOf = &id
			}

			if _, err := tx.ExecContext(ctx, insertLinkQuery,
				uuid.New(), mem.ID, hit.ID, relation, hit.Similarity,
			); err != nil {
				return fmt.Errorf("failed to insert memory link: %w", err)
			}

			similar = append(similar, SimilarMemory{
				ID:         hit.ID,
				ShortID:    hit.ShortID,
				Similarity: round4(hit.Similarity),
				Relation:   relation,
			})
		}

		if duplicateOf != nil {
			if _, err := tx.ExecContext(ctx, markDuplicateQuery, *duplicateOf, mem.ID); err != nil {
				return fmt.Errorf("failed to mark duplicate: %w", err)
			}
			mem.DuplicateOf = duplicateOf
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return mem, similar, nil
}

const vectorSearchQuery = `
	SELECT m.id, m.short_id, m.content, m.tags, m.source_url, m.created_at,
	       a.name AS author_name,
	       1 - (m.embedding <=> $1) AS similarity,
	       (SELECT count(*) FROM retrieval_events re WHERE re.memory_id = m.id) AS retrieval_count
	FROM memories m
	JOIN agents a ON a.id = m.agent_id
	WHERE m.quality > -2 AND 1 - (m.embedding <=> $1) >= $2
	ORDER BY m.embedding <=> $1
	LIMIT $3`

// VectorSearch returns up to limit memories whose cosine similarity to the
// query embedding is at least minSimilarity, best match first. Quarantined
// memories never appear. Similarities are rounded to four decimals.
func (c *Client) VectorSearch(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]SearchRow, error) {
	rows := []SearchRow{}
	err := c.db.SelectContext(ctx, &rows, vectorSearchQuery,
		pgvector.NewVector(embedding), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	for i := range rows {
		rows[i].Similarity = round4(rows[i].Similarity)
		if rows[i].Tags == nil {
			rows[i].Tags = pq.StringArray{}
		}
	}

	return rows, nil
}

const memoryByIDQuery = `
	SELECT m.id, m.short_id, m.content, m.tags, m.source_url, m.created_at,
	       a.name AS author_name
	FROM memories m
	JOIN agents a ON a.id = m.agent_id
	WHERE m.id = $1`

const memoryByShortIDQuery = `
	SELECT m.id, m.short_id, m.content, m.tags, m.source_url, m.created_at,
	       a.name AS author_name
	FROM memories m
	JOIN agents a ON a.id = m.agent_id
	WHERE m.short_id = $1`

const relatedQuery = `
	SELECT ml.related_id, m2.short_id, ml.relation, COALESCE(ml.similarity, 0) AS similarity
	FROM memory_links ml
	JOIN memories m2 ON m2.id = ml.related_id
	WHERE ml.memory_id = $1
	ORDER BY ml.similarity DESC`

// GetMemoryByHandle looks a memory up by UUID or by short id, whichever the
// handle parses as, and loads its outgoing links. Returns ErrMemoryNotFound
// when no row matches.
func (c *Client) GetMemoryByHandle(ctx context.Context, handle string) (*MemoryDetail, error) {
	query := memoryByShortIDQuery
	var arg interface{} = handle
	if id, err := uuid.Parse(handle); err == nil {
		query = memoryByIDQuery
		arg = id
	}

	var detail MemoryDetail
	if err := c.db.GetContext(ctx, &detail, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemoryNotFound
		}
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	if detail.Tags == nil {
		detail.Tags = pq.StringArray{}
	}

	related := []RelatedMemory{}
	if err := c.db.SelectContext(ctx, &related, relatedQuery, detail.ID); err != nil {
		return nil, fmt.Errorf("failed to load memory links: %w", err)
	}
	for i := range related {
		related[i].Similarity = round4(related[i].Similarity)
	}
	detail.Related = related

	return &detail, nil
}

const disableAgentQuery = `
	UPDATE agents SET disabled_at = $2 WHERE id = $1`

const quarantineMemoriesQuery = `
	UPDATE memories SET quality = -2 WHERE agent_id = $1`

// QuarantineAgent disables the agent and demotes all of its memories below
// the search-visibility floor in a single transaction. Quarantining an
// already-disabled agent refreshes disabled_at. Returns the number of
// quarantined memories, or ErrAgentNotFound if the agent does not exist.
func (c *Client) QuarantineAgent(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var quarantined int64

	err := c.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, disableAgentQuery, agentID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to disable agent: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read disable result: %w", err)
		}
		if affected == 0 {
			return ErrAgentNotFound
		}

		res, err = tx.ExecContext(ctx, quarantineMemoriesQuery, agentID)
		if err != nil {
			return fmt.Errorf("failed to quarantine memories: %w", err)
		}
		quarantined, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read quarantine result: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	c.logger.Info("Agent quarantined",
		zap.String("agent_id", agentID.String()),
		zap.Int64("memories_quarantined", quarantined))

	return quarantined, nil
}

// round4 rounds to four decimal places for similarity reporting.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
