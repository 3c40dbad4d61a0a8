package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/recall-labs/recall/internal/metrics"
)

const insertRetrievalQuery = `
	INSERT INTO retrieval_events (id, agent_id, memory_id, query, similarity)
	VALUES ($1, $2, $3, $4, $5)`

// LogRetrieval inserts one retrieval event synchronously. Most callers
// should go through QueueRetrievalEvent instead.
func (c *Client) LogRetrieval(ctx context.Context, event *RetrievalEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if _, err := c.db.ExecContext(ctx, insertRetrievalQuery,
		event.ID, event.AgentID, event.MemoryID, event.Query, event.Similarity,
	); err != nil {
		return fmt.Errorf("failed to insert retrieval event: %w", err)
	}

	metrics.RetrievalEvents.Inc()
	return nil
}
