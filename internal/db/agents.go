package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const insertAgentQuery = `
	INSERT INTO agents (id, name, api_key_hash)
	VALUES ($1, $2, $3)
	RETURNING created_at, trust_level`

// CreateAgent registers a new agent with the given key hash. Trust level
// and timestamps come from column defaults.
func (c *Client) CreateAgent(ctx context.Context, name, apiKeyHash string) (*Agent, error) {
	agent := &Agent{
		ID:         uuid.New(),
		Name:       name,
		APIKeyHash: apiKeyHash,
	}

	if err := c.db.QueryRowxContext(ctx, insertAgentQuery,
		agent.ID, agent.Name, agent.APIKeyHash,
	).Scan(&agent.CreatedAt, &agent.TrustLevel); err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return agent, nil
}

const agentByKeyHashQuery = `
	SELECT id, name, api_key_hash, created_at, disabled_at, trust_level, notes
	FROM agents
	WHERE api_key_hash = $1`

// GetAgentByKeyHash resolves an API key digest to its agent. Returns
// ErrAgentNotFound when no agent has this hash.
func (c *Client) GetAgentByKeyHash(ctx context.Context, hash string) (*Agent, error) {
	var agent Agent
	if err := c.db.GetContext(ctx, &agent, agentByKeyHashQuery, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return &agent, nil
}

const agentByIDQuery = `
	SELECT id, name, api_key_hash, created_at, disabled_at, trust_level, notes
	FROM agents
	WHERE id = $1`

// GetAgentByID loads one agent by primary key. Returns ErrAgentNotFound
// when the id is unknown.
func (c *Client) GetAgentByID(ctx context.Context, id uuid.UUID) (*Agent, error) {
	var agent Agent
	if err := c.db.GetContext(ctx, &agent, agentByIDQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return &agent, nil
}
