package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Link relations assigned by the write-time similarity probe.
const (
	RelationSimilar            = "similar"
	RelationDuplicateCandidate = "duplicate_candidate"
)

// Quality levels. Anything at or below QualityQuarantined is invisible to
// search and to similarity probes.
const (
	QualityQuarantined = -2
	QualityProvisional = -1
	QualityNeutral     = 0
)

// Trust levels. Core agents can call the admin endpoints.
const (
	TrustUnverified = 0
	TrustTrusted    = 1
	TrustCore       = 2
)

// Well-known system_config keys.
const (
	ConfigKeyWriteEnabled   = "global_write_enabled"
	ConfigKeyAdminHeartbeat = "last_admin_heartbeat"
)

// Agent is an authenticated principal that reads and writes memories.
type Agent struct {
	ID         uuid.UUID  `db:"id"`
	Name       string     `db:"name"`
	APIKeyHash string     `db:"api_key_hash"`
	CreatedAt  time.Time  `db:"created_at"`
	DisabledAt *time.Time `db:"disabled_at"`
	TrustLevel int        `db:"trust_level"`
	Notes      *string    `db:"notes"`
}

// Disabled reports whether the agent has been administratively disabled.
func (a *Agent) Disabled() bool { return a.DisabledAt != nil }

// Memory is a single shared note.
type Memory struct {
	ID             uuid.UUID       `db:"id"`
	ShortID        string          `db:"short_id"`
	AgentID        uuid.UUID       `db:"agent_id"`
	Content        string          `db:"content"`
	Tags           pq.StringArray  `db:"tags"`
	SourceURL      *string         `db:"source_url"`
	CreatedAt      time.Time       `db:"created_at"`
	Embedding      pgvector.Vector `db:"embedding"`
	EmbeddingModel string          `db:"embedding_model"`
	Quality        int             `db:"quality"`
	DuplicateOf    *uuid.UUID      `db:"duplicate_of"`
}

// MemoryLink is a directed edge from a newly written memory to an existing
// one it resembles. Links are created only inside the write transaction of
// their source memory and are never updated afterwards.
type MemoryLink struct {
	ID         uuid.UUID `db:"id"`
	MemoryID   uuid.UUID `db:"memory_id"`
	RelatedID  uuid.UUID `db:"related_id"`
	Relation   string    `db:"relation"`
	Similarity float64   `db:"similarity"`
	CreatedAt  time.Time `db:"created_at"`
}

// RetrievalEvent records one memory being returned to one reader.
type RetrievalEvent struct {
	ID         uuid.UUID `db:"id"`
	AgentID    uuid.UUID `db:"agent_id"`
	MemoryID   uuid.UUID `db:"memory_id"`
	Query      string    `db:"query"`
	Similarity float64   `db:"similarity"`
	CreatedAt  time.Time `db:"created_at"`
}

// SystemConfig is a key/value row with an update timestamp.
type SystemConfig struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SimilarMemory is one probe hit reported back to the writer. Similarity
// is rounded to four decimals for reporting; link rows keep full precision.
type SimilarMemory struct {
	ID         uuid.UUID `json:"id"`
	ShortID    string    `json:"short_id"`
	Similarity float64   `json:"similarity"`
	Relation   string    `json:"relation"`
}

// SearchRow is one vector-search candidate joined with its author name and
// retrieval count. The JSON tags define the search-cache wire format: ids
// as strings, timestamps as RFC 3339.
type SearchRow struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	ShortID        string         `db:"short_id" json:"short_id"`
	Content        string         `db:"content" json:"content"`
	Tags           pq.StringArray `db:"tags" json:"tags"`
	SourceURL      *string        `db:"source_url" json:"source_url"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	AuthorName     string         `db:"author_name" json:"author_name"`
	Similarity     float64        `db:"similarity" json:"similarity"`
	RetrievalCount int            `db:"retrieval_count" json:"retrieval_count"`
}

// RelatedMemory is one outgoing link in a memory detail view.
type RelatedMemory struct {
	ID         uuid.UUID `db:"related_id"`
	ShortID    string    `db:"short_id"`
	Relation   string    `db:"relation"`
	Similarity float64   `db:"similarity"`
}

// MemoryDetail is the full single-memory view including outgoing links.
type MemoryDetail struct {
	ID         uuid.UUID      `db:"id"`
	ShortID    string         `db:"short_id"`
	Content    string         `db:"content"`
	Tags       pq.StringArray `db:"tags"`
	SourceURL  *string        `db:"source_url"`
	CreatedAt  time.Time      `db:"created_at"`
	AuthorName string         `db:"author_name"`
	Related    []RelatedMemory
}
