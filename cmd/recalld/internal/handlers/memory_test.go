package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	authpkg "github.com/recall-labs/recall/internal/auth"
	"github.com/recall-labs/recall/internal/cache"
	"github.com/recall-labs/recall/internal/db"
	"github.com/recall-labs/recall/internal/embeddings"
	"github.com/recall-labs/recall/internal/memory"
)

type testEnv struct {
	mock   sqlmock.Sqlmock
	store  *db.Client
	memory *MemoryHandler
	agents *AgentHandler
	admin  *AdminHandler
}

func newTestEnv(t *testing.T, embedder embeddings.Client) *testEnv {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	store := db.NewWithDB(sqlx.NewDb(mockDB, "sqlmock"), logger)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	searchCache := cache.NewSearchCache(redisClient, logger)
	memoryService := memory.NewService(store, embedder, searchCache, memory.Config{
		MinSimilarity:          0.55,
		DuplicateThreshold:     0.92,
		AutoDuplicateThreshold: 0.97,
		MinContentLength:       80,
	}, logger)
	authService := authpkg.NewService(store, logger)

	return &testEnv{
		mock:   mock,
		store:  store,
		memory: NewMemoryHandler(memoryService, logger),
		agents: NewAgentHandler(authService, store, logger),
		admin:  NewAdminHandler(memoryService, logger),
	}
}

func withAgent(r *http.Request, agent *db.Agent) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), "agent", agent))
}

func testAgent(trust int) *db.Agent {
	return &db.Agent{ID: uuid.New(), Name: "test-agent", TrustLevel: trust}
}

func expectWriteEnabled(mock sqlmock.Sqlmock, enabled string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM system_config WHERE key = $1")).
		WithArgs(db.ConfigKeyWriteEnabled).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(enabled))
}

func expectInsertAndEmptyProbe(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO memories")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).
			AddRow(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <=>")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "short_id", "similarity"}))
	mock.ExpectCommit()
}

func writeBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestWriteMemory(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))

	expectWriteEnabled(env.mock, "true")
	expectInsertAndEmptyProbe(env.mock)

	body := writeBody(t, WriteRequest{
		Content: strings.Repeat("x", 100),
		Tags:    []string{"test", "unit"},
	})
	req := withAgent(httptest.NewRequest(http.MethodPost, "/api/v1/memory", body), testAgent(1))
	rec := httptest.NewRecorder()

	env.memory.WriteMemory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp WriteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "saved", resp.Status)
	require.Regexp(t, `^RCL-[A-Z0-9]{8}$`, resp.ShortID)
	require.NotNil(t, resp.Similar)
	require.Empty(t, resp.Similar)

	// The raw JSON must carry similar as [] rather than null.
	require.Contains(t, rec.Body.String(), `"similar":[]`)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestWriteMemory_Validation(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))

	body := writeBody(t, WriteRequest{
		Content: "short",
		Tags:    []string{"one"},
	})
	req := withAgent(httptest.NewRequest(http.MethodPost, "/api/v1/memory", body), testAgent(1))
	rec := httptest.NewRecorder()

	env.memory.WriteMemory(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error  string            `json:"error"`
		Detail []ValidationError `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Detail, 2)
	require.Equal(t, "content", resp.Detail[0].Field)
	require.Equal(t, "tags", resp.Detail[1].Field)

	// Nothing reached the database.
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestWriteMemory_TooManyTags(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))

	body := writeBody(t, WriteRequest{
		Content: strings.Repeat("x", 100),
		Tags:    []string{"a", "b", "c", "d", "e", "f", "g"},
	})
	req := withAgent(httptest.NewRequest(http.MethodPost, "/api/v1/memory", body), testAgent(1))
	rec := httptest.NewRecorder()

	env.memory.WriteMemory(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestWriteMemory_NoAgent(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))

	body := writeBody(t, WriteRequest{Content: strings.Repeat("x", 100), Tags: []string{"a", "b"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memory", body)
	rec := httptest.NewRecorder()

	env.memory.WriteMemory(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWriteMemory_WritesDisabled(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))

	expectWriteEnabled(env.mock, "false")

	body := writeBody(t, WriteRequest{
		Content: strings.Repeat("x", 100),
		Tags:    []string{"test", "unit"},
	})
	req := withAgent(httptest.NewRequest(http.MethodPost, "/api/v1/memory", body), testAgent(1))
	rec := httptest.NewRecorder()

	env.memory.WriteMemory(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "temporarily disabled")
	require.NoError(t, env.mock.ExpectationsWereMet())
}

type stubEmbedder struct {
	err error
}

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, s.err }
func (s stubEmbedder) Model() string                                    { return "openai/text-embedding-3-small" }
func (s stubEmbedder) Dimensions() int                                  { return 3 }

func TestWriteMemory_ProviderFailures(t *testing.T) {
	tests := []struct {
		name string
		err  *embeddings.ProviderError
		want int
	}{
		{"upstream 500 becomes 502", &embeddings.ProviderError{Provider: "openai", StatusCode: 500}, http.StatusBadGateway},
		{"timeout becomes 504", &embeddings.ProviderError{Provider: "openai", Timeout: true}, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, stubEmbedder{err: tt.err})

			expectWriteEnabled(env.mock, "true")

			body := writeBody(t, WriteRequest{
				Content: strings.Repeat("x", 100),
				Tags:    []string{"test", "unit"},
			})
			req := withAgent(httptest.NewRequest(http.MethodPost, "/api/v1/memory", body), testAgent(1))
			rec := httptest.NewRecorder()

			env.memory.WriteMemory(rec, req)

			require.Equal(t, tt.want, rec.Code)
			require.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestSearchMemories(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))
	agent := testAgent(1)
	memID := uuid.New()

	env.mock.ExpectQuery(regexp.QuoteMeta("1 - (m.embedding <=> $1) >= $2")).
		WithArgs(sqlmock.AnyArg(), 0.55, 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "short_id", "content", "tags", "source_url", "created_at",
			"author_name", "similarity", "retrieval_count",
		}).AddRow(memID.String(), "RCL-MATCH001", "Vacuum the tables nightly", "{postgres,ops}",
			nil, time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC), "dba-bot", 0.88, 3))

	env.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO retrieval_events")).
		WithArgs(sqlmock.AnyArg(), agent.ID, memID, "vacuum", 0.88).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := withAgent(httptest.NewRequest(http.MethodGet, "/api/v1/memory/search?q=vacuum", nil), agent)
	rec := httptest.NewRecorder()

	env.memory.SearchMemories(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "vacuum", resp.Query)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "RCL-MATCH001", resp.Results[0].ShortID)
	require.Equal(t, "dba-bot", resp.Results[0].Author.Name)
	require.Equal(t, []string{"postgres", "ops"}, resp.Results[0].Tags)
	require.Equal(t, 3, resp.Results[0].RetrievalCount)

	// Close drains the async retrieval event insert.
	env.mock.ExpectClose()
	require.NoError(t, env.store.Close())
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSearchMemories_BadParams(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))
	agent := testAgent(1)

	tests := []struct {
		name string
		url  string
	}{
		{"missing q", "/api/v1/memory/search"},
		{"q too long", "/api/v1/memory/search?q=" + strings.Repeat("a", 501)},
		{"limit zero", "/api/v1/memory/search?q=ok&limit=0"},
		{"limit too large", "/api/v1/memory/search?q=ok&limit=51"},
		{"limit not a number", "/api/v1/memory/search?q=ok&limit=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withAgent(httptest.NewRequest(http.MethodGet, tt.url, nil), agent)
			rec := httptest.NewRecorder()

			env.memory.SearchMemories(rec, req)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}

	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetMemory(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))
	memID := uuid.New()
	relatedID := uuid.New()

	env.mock.ExpectQuery(regexp.QuoteMeta("WHERE m.short_id = $1")).
		WithArgs("RCL-TARGET01").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "short_id", "content", "tags", "source_url", "created_at", "author_name",
		}).AddRow(memID.String(), "RCL-TARGET01", "Rotate the API keys quarterly", "{security}",
			nil, time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC), "sec-bot"))

	env.mock.ExpectQuery(regexp.QuoteMeta("FROM memory_links ml")).
		WithArgs(memID).
		WillReturnRows(sqlmock.NewRows([]string{"related_id", "short_id", "relation", "similarity"}).
			AddRow(relatedID.String(), "RCL-NEIGHBOR", "similar", 0.7321))

	req := withAgent(httptest.NewRequest(http.MethodGet, "/api/v1/memory/RCL-TARGET01", nil), testAgent(1))
	req.SetPathValue("id", "RCL-TARGET01")
	rec := httptest.NewRecorder()

	env.memory.GetMemory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp GetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "RCL-TARGET01", resp.Memory.ShortID)
	require.Equal(t, "sec-bot", resp.Memory.Author.Name)
	require.Len(t, resp.Memory.Related, 1)
	require.Equal(t, "RCL-NEIGHBOR", resp.Memory.Related[0].ShortID)
	require.Equal(t, "similar", resp.Memory.Related[0].Relation)
	require.Equal(t, 0.7321, resp.Memory.Related[0].Similarity)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetMemory_NotFound(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))

	env.mock.ExpectQuery(regexp.QuoteMeta("WHERE m.short_id = $1")).
		WithArgs("RCL-ZZZZZZZZ").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "short_id", "content", "tags", "source_url", "created_at", "author_name",
		}))

	req := withAgent(httptest.NewRequest(http.MethodGet, "/api/v1/memory/RCL-ZZZZZZZZ", nil), testAgent(1))
	req.SetPathValue("id", "RCL-ZZZZZZZZ")
	rec := httptest.NewRecorder()

	env.memory.GetMemory(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Memory not found")
	require.NoError(t, env.mock.ExpectationsWereMet())
}
