package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/recall-labs/recall/internal/embeddings"
)

func TestRegisterAgent(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))

	expectWriteEnabled(env.mock, "true")
	env.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO agents")).
		WithArgs(sqlmock.AnyArg(), "Alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "trust_level"}).
			AddRow(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), 0))

	body := writeBody(t, RegisterRequest{Name: "Alice"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/register", body)
	rec := httptest.NewRecorder()

	env.agents.RegisterAgent(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Alice", resp.Agent.Name)
	require.NotEqual(t, uuid.Nil, resp.Agent.ID)
	require.Regexp(t, `^recall_[0-9a-f]{64}$`, resp.APIKey)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegisterAgent_Validation(t *testing.T) {
	tests := []struct {
		name      string
		agentName string
	}{
		{"empty name", ""},
		{"name too long", strings.Repeat("n", 101)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, embeddings.NewStatic(3))

			expectWriteEnabled(env.mock, "true")

			body := writeBody(t, RegisterRequest{Name: tt.agentName})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/register", body)
			rec := httptest.NewRecorder()

			env.agents.RegisterAgent(rec, req)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			require.Contains(t, rec.Body.String(), `"field":"name"`)
			require.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestRegisterAgent_WritesDisabled(t *testing.T) {
	env := newTestEnv(t, embeddings.NewStatic(3))

	expectWriteEnabled(env.mock, "false")

	body := writeBody(t, RegisterRequest{Name: "Alice"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/register", body)
	rec := httptest.NewRecorder()

	env.agents.RegisterAgent(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, env.mock.ExpectationsWereMet())
}
