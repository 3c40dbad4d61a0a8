package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string                  { return s.name }
func (s stubChecker) Check(_ context.Context) error { return s.err }

func TestHandleHealth(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(zap.NewNop()).RegisterRoutes(mux)

	for _, path := range []string{"/health", "/api/v1/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "ok", body["status"])
		require.Equal(t, ProtocolVersion, body["protocol_version"])
	}
}

func TestHandleReadiness(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		mux := http.NewServeMux()
		NewHandler(zap.NewNop(),
			stubChecker{name: "database"},
			stubChecker{name: "redis"},
		).RegisterRoutes(mux)

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status     string            `json:"status"`
			Ready      bool              `json:"ready"`
			Components map[string]string `json:"components"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.True(t, body.Ready)
		require.Equal(t, "ok", body.Components["database"])
		require.Equal(t, "ok", body.Components["redis"])
	})

	t.Run("failing dependency flips to 503", func(t *testing.T) {
		mux := http.NewServeMux()
		NewHandler(zap.NewNop(),
			stubChecker{name: "database"},
			stubChecker{name: "redis", err: errors.New("connection refused")},
		).RegisterRoutes(mux)

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body struct {
			Status     string            `json:"status"`
			Ready      bool              `json:"ready"`
			Components map[string]string `json:"components"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.False(t, body.Ready)
		require.Equal(t, "ok", body.Components["database"])
		require.Equal(t, "connection refused", body.Components["redis"])
	})
}

func TestHandleLiveness(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(zap.NewNop()).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "alive")
}
