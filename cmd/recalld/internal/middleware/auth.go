package middleware

import (
	"context"
	"errors"
	"net/http"

	authpkg "github.com/recall-labs/recall/internal/auth"
	"go.uber.org/zap"
)

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	authService *authpkg.Service
	logger      *zap.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authService *authpkg.Service, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		logger:      logger,
	}
}

// Middleware returns the HTTP middleware function. On success the resolved
// agent is stored on the request context under the "agent" key.
func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, err := authpkg.ExtractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			m.sendError(w, "Missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		agent, err := m.authService.Authenticate(r.Context(), apiKey)
		if err != nil {
			switch {
			case errors.Is(err, authpkg.ErrAgentDisabled):
				m.sendError(w, "Agent is disabled", http.StatusForbidden)
			case errors.Is(err, authpkg.ErrInvalidKey):
				m.logger.Debug("API key validation failed",
					zap.String("path", r.URL.Path),
				)
				m.sendError(w, "Invalid API key", http.StatusUnauthorized)
			default:
				m.logger.Error("Authentication lookup failed", zap.Error(err))
				m.sendError(w, "Authentication unavailable", http.StatusInternalServerError)
			}
			return
		}

		ctx := context.WithValue(r.Context(), "agent", agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sendError sends a JSON error response
func (m *AuthMiddleware) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="Recall API"`)
	}
	w.WriteHeader(code)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
