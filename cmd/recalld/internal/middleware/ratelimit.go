package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/recall-labs/recall/internal/db"
	"github.com/recall-labs/recall/internal/metrics"
	"github.com/recall-labs/recall/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimiter enforces the per-endpoint rate limit rules
type RateLimiter struct {
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewRateLimiter creates a new rate limiter middleware
func NewRateLimiter(limiter *ratelimit.Limiter, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		logger:  logger,
	}
}

// Endpoint returns middleware enforcing the rule table for the named
// endpoint against the authenticated agent. It must run after the auth
// middleware so the agent is on the context.
func (rl *RateLimiter) Endpoint(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent, ok := r.Context().Value("agent").(*db.Agent)
			if !ok {
				// No agent means auth did not run; let the handler reject it.
				next.ServeHTTP(w, r)
				return
			}

			res := rl.limiter.AllowAgent(r.Context(), agent.ID.String(), endpoint, agent.TrustLevel)
			if !res.Allowed {
				rl.logger.Warn("Rate limit exceeded",
					zap.String("agent_id", agent.ID.String()),
					zap.String("endpoint", endpoint),
					zap.Int("retry_after", res.RetryAfter),
				)
				rl.deny(w, endpoint, res.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PerIP returns middleware limiting unauthenticated requests by client IP.
func (rl *RateLimiter) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)

		res := rl.limiter.AllowIP(r.Context(), ip)
		if !res.Allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("ip", ip),
				zap.String("endpoint", ratelimit.EndpointRegister),
				zap.Int("retry_after", res.RetryAfter),
			)
			rl.deny(w, ratelimit.EndpointRegister, res.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// deny sends a 429 with the Retry-After header and a retry_after body field.
func (rl *RateLimiter) deny(w http.ResponseWriter, endpoint string, retryAfter int) {
	metrics.RateLimitDenials.WithLabelValues(endpoint).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       "Rate limit exceeded",
		"retry_after": retryAfter,
	})
}

// getClientIP extracts the real client IP from request headers.
// Behind a load balancer, X-Forwarded-For format is: "spoofable, ..., client_ip".
// The proxy appends the real client IP, so the rightmost IP is trustworthy.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[len(parts)-1])
		}
	}

	// Fallback to RemoteAddr (strip port if present)
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
