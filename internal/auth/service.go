// Package auth issues and verifies agent API keys.
//
// Keys look like "recall_" followed by 64 hex characters. Only the SHA-256
// digest of a key is stored; the plaintext is shown once at registration
// and cannot be recovered.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/recall-labs/recall/internal/db"
	"github.com/recall-labs/recall/internal/metrics"
)

const (
	keyPrefix    = "recall_"
	keyRandBytes = 32
	keyLength    = len(keyPrefix) + 2*keyRandBytes
)

var (
	// ErrInvalidKey is returned for malformed or unknown API keys.
	ErrInvalidKey = errors.New("invalid API key")
	// ErrAgentDisabled is returned when the key resolves to a
	// quarantined agent.
	ErrAgentDisabled = errors.New("agent is disabled")
)

// Service handles agent registration and API key verification
type Service struct {
	store  *db.Client
	logger *zap.Logger
}

// NewService creates a new auth service
func NewService(store *db.Client, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Register creates a new agent and returns it together with the plaintext
// API key. The key is only available here; afterwards only its hash exists.
func (s *Service) Register(ctx context.Context, name string) (*db.Agent, string, error) {
	apiKey, keyHash, err := generateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate API key: %w", err)
	}

	agent, err := s.store.CreateAgent(ctx, name, keyHash)
	if err != nil {
		return nil, "", err
	}

	metrics.AgentsRegistered.Inc()
	s.logger.Info("Agent registered",
		zap.String("agent_id", agent.ID.String()),
		zap.String("name", agent.Name))

	return agent, apiKey, nil
}

// Authenticate resolves an API key to its agent. Malformed keys are
// rejected without touching the database. Disabled agents authenticate
// as ErrAgentDisabled so callers can distinguish 401 from 403.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*db.Agent, error) {
	if !validKeyFormat(apiKey) {
		return nil, ErrInvalidKey
	}

	keyHash := hashToken(apiKey)

	agent, err := s.store.GetAgentByKeyHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, db.ErrAgentNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	// Constant-time comparison even after the indexed lookup
	if !compareTokenHash(agent.APIKeyHash, keyHash) {
		return nil, ErrInvalidKey
	}

	if agent.Disabled() {
		return nil, ErrAgentDisabled
	}

	return agent, nil
}

// ExtractBearerToken extracts the token from an Authorization header
func ExtractBearerToken(authHeader string) (string, error) {
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return authHeader[7:], nil
}

// Helper functions

func validKeyFormat(key string) bool {
	if len(key) != keyLength || key[:len(keyPrefix)] != keyPrefix {
		return false
	}
	_, err := hex.DecodeString(key[len(keyPrefix):])
	return err == nil
}

func generateAPIKey() (key, hash string, err error) {
	b := make([]byte, keyRandBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = keyPrefix + hex.EncodeToString(b)
	hash = hashToken(key)
	return key, hash, nil
}

// hashToken creates a SHA256 hash of a token
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// compareTokenHash performs constant-time comparison of token hashes
func compareTokenHash(hash1, hash2 string) bool {
	return subtle.ConstantTimeCompare([]byte(hash1), []byte(hash2)) == 1
}
