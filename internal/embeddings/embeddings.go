// Package embeddings turns memory content and search queries into vectors.
//
// The default provider is OpenAI. A deterministic local provider and a
// fixed-vector static provider exist so development and tests never need
// network access.
package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Client produces embedding vectors for text.
type Client interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model is the provider-qualified model name stored alongside each
	// memory, e.g. "openai/text-embedding-3-small".
	Model() string
	// Dimensions is the vector width the provider is configured for.
	Dimensions() int
}

// Config controls embedding generation.
type Config struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	Dimensions        int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// New builds the embedding client named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Client, error) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg, logger), nil
	case "local":
		return NewLocal(cfg.Dimensions), nil
	case "static":
		return NewStatic(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// ProviderError describes a failed embedding request. Timeout reports that
// the provider did not answer in time; StatusCode carries the upstream HTTP
// status when one was received.
type ProviderError struct {
	Provider   string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("embedding provider %s timed out: %v", e.Provider, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding provider %s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
