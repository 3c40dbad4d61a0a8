package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/recall-labs/recall/internal/metrics"
)

// OpenAI generates embeddings through the OpenAI API. Requests are
// throttled by an optional client-side limiter and bounded by a per-request
// timeout. Failures are never retried here; the caller decides whether a
// write or search is worth repeating.
type OpenAI struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewOpenAI builds an OpenAI-backed embedding client.
func NewOpenAI(cfg Config, logger *zap.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
		limiter:    limiter,
		logger:     logger,
	}
}

// Embed returns the vector for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Provider: "openai", Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		metrics.RecordEmbedding("openai", "error", time.Since(start).Seconds())

		var apiErr *openai.APIError
		switch {
		case errors.As(err, &apiErr):
			return nil, &ProviderError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Err: err}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &ProviderError{Provider: "openai", Timeout: true, Err: err}
		default:
			return nil, &ProviderError{Provider: "openai", Err: err}
		}
	}

	if len(resp.Data) == 0 {
		metrics.RecordEmbedding("openai", "empty", time.Since(start).Seconds())
		return nil, &ProviderError{Provider: "openai", Err: errors.New("no embeddings returned")}
	}

	embedding := resp.Data[0].Embedding
	if len(embedding) != o.dimensions {
		metrics.RecordEmbedding("openai", "bad_dimensions", time.Since(start).Seconds())
		o.logger.Error("Embedding dimension mismatch",
			zap.String("model", o.model),
			zap.Int("got", len(embedding)),
			zap.Int("want", o.dimensions))
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), o.dimensions)
	}

	metrics.RecordEmbedding("openai", "ok", time.Since(start).Seconds())
	return embedding, nil
}

// Model returns the provider-qualified model name.
func (o *OpenAI) Model() string { return "openai/" + o.model }

// Dimensions returns the configured vector width.
func (o *OpenAI) Dimensions() int { return o.dimensions }
