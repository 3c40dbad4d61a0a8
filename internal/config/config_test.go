package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	require.Equal(t, 1536, cfg.Embedding.Dimensions)
	require.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	require.Equal(t, 0.55, cfg.Memory.MinSimilarity)
	require.Equal(t, 0.92, cfg.Memory.DuplicateThreshold)
	require.Equal(t, 0.97, cfg.Memory.AutoDuplicateThreshold)
	require.Equal(t, 80, cfg.Memory.MinContentLength)
	require.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_DB", "recall_prod")
	t.Setenv("REDIS_URL", "redis://cache.internal:6379/1")
	t.Setenv("RECALL_MEMORY_MIN_SIMILARITY", "0.6")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.Postgres.Host)
	require.Equal(t, "recall_prod", cfg.Postgres.Database)
	require.Equal(t, "redis://cache.internal:6379/1", cfg.Redis.URL)
	require.Equal(t, 0.6, cfg.Memory.MinSimilarity)
	require.Equal(t, "sk-test", cfg.Embedding.APIKey)
}

func TestLoadRejectsBadProvider(t *testing.T) {
	t.Setenv("RECALL_EMBEDDING_PROVIDER", "mystery")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown embedding provider")
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("RECALL_MEMORY_DUPLICATE_THRESHOLD", "0.3")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "below memory.min_similarity")
}
