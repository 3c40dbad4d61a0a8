// Package config loads deployment configuration from an optional
// recall.yaml plus environment variables. Environment always wins so a
// container can be pointed at different backends without editing files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full deployment configuration for recalld.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
}

// HTTPConfig controls the public API listener.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PostgresConfig describes the primary store connection pool.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// RedisConfig locates the shared key-value store used by the rate limiter
// and the search cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"` // openai | local | static
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Dimensions        int           `mapstructure:"dimensions"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // 0 disables throttling
}

// MemoryConfig holds the similarity thresholds and validation floors of
// the write and search pipelines.
type MemoryConfig struct {
	MinSimilarity          float64 `mapstructure:"min_similarity"`
	DuplicateThreshold     float64 `mapstructure:"duplicate_threshold"`
	AutoDuplicateThreshold float64 `mapstructure:"auto_duplicate_threshold"`
	MinContentLength       int     `mapstructure:"min_content_length"`
}

// MigrationsConfig controls startup schema migration.
type MigrationsConfig struct {
	Path string `mapstructure:"path"`
	Skip bool   `mapstructure:"skip"`
}

// Load reads recall.yaml (when present) and environment variables.
// Every key is reachable as RECALL_<SECTION>_<KEY>; a handful of
// conventional unprefixed names (POSTGRES_HOST, REDIS_URL,
// OPENAI_API_KEY, PORT) are honored as well.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("recall")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/recall")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "recall")
	v.SetDefault("postgres.password", "recall")
	v.SetDefault("postgres.database", "recall")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_connections", 25)
	v.SetDefault("postgres.idle_connections", 5)
	v.SetDefault("postgres.max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.requests_per_second", 0)

	v.SetDefault("memory.min_similarity", 0.55)
	v.SetDefault("memory.duplicate_threshold", 0.92)
	v.SetDefault("memory.auto_duplicate_threshold", 0.97)
	v.SetDefault("memory.min_content_length", 80)

	v.SetDefault("migrations.path", "migrations")
	v.SetDefault("migrations.skip", false)
}

func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("http.port", "RECALL_HTTP_PORT", "PORT")
	_ = v.BindEnv("postgres.host", "RECALL_POSTGRES_HOST", "POSTGRES_HOST")
	_ = v.BindEnv("postgres.port", "RECALL_POSTGRES_PORT", "POSTGRES_PORT")
	_ = v.BindEnv("postgres.user", "RECALL_POSTGRES_USER", "POSTGRES_USER")
	_ = v.BindEnv("postgres.password", "RECALL_POSTGRES_PASSWORD", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres.database", "RECALL_POSTGRES_DATABASE", "POSTGRES_DB")
	_ = v.BindEnv("postgres.sslmode", "RECALL_POSTGRES_SSLMODE", "POSTGRES_SSLMODE")
	_ = v.BindEnv("redis.url", "RECALL_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("embedding.api_key", "RECALL_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.model", "RECALL_EMBEDDING_MODEL", "EMBEDDING_MODEL")
}

func (c *Config) validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	switch c.Embedding.Provider {
	case "openai", "local", "static":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Memory.MinSimilarity < 0 || c.Memory.MinSimilarity > 1 {
		return fmt.Errorf("memory.min_similarity must be in [0,1], got %v", c.Memory.MinSimilarity)
	}
	if c.Memory.DuplicateThreshold < c.Memory.MinSimilarity {
		return fmt.Errorf("memory.duplicate_threshold %v below memory.min_similarity %v",
			c.Memory.DuplicateThreshold, c.Memory.MinSimilarity)
	}
	if c.Memory.AutoDuplicateThreshold < c.Memory.DuplicateThreshold {
		return fmt.Errorf("memory.auto_duplicate_threshold %v below memory.duplicate_threshold %v",
			c.Memory.AutoDuplicateThreshold, c.Memory.DuplicateThreshold)
	}
	if c.Memory.MinContentLength < 1 {
		return fmt.Errorf("memory.min_content_length must be positive, got %d", c.Memory.MinContentLength)
	}
	return nil
}
