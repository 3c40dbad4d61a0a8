package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recall-labs/recall/cmd/recalld/internal/handlers"
	"github.com/recall-labs/recall/cmd/recalld/internal/middleware"
	authpkg "github.com/recall-labs/recall/internal/auth"
	"github.com/recall-labs/recall/internal/cache"
	"github.com/recall-labs/recall/internal/config"
	"github.com/recall-labs/recall/internal/db"
	"github.com/recall-labs/recall/internal/embeddings"
	"github.com/recall-labs/recall/internal/health"
	"github.com/recall-labs/recall/internal/memory"
	"github.com/recall-labs/recall/internal/ratelimit"
	"github.com/recall-labs/recall/migrations"
)

func main() {
	// Load .env if present (development convenience)
	_ = godotenv.Load()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize database
	dbClient, err := db.NewClient(&db.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConnections:  cfg.Postgres.MaxConnections,
		IdleConnections: cfg.Postgres.IdleConnections,
		MaxLifetime:     cfg.Postgres.MaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()

	if !cfg.Migrations.Skip {
		if err := migrations.Run(dbClient.DB().DB, cfg.Migrations.Path, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Initialize Redis client for rate limiting and the search cache
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	ctx := context.Background()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Initialize embedding provider
	embedder, err := embeddings.New(embeddings.Config{
		Provider:          cfg.Embedding.Provider,
		Model:             cfg.Embedding.Model,
		APIKey:            cfg.Embedding.APIKey,
		BaseURL:           cfg.Embedding.BaseURL,
		Dimensions:        cfg.Embedding.Dimensions,
		Timeout:           cfg.Embedding.Timeout,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize embedding provider", zap.Error(err))
	}

	// Create services
	authService := authpkg.NewService(dbClient, logger)
	limiter := ratelimit.NewLimiter(redisClient, logger)
	searchCache := cache.NewSearchCache(redisClient, logger)
	memoryService := memory.NewService(dbClient, embedder, searchCache, memory.Config{
		MinSimilarity:          cfg.Memory.MinSimilarity,
		DuplicateThreshold:     cfg.Memory.DuplicateThreshold,
		AutoDuplicateThreshold: cfg.Memory.AutoDuplicateThreshold,
		MinContentLength:       cfg.Memory.MinContentLength,
	}, logger)

	// Create handlers
	memoryHandler := handlers.NewMemoryHandler(memoryService, logger)
	agentHandler := handlers.NewAgentHandler(authService, dbClient, logger)
	adminHandler := handlers.NewAdminHandler(memoryService, logger)

	// Create middlewares
	requestLog := middleware.NewRequestLogger(logger).Middleware
	authMiddleware := middleware.NewAuthMiddleware(authService, logger).Middleware
	rateLimiter := middleware.NewRateLimiter(limiter, logger)

	// Setup HTTP mux
	mux := http.NewServeMux()

	// Health and metrics (no auth required)
	health.NewHandler(logger,
		health.NewDatabaseChecker(dbClient),
		health.NewRedisChecker(redisClient),
	).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Registration (no auth, limited per IP)
	mux.Handle("POST /api/v1/agents/register",
		requestLog(
			rateLimiter.PerIP(
				http.HandlerFunc(agentHandler.RegisterAgent),
			),
		),
	)

	// Memory endpoints (require auth)
	mux.Handle("POST /api/v1/memory",
		requestLog(
			authMiddleware(
				rateLimiter.Endpoint(ratelimit.EndpointWrite)(
					http.HandlerFunc(memoryHandler.WriteMemory),
				),
			),
		),
	)

	mux.Handle("GET /api/v1/memory/search",
		requestLog(
			authMiddleware(
				rateLimiter.Endpoint(ratelimit.EndpointSearch)(
					http.HandlerFunc(memoryHandler.SearchMemories),
				),
			),
		),
	)

	mux.Handle("GET /api/v1/memory/{id}",
		requestLog(
			authMiddleware(
				rateLimiter.Endpoint(ratelimit.EndpointGet)(
					http.HandlerFunc(memoryHandler.GetMemory),
				),
			),
		),
	)

	// Admin endpoints (require auth, trust gate in the handler)
	mux.Handle("POST /api/v1/admin/heartbeat",
		requestLog(
			authMiddleware(
				http.HandlerFunc(adminHandler.Heartbeat),
			),
		),
	)

	mux.Handle("POST /api/v1/admin/quarantine/{agent_id}",
		requestLog(
			authMiddleware(
				http.HandlerFunc(adminHandler.QuarantineAgent),
			),
		),
	)

	// CORS middleware for all routes (development friendly)
	corsHandler := corsMiddleware(mux)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:      corsHandler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("recalld starting",
			zap.Int("port", cfg.HTTP.Port),
			zap.String("embedding_provider", cfg.Embedding.Provider),
			zap.String("embedding_model", embedder.Model()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("recalld shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("recalld stopped")
}

// corsMiddleware adds CORS headers for development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			// Handle preflight - headers already set above
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
