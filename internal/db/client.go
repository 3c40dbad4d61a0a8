package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Sentinel errors surfaced by queries in this package.
var (
	ErrMemoryNotFound = errors.New("memory not found")
	ErrAgentNotFound  = errors.New("agent not found")
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages database connections and operations. Retrieval events are
// buffered on an internal queue and inserted by background workers so that
// search responses never wait on bookkeeping writes.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
	config *Config

	// Queue for async retrieval-event logging
	eventQueue chan *RetrievalEvent
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup // Track worker goroutines for graceful shutdown
}

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	// Build connection string
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	// Open database connection
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.IdleConnections)
	db.SetConnMaxLifetime(config.MaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{
		db:         db,
		logger:     logger,
		config:     config,
		eventQueue: make(chan *RetrievalEvent, 1000), // Buffer size of 1000
		workers:    4,
		stopCh:     make(chan struct{}),
	}

	// Start async workers
	client.startEventWorkers()

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.String("database", config.Database),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", client.workers),
	)

	return client, nil
}

// NewWithDB wraps an existing sqlx handle. Intended for tests.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	client := &Client{
		db:         db,
		logger:     logger,
		eventQueue: make(chan *RetrievalEvent, 1000),
		workers:    1,
		stopCh:     make(chan struct{}),
	}
	client.startEventWorkers()
	return client
}

// startEventWorkers initializes the worker pool for async event inserts
func (c *Client) startEventWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.eventWorker()
	}
}

// eventWorker processes retrieval events from the queue
func (c *Client) eventWorker() {
	defer c.workerWg.Done()

	for {
		select {
		case <-c.stopCh:
			// Drain remaining events before exiting
			c.drainEventQueue()
			return
		case event := <-c.eventQueue:
			c.insertQueuedEvent(event)
		}
	}
}

// drainEventQueue processes remaining events during shutdown
func (c *Client) drainEventQueue() {
	timeout := time.After(10 * time.Second)

	for {
		select {
		case event := <-c.eventQueue:
			c.insertQueuedEvent(event)
		case <-timeout:
			c.logger.Warn("Timeout draining retrieval event queue",
				zap.Int("pending", len(c.eventQueue)))
			return
		default:
			// Queue is empty
			return
		}
	}
}

func (c *Client) insertQueuedEvent(event *RetrievalEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.LogRetrieval(ctx, event); err != nil {
		c.logger.Warn("Failed to log retrieval event",
			zap.String("memory_id", event.MemoryID.String()),
			zap.String("agent_id", event.AgentID.String()),
			zap.Error(err))
	}
}

// QueueRetrievalEvent adds a retrieval event to the async queue. If the
// queue is full the event is inserted synchronously to avoid dropping it.
func (c *Client) QueueRetrievalEvent(event *RetrievalEvent) {
	select {
	case c.eventQueue <- event:
	default:
		c.logger.Warn("Retrieval event queue full, falling back to synchronous write",
			zap.String("memory_id", event.MemoryID.String()))
		c.insertQueuedEvent(event)
	}
}

// HealthCheck verifies database connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close gracefully shuts down the database client
func (c *Client) Close() error {
	c.logger.Info("Shutting down database client")

	// Signal workers to stop and wait for them to finish draining
	close(c.stopCh)
	c.workerWg.Wait()

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.logger.Info("Database client closed")
	return nil
}

// DB returns the underlying database handle for direct queries
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// WithTransaction executes fn within a database transaction
func (c *Client) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
