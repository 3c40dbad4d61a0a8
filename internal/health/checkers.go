// Package health exposes liveness and readiness endpoints.
package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	recalldb "github.com/recall-labs/recall/internal/db"
)

// Checker verifies one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

// DatabaseChecker pings Postgres.
type DatabaseChecker struct {
	client *recalldb.Client
}

// NewDatabaseChecker creates a database health checker
func NewDatabaseChecker(client *recalldb.Client) *DatabaseChecker {
	return &DatabaseChecker{client: client}
}

func (d *DatabaseChecker) Name() string { return "database" }

func (d *DatabaseChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return d.client.HealthCheck(ctx)
}

// RedisChecker pings Redis.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a Redis health checker
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string { return "redis" }

func (r *RedisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
