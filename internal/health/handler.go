// Package health reports the state of the service's backing stores.
package health

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Dependency states.
const (
	StateHealthy   = "healthy"
	StateUnhealthy = "unhealthy"
	StateDisabled  = "disabled"
)

const pingTimeout = 2 * time.Second

// Checker defines the interface for checking service health.
type Checker interface {
	Ping(ctx context.Context) error
}

// RedisChecker adapts redis.Client to Checker interface.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Ping checks Redis connectivity.
func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// PostgresChecker adapts pgxpool.Pool to Checker interface.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker creates a new Postgres health checker.
func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

// Ping checks Postgres connectivity.
func (p *PostgresChecker) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Handler handles health check operations. A nil checker marks the
// dependency as not configured.
type Handler struct {
	redis    Checker
	postgres Checker
}

// NewHandler creates a new health handler.
func NewHandler(redis, postgres Checker) *Handler {
	return &Handler{redis: redis, postgres: postgres}
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status   string `enum:"ok,degraded"                   json:"status"`
		Redis    string `enum:"healthy,unhealthy,disabled" json:"redis"`
		Postgres string `enum:"healthy,unhealthy,disabled" json:"postgres"`
	}
}

// Check performs a health check of the application and its dependencies.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Redis = checkState(ctx, h.redis)
	resp.Body.Postgres = checkState(ctx, h.postgres)

	resp.Body.Status = "ok"
	if resp.Body.Redis == StateUnhealthy || resp.Body.Postgres == StateUnhealthy {
		resp.Body.Status = "degraded"
	}

	return resp, nil
}

func checkState(ctx context.Context, c Checker) string {
	if c == nil {
		return StateDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		return StateUnhealthy
	}

	return StateHealthy
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Get(api, "/health", h.Check)
}
