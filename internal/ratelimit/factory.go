package ratelimit

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/scopeforge/scoperesolve/internal/config"
)

// NewStore creates the rate limit store httpapi uses for the global
// /v1/validate counter, based on config.ScalingConfig.Backend.
//
// Backend options:
// - "local": In-memory store (default for a single instance)
// - "postgres": shares the role/client table's connection pool
// - "redis": the same backend resolvercache uses for rebuild-trigger pub/sub
//
// The pool parameter is required for "postgres" backend.
// The redisURL is required for "redis" backend (from config.Scaling.RedisURL).
func NewStore(cfg *config.ScalingConfig, pool *pgxpool.Pool) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		log.Info().Msg("using in-memory rate limit store (single instance mode)")
		return NewMemoryStore(10 * time.Minute), nil

	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres rate limit backend")
		}
		log.Info().Msg("using PostgreSQL rate limit store (multi-instance mode)")
		store := NewPostgresStore(pool)
		return store, nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis rate limit backend")
		}
		log.Info().Msg("using Redis-compatible rate limit store (high-scale mode)")
		store, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s (valid options: local, postgres, redis)", cfg.Backend)
	}
}
