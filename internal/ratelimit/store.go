// Package ratelimit provides the pluggable counter store backing the
// global, per-remote-address rate limit on the /v1/validate HTTP endpoint
// (internal/httpapi): the one surface in this module that accepts
// unauthenticated traffic before a signature has even been checked, so it
// is the one that needs protecting against abusive request volume
// regardless of which clientId a request eventually claims.
package ratelimit

import (
	"context"
	"time"
)

// Store is the interface for rate limit counter backends. It supports the
// same three deployment shapes config.ScalingConfig names:
// - Memory: a single scoperesolve instance (fastest, no external dependency)
// - PostgreSQL: several instances sharing the role/client database, without
//   requiring a separate cache tier
// - Redis: high request volume, coordinated across many instances
type Store interface {
	// Get retrieves the current count for a key.
	// Returns the count and expiration time.
	Get(ctx context.Context, key string) (int64, time.Time, error)

	// Increment atomically increments the counter for a key.
	// If the key doesn't exist, it creates it with count=1 and the given expiration.
	// Returns the new count after incrementing.
	Increment(ctx context.Context, key string, expiration time.Duration) (int64, error)

	// Reset resets the counter for a key.
	Reset(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}

// Result contains the rate limit check result
type Result struct {
	// Allowed indicates whether the request is allowed
	Allowed bool

	// Remaining is the number of requests remaining in the current window
	Remaining int64

	// ResetAt is when the rate limit window resets
	ResetAt time.Time

	// Limit is the maximum number of requests allowed in the window
	Limit int64
}

// Check performs a rate limit check using the store.
// It increments the counter and returns whether the request is allowed.
func Check(ctx context.Context, store Store, key string, limit int64, window time.Duration) (*Result, error) {
	count, err := store.Increment(ctx, key, window)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Allowed:   count <= limit,
		Remaining: limit - count,
		Limit:     limit,
		ResetAt:   time.Now().Add(window),
	}

	if result.Remaining < 0 {
		result.Remaining = 0
	}

	return result, nil
}

// ValidateEndpointKey builds the Store key for the /v1/validate global rate
// limit, namespaced by remote address so it can share a backend with any
// other counters this module grows without colliding on key space.
func ValidateEndpointKey(remoteAddr string) string {
	return "validate:" + remoteAddr
}
