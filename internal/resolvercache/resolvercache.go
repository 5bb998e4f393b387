// Package resolvercache hot-reloads the compiled DFAResolver behind an
// atomic pointer swap (spec §5): a Builder goroutine rebuilds
// (RoleExpander -> DFAResolver) off the request path whenever the role
// table changes, so readers in flight keep resolving against the resolver
// they captured at the start of their request.
package resolvercache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/scopeforge/scoperesolve/internal/resolver"
	"github.com/scopeforge/scoperesolve/internal/roles"
	"github.com/scopeforge/scoperesolve/internal/roletable"
	"github.com/scopeforge/scoperesolve/internal/signature"
)

// Metrics is the subset of *observability.Metrics the cache records
// rebuild outcomes to. Kept as an interface so this package doesn't need
// to import internal/observability directly.
type Metrics interface {
	RecordRebuild(status string, duration time.Duration, rejected int)
	UpdateActiveGeneration(generation uint64)
}

// Cache holds the currently active *resolver.Resolver behind an atomic
// pointer and satisfies signature.ResolverSource: Current() always returns
// immediately, never blocking on a rebuild in progress.
type Cache struct {
	ptr        atomic.Pointer[resolver.Resolver]
	generation atomic.Uint64
	metrics    Metrics
}

// New constructs a Cache seeded with an already-compiled resolver (e.g.
// from an initial synchronous Build, so Current never returns nil).
func New(initial *resolver.Resolver) *Cache {
	c := &Cache{}
	c.ptr.Store(initial)
	return c
}

// Current implements signature.ResolverSource.
func (c *Cache) Current() signature.Resolver {
	return c.ptr.Load()
}

// Generation reports how many successful rebuilds have been swapped in.
func (c *Cache) Generation() uint64 {
	return c.generation.Load()
}

// WithMetrics attaches a metrics sink; rebuilds before this call are
// unrecorded.
func (c *Cache) WithMetrics(m Metrics) *Cache {
	c.metrics = m
	return c
}

// Rebuild loads the role table, expands it, compiles a resolver, and swaps
// it in. Roles rejected as malformed do not fail the rebuild; they are
// logged and excluded, mirroring roles.Expand's per-role-rejection contract
// (spec §4.2). A table whose expansion does not converge fails the rebuild
// and leaves the current resolver in place.
func (c *Cache) Rebuild(ctx context.Context, src roletable.Source) error {
	start := time.Now()

	table, err := src.Load(ctx)
	if err != nil {
		c.recordFailure(start)
		return err
	}

	closed, rejected, err := roles.Expand(table)
	if err != nil {
		c.recordFailure(start)
		return err
	}
	for _, r := range rejected {
		log.Warn().Str("role_id", r.RoleID).Err(r.Err).Msg("role rejected during rebuild")
	}

	next := resolver.Build(closed)
	c.ptr.Store(next)
	gen := c.generation.Add(1)

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordRebuild("success", duration, len(rejected))
		c.metrics.UpdateActiveGeneration(gen)
	}
	log.Info().
		Uint64("generation", gen).
		Int("roles", len(closed)).
		Int("rejected", len(rejected)).
		Dur("duration", duration).
		Msg("resolver rebuilt")
	return nil
}

func (c *Cache) recordFailure(start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordRebuild("failure", time.Since(start), 0)
	}
}

// Builder drives Cache.Rebuild off a trigger channel, debouncing bursts of
// triggers (e.g. several role-table edits in quick succession) into a
// single rebuild, grounded on the teacher's background-goroutine-plus-
// channel shape (internal/logging/batcher.go).
type Builder struct {
	Cache    *Cache
	Source   roletable.Source
	Debounce time.Duration
	Triggers <-chan struct{}
}

// Run blocks until ctx is cancelled, rebuilding on every trigger received
// (debounced) plus once immediately on start.
func (b *Builder) Run(ctx context.Context) {
	if err := b.Cache.Rebuild(ctx, b.Source); err != nil {
		log.Error().Err(err).Msg("initial resolver build failed")
	}

	debounce := b.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-b.Triggers:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			timerC = nil
			if err := b.Cache.Rebuild(ctx, b.Source); err != nil {
				log.Error().Err(err).Msg("resolver rebuild failed")
			}
		}
	}
}

// RedisBroadcaster fans rebuild triggers out across instances via a Redis
// pub/sub channel, grounded on config.ScalingConfig's "redis" backend
// option (internal/config, internal/ratelimit/redis.go).
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisBroadcaster wraps an existing Redis client.
func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = "scoperesolve:rebuild"
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

// Publish notifies other instances that the role table changed and they
// should rebuild.
func (b *RedisBroadcaster) Publish(ctx context.Context) error {
	return b.client.Publish(ctx, b.channel, "rebuild").Err()
}

// Subscribe returns a channel that receives a trigger for every message
// published on the broadcast channel, suitable for use as Builder.Triggers.
// The caller must eventually cancel ctx to stop the underlying goroutine.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) <-chan struct{} {
	sub := b.client.Subscribe(ctx, b.channel)
	out := make(chan struct{})
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
