package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scopeforge/scoperesolve/internal/clients"
	"github.com/scopeforge/scoperesolve/internal/config"
	"github.com/scopeforge/scoperesolve/internal/httpapi"
	"github.com/scopeforge/scoperesolve/internal/observability"
	"github.com/scopeforge/scoperesolve/internal/ratelimit"
	"github.com/scopeforge/scoperesolve/internal/resolver"
	"github.com/scopeforge/scoperesolve/internal/resolvercache"
	"github.com/scopeforge/scoperesolve/internal/roletable"
	"github.com/scopeforge/scoperesolve/internal/signature"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scope resolution HTTP service",
	Long: `serve connects to Postgres for the role and client tables, builds
the initial DFA resolver, and starts the thin HTTP surface that presents
signature validation at POST /v1/validate, taking the HAWK Authorization
value or bewit from the JSON request body.

When scaling.backend is "redis" it rebuilds the resolver in the background
each time a rebuild trigger is published over Redis (spec §5); with any
other backend the resolver is built once at startup.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.ConsoleLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Msg("starting scoperesolve")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	clientLoader := clients.NewPostgresLoader(pool)
	roleSource := roletable.NewPostgresSource(pool)

	metrics := observability.NewMetrics()

	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	cache := resolvercache.New(resolver.Build(nil)).WithMetrics(metrics)

	var triggers <-chan struct{}
	var redisClient *redis.Client
	if cfg.Scaling.Backend == "redis" {
		redisOpts, err := redis.ParseURL(cfg.Scaling.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid scaling.redis_url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		broadcaster := resolvercache.NewRedisBroadcaster(redisClient, "")
		triggers = broadcaster.Subscribe(ctx)
	} else {
		triggers = make(chan struct{})
	}

	builder := &resolvercache.Builder{
		Cache:    cache,
		Source:   roleSource,
		Debounce: cfg.Resolver.RebuildDebounce,
		Triggers: triggers,
	}
	go builder.Run(ctx)

	validator := signature.NewValidator(clientLoader, cache)
	validator.MaxLifetime = cfg.Resolver.CertificateMaxLifetime.Milliseconds()

	var limiterStore ratelimit.Store
	if cfg.Security.EnableGlobalRateLimit {
		limiterStore, err = ratelimit.NewStore(&cfg.Scaling, pool)
		if err != nil {
			return fmt.Errorf("failed to initialize rate limit store: %w", err)
		}
		defer limiterStore.Close()
	}

	server := httpapi.NewServer(validator, metrics, limiterStore)
	if cfg.Security.EnableGlobalRateLimit {
		server.GlobalRateLimit = int64(cfg.Security.GlobalRateLimit)
		server.GlobalRateWindow = cfg.Security.GlobalRateWindow
	}

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("metrics server failed to start")
			}
		}()
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("httpapi listening")
		if err := server.Listen(cfg.Server.Address); err != nil {
			log.Error().Err(err).Msg("server failed to start or stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info().Msg("server exited")
	return nil
}
