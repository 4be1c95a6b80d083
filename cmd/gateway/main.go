package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scim-gateway/gateway/internal/audit"
	"github.com/scim-gateway/gateway/internal/auth"
	"github.com/scim-gateway/gateway/internal/config"
	"github.com/scim-gateway/gateway/internal/db"
	"github.com/scim-gateway/gateway/internal/httpapi"
	"github.com/scim-gateway/gateway/internal/provider"
	"github.com/scim-gateway/gateway/internal/ratelimit"
	"github.com/scim-gateway/gateway/internal/repo"
	"github.com/scim-gateway/gateway/internal/syncengine"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "scim-gateway").Logger()

	if os.Getenv("ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	store := repo.NewPostgresStore(pool)
	repos := store.Repositories()

	validator := auth.NewValidator(cfg.AuthValidatorConfig())

	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	failedAuth := ratelimit.NewFailedAuthTracker(cfg.MaxFailedAuthAttempts, time.Minute, cfg.LockoutDuration)

	pipeline := audit.NewPipeline(repos.Audit)

	// Scheduler is constructed here so the cron loop and keyed-mutex guard are
	// available to the process; Task registration (one (tenantId, providerId)
	// pair per provider.Adapter) happens once tenant provisioning reads
	// configured providers from a tenant store, which this composition root
	// does not yet have a source for.
	scheduler := syncengine.NewScheduler(repos)
	scheduler.Start()
	defer scheduler.Stop()

	registry := provider.NewRegistry()

	srv := &httpapi.Server{
		Repos:                 repos,
		Validator:             validator,
		Limiter:               limiter,
		FailedAuth:            failedAuth,
		Audit:                 pipeline,
		Scheduler:             scheduler,
		Providers:             registry,
		BaseURL:               os.Getenv("BASE_URL"),
		AnonymousPathPrefixes: cfg.AnonymousPathPrefixes,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Timeouts.Request,
		WriteTimeout: cfg.Timeouts.Total,
		IdleTimeout:  cfg.Timeouts.Idle,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Total)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
