package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/paygate/internal/bootstrap"
	"github.com/cassiomorais/paygate/internal/controller"
	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	infraRedis "github.com/cassiomorais/paygate/internal/infrastructure/redis"
	"github.com/cassiomorais/paygate/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "paygate-api", "paygate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	webhooks, err := app.WebhookRouter()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build webhook router")
	}
	orch := app.Orchestrator()

	// Keep gateway health fresh so ranking and /gateways reflect reality.
	go app.Monitor.Run(ctx, app.Config.Orchestrator.HealthInterval)

	if app.Config.Webhook.DedupeBackend == config.DedupeMemory {
		if c, ok := app.DedupeStore().(webhook.Cleaner); ok {
			go webhook.RunCleanup(ctx, c, app.Config.Worker.DedupeCleanupInterval, app.Logger, app.Metrics)
		}
	}

	router := controller.NewRouter(controller.RouterDeps{
		Pool:             app.Pool,
		RedisClient:      app.Redis,
		Orchestrator:     orch,
		Webhooks:         webhooks,
		IdempotencyStore: infraRedis.NewIdempotencyStore(app.Redis),
		Metrics:          app.Metrics,
		Gatherer:         prometheus.DefaultGatherer,
		CORSConfig:       app.Config.Server.CORS,
		Webhook:          app.Config.Webhook,
		JWTSecret:        app.Config.Auth.JWTSecret,
	})

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
