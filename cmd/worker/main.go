package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/paygate/internal/bootstrap"
	"github.com/cassiomorais/paygate/internal/completion"
	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	infraRedis "github.com/cassiomorais/paygate/internal/infrastructure/redis"
	"github.com/cassiomorais/paygate/internal/repository/postgres"
	"github.com/cassiomorais/paygate/internal/webhook"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "paygate-worker", "paygate_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	workerCfg := app.Config.Worker
	relay := completion.NewRelay(
		postgres.NewTxManager(app.Pool),
		postgres.NewOutboxRepository(app.Pool),
		infraRedis.NewStreamProducer(app.Redis),
		workerCfg.BatchSize,
		app.Logger.With().Str("task", "outbox").Logger(),
		app.Metrics,
	)

	app.Logger.Info().
		Str("consumer", app.Config.InstanceID).
		Dur("outbox_poll_interval", workerCfg.OutboxPollInterval).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Outbox relay: completion events to Redis Streams.
	g.Go(func() error {
		return relay.Run(gCtx, workerCfg.OutboxPollInterval)
	})

	// 2. Gateway health probes, exported as metrics.
	g.Go(func() error {
		app.Monitor.Run(gCtx, app.Config.Orchestrator.HealthInterval)
		return nil
	})

	// 3. Expired webhook claims in Postgres. Redis expires its own keys and
	// the memory store is cleaned by the API process that owns it.
	if app.Config.Webhook.DedupeBackend == config.DedupePostgres {
		if c, ok := app.DedupeStore().(webhook.Cleaner); ok {
			g.Go(func() error {
				webhook.RunCleanup(gCtx, c, workerCfg.DedupeCleanupInterval, app.Logger, app.Metrics)
				return nil
			})
		}
	}

	// 4. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
