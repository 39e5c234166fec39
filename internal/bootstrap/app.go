package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/paygate/internal/completion"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/health"
	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/paygate/internal/infrastructure/redis"
	"github.com/cassiomorais/paygate/internal/orchestrator"
	"github.com/cassiomorais/paygate/internal/repository/postgres"
	"github.com/cassiomorais/paygate/internal/validation"
	"github.com/cassiomorais/paygate/internal/webhook"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the process-wide dependencies shared by the API and the worker.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Metrics  *observability.Metrics
	Registry *gateway.Registry
	Monitor  *health.Monitor

	memoryDedupe *webhook.MemoryDedupe
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, serviceName, os.Stdout)
	logger.Info().Str("instance_id", cfg.InstanceID).Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	adapters, err := BuildAdapters(cfg.Gateways)
	if err != nil {
		return nil, err
	}
	registry := gateway.NewRegistry(BreakerSettings(cfg.Orchestrator.Breaker), adapters...)
	monitor := health.NewMonitor(registry,
		health.WithTimeout(cfg.Orchestrator.HealthTimeout),
		health.WithLogger(logger),
		health.WithMetrics(metrics),
	)
	for _, d := range registry.Descriptors() {
		logger.Info().Str("gateway", string(d.ID)).Int("priority", d.Priority).Msg("Gateway registered")
	}

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Redis:    redisClient,
		Metrics:  metrics,
		Registry: registry,
		Monitor:  monitor,
	}, nil
}

// Orchestrator builds the payment orchestrator over the shared registry and monitor.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(a.Registry, a.Monitor, OrchestratorConfig(a.Config.Orchestrator),
		orchestrator.WithLogger(a.Logger),
		orchestrator.WithMetrics(a.Metrics),
	)
}

// DedupeStore returns the configured webhook claim store. The memory store
// only deduplicates within one process.
func (a *App) DedupeStore() webhook.DedupeStore {
	switch a.Config.Webhook.DedupeBackend {
	case config.DedupePostgres:
		return postgres.NewDedupeRepository(a.Pool)
	case config.DedupeMemory:
		if a.memoryDedupe == nil {
			a.Logger.Warn().Msg("In-memory webhook dedupe; duplicates across instances will not be caught")
			a.memoryDedupe = webhook.NewMemoryDedupe()
		}
		return a.memoryDedupe
	default:
		return infraRedis.NewDedupe(a.Redis)
	}
}

// Dispatcher writes completion events to the outbox and the audit log.
func (a *App) Dispatcher() *completion.Dispatcher {
	return completion.NewDispatcher(a.Logger,
		completion.NewOutboxWriter(postgres.NewOutboxRepository(a.Pool)),
		completion.NewAuditLogger(a.Logger),
	)
}

// WebhookRouter wires signature verification, dedupe, the amount guard and
// completion dispatch.
func (a *App) WebhookRouter() (*webhook.Router, error) {
	guard, err := validation.NewGuard(GuardPolicy(a.Config.Webhook))
	if err != nil {
		return nil, fmt.Errorf("amount guard: %w", err)
	}
	opts := []webhook.Option{
		webhook.WithDedupeTTL(a.Config.Webhook.DedupeTTL),
		webhook.WithLogger(a.Logger),
		webhook.WithMetrics(a.Metrics),
	}
	// claim and outbox insert share a transaction only when both live in postgres
	if a.Config.Webhook.DedupeBackend == config.DedupePostgres {
		opts = append(opts, webhook.WithTransactions(postgres.NewTxManager(a.Pool)))
	}
	return webhook.NewRouter(
		a.Registry,
		a.DedupeStore(),
		postgres.NewOrderRepository(a.Pool),
		guard,
		a.Dispatcher(),
		opts...,
	), nil
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}
