// The worker daemon runs the durable job scheduler against Postgres: it
// applies the schema, registers the lending job handlers and their
// recurrences, and processes jobs until terminated.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/circulib/lending-engine-go/config"
	"github.com/circulib/lending-engine-go/jobs/fineprocessing"
	"github.com/circulib/lending-engine-go/jobs/overduesweep"
	"github.com/circulib/lending-engine-go/jobs/reconciliation"
	"github.com/circulib/lending-engine-go/jobs/reminderdelivery"
	"github.com/circulib/lending-engine-go/jobs/retentionsweep"
	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/notify"
	"github.com/circulib/lending-engine-go/oteladapters"
	"github.com/circulib/lending-engine-go/postgresengine"
	"github.com/circulib/lending-engine-go/scheduler"
)

func main() {
	_ = godotenv.Load() // optional .env for local development

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})
	slogger := slog.New(handler)
	slog.SetDefault(slogger)

	logger := oteladapters.NewSlogLogger(slogger)
	contextualLogger := oteladapters.NewSlogBridgeLoggerWithHandler(handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := connect(ctx, cfg.Postgres)
	if err != nil {
		slogger.Error("failed to connect to postgres", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	ledger, err := postgresengine.NewInventoryLedgerFromPGXPool(pool, postgresengine.WithLogger(logger))
	if err != nil {
		exit(slogger, "failed to create inventory ledger", err)
	}

	loans, err := postgresengine.NewLoanStoreFromPGXPool(pool, postgresengine.WithLogger(logger))
	if err != nil {
		exit(slogger, "failed to create loan store", err)
	}

	jobStore, err := postgresengine.NewJobStoreFromPGXPool(pool, postgresengine.WithLogger(logger))
	if err != nil {
		exit(slogger, "failed to create job store", err)
	}

	settings, err := cfg.Lending.Settings()
	if err != nil {
		exit(slogger, "failed to build lending settings", err)
	}

	sched, err := scheduler.New(jobStore,
		scheduler.WithWorkerCount(cfg.Scheduler.WorkerCount),
		scheduler.WithPollInterval(cfg.Scheduler.PollInterval),
		scheduler.WithLeaseTTL(cfg.Scheduler.LeaseTTL),
		scheduler.WithMaxAttempts(cfg.Scheduler.MaxAttempts),
		scheduler.WithRetryDelays(cfg.Scheduler.RetryBaseDelay, cfg.Scheduler.RetryMaxDelay),
		scheduler.WithJitterFactor(cfg.Scheduler.JitterFactor),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		exit(slogger, "failed to create scheduler", err)
	}

	registerHandlers(sched, ledger, loans, settings, logger, contextualLogger)

	if err := registerRecurrences(ctx, sched, cfg.Jobs); err != nil {
		exit(slogger, "failed to register recurring jobs", err)
	}

	slogger.Info("worker started",
		"worker_count", cfg.Scheduler.WorkerCount,
		"poll_interval", cfg.Scheduler.PollInterval.String())

	if err := sched.Run(ctx); err != nil {
		exit(slogger, "scheduler stopped with error", err)
	}

	slogger.Info("worker stopped")
}

// connect opens the pool and applies the idempotent schema.
func connect(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresengine.Schema()); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func registerHandlers(
	sched *scheduler.Scheduler,
	ledger *postgresengine.InventoryLedger,
	loans *postgresengine.LoanStore,
	settings lending.Settings,
	logger *oteladapters.SlogLogger,
	contextualLogger *oteladapters.SlogBridgeLogger,
) {

	clock := lending.SystemClock{}
	fines := lending.NewFineCalculator(settings.DailyFineRate)
	sender := notify.NewLogSender(logger)
	resolver := placeholderResolver()

	sched.RegisterHandler(overduesweep.JobKind,
		overduesweep.NewHandler(loans, ledger, fines, sender, resolver, clock, contextualLogger))

	sched.RegisterHandler(fineprocessing.JobKind,
		fineprocessing.NewHandler(loans, fines, clock, contextualLogger))

	sched.RegisterHandler(reconciliation.JobKind,
		reconciliation.NewHandler(ledger, loans, contextualLogger))

	sched.RegisterHandler(reminderdelivery.JobKind,
		reminderdelivery.NewHandler(loans, ledger, sender, resolver, contextualLogger))

	sched.RegisterHandler(retentionsweep.JobKind,
		retentionsweep.NewHandler(loans, settings.RetentionWindow, clock, contextualLogger))
}

func registerRecurrences(ctx context.Context, sched *scheduler.Scheduler, cfg config.JobsConfig) error {
	recurrences := []struct {
		kind     string
		schedule string
	}{
		{overduesweep.JobKind, cfg.OverdueSweepSchedule},
		{fineprocessing.JobKind, cfg.FineProcessingSchedule},
		{reconciliation.JobKind, cfg.ReconciliationSchedule},
		{retentionsweep.JobKind, cfg.RetentionSchedule},
	}

	for _, r := range recurrences {
		if _, err := sched.EnqueueRecurring(ctx, r.kind, nil, r.schedule); err != nil {
			return err
		}
	}

	return nil
}

// placeholderResolver synthesizes delivery targets from borrower ids. It
// stands in until an identity directory is integrated; together with the
// LogSender it keeps the notification path exercised in development.
func placeholderResolver() notify.RecipientResolver {
	return notify.ResolverFunc(func(_ context.Context, borrowerID uuid.UUID) (notify.Recipient, error) {
		return notify.Recipient{
			Address: "borrower:" + borrowerID.String(),
			Name:    borrowerID.String(),
		}, nil
	})
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func exit(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err.Error())
	os.Exit(1)
}
