package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/pipeline"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/scheduler"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/db"
	"estate_crm_backend/platform/lock"
	"estate_crm_backend/platform/logger"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		client   *mongo.Client
		database *mongo.Database
	)
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		c, d, err := db.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		client, database = c, d
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	redisClient, err := lock.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis lock client", "error", err)
		panic("failed to initialize redis lock client: " + err.Error())
	}
	defer func() { _ = redisClient.Close() }()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	recalc := pipeline.NewRecalculator(
		repository.New(database),
		eventBus,
		lock.New(redisClient, cfg.GetBulkRecalcLockTTL()),
		log,
	)

	if periodic := scheduler.NewPeriodicRecalc(recalc, log, cfg.GetLastActivityRecalcInterval()); periodic != nil {
		log.Info("periodic last activity recalc enabled", "interval", cfg.GetLastActivityRecalcInterval())
		go periodic.Run(ctx)
	}

	worker, err := scheduler.NewWorker(cfg, recalc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}
	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
