package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate_crm_backend/internal/events"
	apphttp "estate_crm_backend/internal/http"
	"estate_crm_backend/internal/http/router"
	"estate_crm_backend/internal/pipeline"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/scheduler"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/db"
	"estate_crm_backend/platform/lock"
	"estate_crm_backend/platform/logger"
	"estate_crm_backend/platform/validator"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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
	log.Info("database connection established", "database", cfg.GetMongoDatabase())

	repo := repository.New(database)
	if err := repo.EnsureIndexes(ctx); err != nil {
		log.Error("failed to ensure indexes", "error", err)
		panic("failed to ensure indexes: " + err.Error())
	}

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	infra, closeInfra := initPipelineInfra(cfg, log)
	defer closeInfra()

	// ========================================================================
	// Domain Modules
	// ========================================================================

	pipelineModule, err := pipeline.NewModule(repo, eventBus, val, cfg, infra, log)
	if err != nil {
		log.Error("failed to initialize pipeline module", "error", err)
		panic("failed to initialize pipeline module: " + err.Error())
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPingAdapter(client),
		Modules: []apphttp.Module{
			pipelineModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initPipelineInfra wires the redis-backed run lock and job queue. Both stay
// disabled when REDIS_URL is empty.
func initPipelineInfra(cfg *config.Config, log *logger.Logger) (pipeline.Infra, func()) {
	var infra pipeline.Infra
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; bulk recalculation runs without a lock and async mode is disabled")
		return infra, func() {}
	}

	closers := make([]func(), 0, 2)

	redisClient, err := lock.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis lock client", "error", err)
	} else {
		infra.Locker = lock.New(redisClient, cfg.GetBulkRecalcLockTTL())
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	queueClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
	} else {
		infra.Enqueuer = queueClient
		closers = append(closers, func() { _ = queueClient.Close() })
	}

	return infra, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
