package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/pipeline"
	"estate_crm_backend/internal/pipeline/maintenance"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/db"
	"estate_crm_backend/platform/lock"
	"estate_crm_backend/platform/logger"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting last activity backfill", "dryRun", *dryRun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, database, err := db.Connect(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	var locker maintenance.Locker
	if cfg.GetRedisURL() != "" {
		redisClient, err := lock.NewRedisClient(cfg)
		if err != nil {
			log.Error("failed to initialize redis lock client", "error", err)
			panic("failed to initialize redis lock client: " + err.Error())
		}
		defer func() { _ = redisClient.Close() }()
		locker = lock.New(redisClient, cfg.GetBulkRecalcLockTTL())
	} else {
		log.Warn("REDIS_URL not configured; running without the recalculation lock")
	}

	eventBus := events.NewInMemoryBus(log)
	recalc := pipeline.NewRecalculator(repository.New(database), eventBus, locker, log)

	res, err := recalc.Run(ctx, *dryRun)
	eventBus.Wait()
	if err != nil {
		log.Error("last activity backfill failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)

	log.Info("last activity backfill complete",
		"processed", res.Processed,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
		"interrupted", res.Interrupted,
	)
	if res.Interrupted {
		os.Exit(2)
	}
}
