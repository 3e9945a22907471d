package scheduler

import (
	"context"
	"fmt"

	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Recalculator runs the bulk last-activity job.
type Recalculator interface {
	Run(ctx context.Context, dryRun bool) (transport.BulkRecalcResponse, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	recalc Recalculator
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, recalc Recalculator, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		recalc: recalc,
		log:    log,
	}

	mux.HandleFunc(TaskLastActivityRecalc, w.handleLastActivityRecalc)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleLastActivityRecalc(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLastActivityRecalcPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	res, err := w.recalc.Run(ctx, payload.DryRun)
	if apperr.Is(err, apperr.KindConflict) {
		// Another run holds the lock; its result covers this request.
		w.log.Info("last activity recalc skipped, run already in progress")
		return nil
	}
	if err != nil {
		return err
	}

	w.log.Info("last activity recalc finished",
		"processed", res.Processed,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
		"dryRun", res.DryRun,
		"interrupted", res.Interrupted,
	)
	return nil
}
