package scheduler

import (
	"context"
	"time"

	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/logger"
)

// PeriodicRecalc runs the last-activity recalculation on a fixed interval
// inside the worker process.
type PeriodicRecalc struct {
	recalc   Recalculator
	log      *logger.Logger
	interval time.Duration
}

// NewPeriodicRecalc returns nil when interval is not positive.
func NewPeriodicRecalc(recalc Recalculator, log *logger.Logger, interval time.Duration) *PeriodicRecalc {
	if interval <= 0 || recalc == nil {
		return nil
	}
	return &PeriodicRecalc{recalc: recalc, log: log, interval: interval}
}

func (p *PeriodicRecalc) Run(ctx context.Context) {
	if p == nil {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *PeriodicRecalc) runOnce(ctx context.Context) {
	res, err := p.recalc.Run(ctx, false)
	if apperr.Is(err, apperr.KindConflict) {
		p.log.Debug("periodic last activity recalc skipped, run already in progress")
		return
	}
	if err != nil {
		p.log.Warn("periodic last activity recalc failed", "error", err)
		return
	}
	if res.Updated > 0 || len(res.Errors) > 0 {
		p.log.Info("periodic last activity recalc finished",
			"processed", res.Processed,
			"updated", res.Updated,
			"errors", len(res.Errors),
		)
	}
}
