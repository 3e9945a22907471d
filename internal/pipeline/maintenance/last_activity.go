// Package maintenance holds bulk jobs over pipeline records.
package maintenance

import (
	"context"
	"errors"
	"time"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/lock"
	"estate_crm_backend/platform/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// LastActivityLockName guards against overlapping recalculation runs.
const LastActivityLockName = "pipeline:last-activity-recalc"

// Repository is what the recalculation job reads and writes.
type Repository interface {
	repository.LeadMaintenance
	repository.ActivityReader
}

// Locker takes a named cross-process lock.
type Locker interface {
	Acquire(ctx context.Context, name string) (*lock.Lease, error)
}

// LastActivityRecalculator refreshes lead lastActivityAt from the activity log.
type LastActivityRecalculator struct {
	repo     Repository
	locker   Locker
	eventBus events.Bus
	log      *logger.Logger
	now      func() time.Time
}

func NewLastActivityRecalculator(repo Repository, eventBus events.Bus, log *logger.Logger) *LastActivityRecalculator {
	return &LastActivityRecalculator{repo: repo, eventBus: eventBus, log: log, now: time.Now}
}

// WithClock overrides the clock used to pace lease renewal.
func (r *LastActivityRecalculator) WithClock(now func() time.Time) *LastActivityRecalculator {
	r.now = now
	return r
}

// WithLocker makes runs mutually exclusive. Without one, runs may overlap.
func (r *LastActivityRecalculator) WithLocker(locker Locker) *LastActivityRecalculator {
	r.locker = locker
	return r
}

// Run walks every lead and sets lastActivityAt to its newest activity's
// creation time. Stage history is never touched. A failing lead is recorded
// and the run moves on; a cancelled ctx ends the run early with the
// partial result marked interrupted. While a lock is held its lease is
// renewed between leads once a third of its TTL has passed; losing the lease
// stops the run the same way cancellation does.
func (r *LastActivityRecalculator) Run(ctx context.Context, dryRun bool) (transport.BulkRecalcResponse, error) {
	var lease *lock.Lease
	if r.locker != nil {
		var err error
		lease, err = r.locker.Acquire(ctx, LastActivityLockName)
		if errors.Is(err, lock.ErrHeld) {
			return transport.BulkRecalcResponse{}, apperr.Conflict("last activity recalculation is already running")
		}
		if err != nil {
			return transport.BulkRecalcResponse{}, apperr.Internal("failed to acquire recalculation lock", err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("failed to release recalculation lock", "error", err)
			}
		}()
	}

	res := transport.BulkRecalcResponse{DryRun: dryRun, Errors: []transport.BulkRecalcError{}}
	renewed := r.now()

	err := r.repo.ForEachLeadID(ctx, func(id bson.ObjectID) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lease != nil && r.now().Sub(renewed) >= lease.TTL()/3 {
			if err := lease.Extend(ctx); err != nil {
				return err
			}
			renewed = r.now()
		}
		res.Processed++

		latest, err := r.repo.LatestActivity(ctx, domain.EntityLead, id)
		if err != nil {
			return r.recordFailure(ctx, &res, id, err)
		}
		if latest == nil {
			res.Skipped++
			return nil
		}
		if !dryRun {
			if err := r.repo.SetLeadLastActivity(ctx, id, latest.CreatedAt); err != nil {
				return r.recordFailure(ctx, &res, id, err)
			}
		}
		res.Updated++
		return nil
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		res.Interrupted = true
	case errors.Is(err, lock.ErrLost):
		r.log.Warn("recalculation lock lease lost, stopping early", "processed", res.Processed)
		res.Interrupted = true
	default:
		return res, apperr.Internal("failed to iterate leads", err)
	}

	r.log.Info("last activity recalculation finished",
		"processed", res.Processed, "updated", res.Updated, "skipped", res.Skipped,
		"failed", len(res.Errors), "dryRun", dryRun, "interrupted", res.Interrupted)
	r.eventBus.Publish(context.WithoutCancel(ctx), events.LastActivityRecalculated{
		BaseEvent:   events.NewBaseEvent(),
		Processed:   res.Processed,
		Updated:     res.Updated,
		Skipped:     res.Skipped,
		Failed:      len(res.Errors),
		DryRun:      dryRun,
		Interrupted: res.Interrupted,
	})
	return res, nil
}

// recordFailure keeps a per-lead error, unless the failure is the run
// itself being cancelled.
func (r *LastActivityRecalculator) recordFailure(ctx context.Context, res *transport.BulkRecalcResponse, id bson.ObjectID, err error) error {
	if ctx.Err() != nil {
		res.Processed--
		return ctx.Err()
	}
	res.Errors = append(res.Errors, transport.BulkRecalcError{LeadID: id.Hex(), Error: err.Error()})
	return nil
}
