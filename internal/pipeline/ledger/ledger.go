// Package ledger records stage transitions in an entity's history.
package ledger

import (
	"context"
	"errors"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// maxAttempts bounds re-reads after losing a concurrent write.
const maxAttempts = 3

// Entry describes one transition to record.
type Entry struct {
	// StageLabel is written to the history entry.
	StageLabel string
	// Stage is persisted on the entity itself.
	Stage   domain.StageRef
	Context domain.TransitionContext
	// TouchLastActivity refreshes lastActivityAt to the transition time.
	TouchLastActivity bool
	StageSyncReason   *string
}

// Prepare builds the transition from the entity's current snapshot. It runs
// again on every attempt, so decisions must be taken from snap only.
// Returning ok=false records nothing.
type Prepare func(snap domain.HistorySnapshot) (e Entry, ok bool, err error)

// Result is the committed history. Written is false when Prepare declined.
type Result struct {
	History   []domain.StageHistoryEntry
	ChangedAt time.Time
	Written   bool
}

// Service writes history entries.
type Service struct {
	store repository.HistoryStore
	log   *logger.Logger
	clock func() time.Time
}

// New creates a ledger over store.
func New(store repository.HistoryStore, log *logger.Logger) *Service {
	return &Service{store: store, log: log, clock: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Write closes the open entry, appends the one prepare returns and updates
// the entity's stage fields in one conditional store write. When another
// writer got there first the snapshot is re-read and prepare runs again.
func (s *Service) Write(ctx context.Context, kind domain.EntityKind, id bson.ObjectID, prepare Prepare) (Result, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		snap, err := s.store.GetHistory(ctx, kind, id)
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, apperr.NotFound(string(kind) + " not found")
		}
		if err != nil {
			return Result{}, apperr.Internal("failed to load stage history", err)
		}

		e, ok, err := prepare(snap)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{History: snap.History}, nil
		}

		// Mongo keeps millisecond precision; match it so reads round-trip.
		now := s.clock().UTC().Truncate(time.Millisecond)
		history := domain.AppendTransition(snap, e.StageLabel, e.Context, now)

		update := repository.TransitionUpdate{
			ExpectedLen:     len(snap.History),
			History:         history,
			Stage:           e.Stage,
			ChangedAt:       now,
			StageSyncReason: e.StageSyncReason,
		}
		if e.TouchLastActivity {
			update.LastActivityAt = &now
		}

		err = s.store.ApplyTransition(ctx, kind, id, update)
		switch {
		case err == nil:
			return Result{History: history, ChangedAt: now, Written: true}, nil
		case errors.Is(err, repository.ErrConflict):
			s.log.Warn("stage history write conflicted", "entity", kind, "id", id.Hex(), "attempt", attempt)
			continue
		case errors.Is(err, repository.ErrNotFound):
			return Result{}, apperr.NotFound(string(kind) + " not found")
		default:
			return Result{}, apperr.Internal("failed to write stage history", err)
		}
	}

	return Result{}, apperr.Conflict("stage history changed concurrently, retry the request")
}
