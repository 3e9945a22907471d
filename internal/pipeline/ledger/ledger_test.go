package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/repository/memrepo"
	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// always records e regardless of the snapshot.
func always(e Entry) Prepare {
	return func(domain.HistorySnapshot) (Entry, bool, error) { return e, true, nil }
}

// competingWrite commits a transition behind the ledger's back.
func competingWrite(t *testing.T, store *memrepo.Store, kind domain.EntityKind, id bson.ObjectID, stage string) {
	t.Helper()
	hook := store.BeforeApply
	store.BeforeApply = nil
	defer func() { store.BeforeApply = hook }()

	snap, err := store.GetHistory(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("competing read: %v", err)
	}
	now := time.Now().UTC()
	err = store.ApplyTransition(context.Background(), kind, id, repository.TransitionUpdate{
		ExpectedLen: len(snap.History),
		History:     domain.AppendTransition(snap, stage, domain.TransitionContext{}, now),
		Stage:       domain.DirectStage(stage),
		ChangedAt:   now,
	})
	if err != nil {
		t.Fatalf("competing write: %v", err)
	}
}

func TestWriteAppendsAndClosesPreviousEntry(t *testing.T) {
	store := memrepo.New()
	entered := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	dealID := store.PutDeal(repository.Deal{
		Stage:          domain.StageOpen,
		StageChangedAt: &entered,
		StageHistory:   []domain.StageHistoryEntry{{Stage: domain.StageOpen, EnteredAt: entered, TriggeredBy: domain.TriggeredByManual}},
	})
	now := entered.Add(5*24*time.Hour + time.Hour)
	svc := New(store, logger.Discard()).WithClock(fixedClock(now))

	reason := "Synced from lead stages: Negotiation"
	res, err := svc.Write(context.Background(), domain.EntityDeal, dealID, always(Entry{
		StageLabel:      domain.StageNegotiation,
		Stage:           domain.DirectStage(domain.StageNegotiation),
		Context:         domain.TransitionContext{TriggeredBy: domain.TriggeredBySystem, Reason: reason},
		StageSyncReason: &reason,
	}))
	if err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	if !res.Written {
		t.Fatalf("expected result to report a write")
	}
	if len(res.History) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.History))
	}
	closed := res.History[0]
	if closed.ExitedAt == nil || !closed.ExitedAt.Equal(now) || *closed.DaysInStage != 5 {
		t.Fatalf("expected closed Open entry with 5 days, got %+v", closed)
	}

	deal, _ := store.GetDeal(context.Background(), dealID)
	if deal.Stage != domain.StageNegotiation || deal.StageSyncReason != reason {
		t.Fatalf("expected deal stage and sync reason persisted, got %+v", deal)
	}
	if deal.StageChangedAt == nil || !deal.StageChangedAt.Equal(now) {
		t.Fatalf("expected stageChangedAt=%s, got %v", now, deal.StageChangedAt)
	}
}

func TestWriteMissingEntityIsNotFound(t *testing.T) {
	svc := New(memrepo.New(), logger.Discard())
	_, err := svc.Write(context.Background(), domain.EntityLead, bson.NewObjectID(), always(Entry{StageLabel: "Qualified"}))
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWriteRetriesAfterConcurrentWriter(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now().Add(-time.Hour)})
	svc := New(store, logger.Discard())

	// Another writer commits between our read and our write, once.
	raced := false
	store.BeforeApply = func(kind domain.EntityKind, id bson.ObjectID) {
		if raced {
			return
		}
		raced = true
		competingWrite(t, store, kind, id, domain.StageProspect)
	}

	res, err := svc.Write(context.Background(), domain.EntityLead, leadID, always(Entry{
		StageLabel: domain.StageQualified,
		Stage:      domain.DirectStage(domain.StageQualified),
	}))
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(res.History) != 2 || domain.OpenEntryCount(res.History) != 1 {
		t.Fatalf("expected racing writes to chain into 2 entries with 1 open, got %+v", res.History)
	}
	if res.History[0].Stage != domain.StageProspect || res.History[1].Stage != domain.StageQualified {
		t.Fatalf("unexpected order %+v", res.History)
	}
}

func TestWriteGivesUpWithConflict(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	svc := New(store, logger.Discard())

	store.BeforeApply = func(kind domain.EntityKind, id bson.ObjectID) {
		competingWrite(t, store, kind, id, "Churn")
	}

	_, err := svc.Write(context.Background(), domain.EntityLead, leadID, always(Entry{StageLabel: "Qualified"}))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict after %d attempts, got %v", maxAttempts, err)
	}
}

func TestWriteWrapsStoreFailure(t *testing.T) {
	store := memrepo.New()
	store.Err = errors.New("server selection timeout")
	svc := New(store, logger.Discard())

	_, err := svc.Write(context.Background(), domain.EntityLead, bson.NewObjectID(), always(Entry{}))
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestWritePreparesFromFreshSnapshotAfterConflict(t *testing.T) {
	store := memrepo.New()
	dealID := store.PutDeal(repository.Deal{Stage: domain.StageOpen, CreatedAt: time.Now()})
	svc := New(store, logger.Discard())

	raced := false
	store.BeforeApply = func(kind domain.EntityKind, id bson.ObjectID) {
		if raced {
			return
		}
		raced = true
		competingWrite(t, store, kind, id, domain.StageNegotiation)
	}

	var seen []string
	res, err := svc.Write(context.Background(), domain.EntityDeal, dealID, func(snap domain.HistorySnapshot) (Entry, bool, error) {
		seen = append(seen, snap.Stage.Label())
		if snap.Stage.Label() == domain.StageNegotiation {
			return Entry{}, false, nil
		}
		return Entry{
			StageLabel: domain.StageNegotiation,
			Stage:      domain.DirectStage(domain.StageNegotiation),
			Context:    domain.TransitionContext{FromStage: snap.Stage.Label()},
		}, true, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if res.Written {
		t.Fatalf("expected no write once the competing writer reached the target")
	}
	if len(seen) != 2 || seen[0] != domain.StageOpen || seen[1] != domain.StageNegotiation {
		t.Fatalf("expected prepare to see Open then Negotiation, got %v", seen)
	}

	deal, _ := store.GetDeal(context.Background(), dealID)
	if len(deal.StageHistory) != 1 {
		t.Fatalf("expected only the competing entry, got %+v", deal.StageHistory)
	}
}

func TestWritePrepareErrorAbortsWithoutWriting(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	svc := New(store, logger.Discard())

	_, err := svc.Write(context.Background(), domain.EntityLead, leadID, func(domain.HistorySnapshot) (Entry, bool, error) {
		return Entry{}, false, apperr.Internal("failed to load stage lookup", errors.New("boom"))
	})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected prepare error returned, got %v", err)
	}
	if store.ApplyCalls != 0 {
		t.Fatalf("expected no write, got %d calls", store.ApplyCalls)
	}
}
