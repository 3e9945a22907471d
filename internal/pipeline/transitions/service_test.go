package transitions

import (
	"context"
	"sync"
	"testing"
	"time"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/labels"
	"estate_crm_backend/internal/pipeline/ledger"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/repository/memrepo"
	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, e := range b.published {
		out = append(out, e.EventName())
	}
	return out
}

func newTestService(store *memrepo.Store) (*Service, *recordingBus) {
	return newTestServiceAt(store, time.Now)
}

func newTestServiceAt(store *memrepo.Store, clock func() time.Time) (*Service, *recordingBus) {
	vocab := domain.DefaultVocabulary()
	bus := &recordingBus{}
	log := logger.Discard()
	svc := New(store, labels.New(store, vocab), ledger.New(store, log).WithClock(clock), bus, vocab, log)
	return svc, bus
}

func TestChangeLeadStageFromImplicitNew(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{Name: "Ada", CreatedAt: time.Now().Add(-48 * time.Hour)})
	svc, bus := newTestService(store)

	resp, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{
		Stage:       "Qualified",
		TriggeredBy: domain.TriggeredByActivity,
		Outcome:     "interested",
	}, "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.PreviousStage != "New" || resp.Stage != "Qualified" || resp.StageHistoryCount != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if time.Since(resp.StageChangedAt) > time.Minute {
		t.Fatalf("expected stageChangedAt near now, got %s", resp.StageChangedAt)
	}

	lead, _ := store.GetLead(context.Background(), leadID)
	if len(lead.StageHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(lead.StageHistory))
	}
	entry := lead.StageHistory[0]
	if entry.Stage != "Qualified" || entry.ExitedAt != nil || entry.TriggeredBy != domain.TriggeredByActivity || entry.FromStage != "New" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !lead.Stage.IsIndirect() {
		t.Fatalf("expected lead stage stored as lookup reference, got %s", lead.Stage)
	}
	if lead.LastActivityAt == nil {
		t.Fatal("expected lastActivityAt refreshed when outcome is supplied")
	}
	if got := bus.names(); len(got) != 1 || got[0] != "pipeline.lead.stage_changed" {
		t.Fatalf("expected stage changed event, got %v", got)
	}
}

func TestChangeLeadStageKeepsOneOpenEntry(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	svc, _ := newTestService(store)

	stages := []string{"Prospect", "qualified", "Opportunity", "Negotiation"}
	for _, stage := range stages {
		if _, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: stage}, "user-1"); err != nil {
			t.Fatalf("change to %s: %v", stage, err)
		}
	}

	lead, _ := store.GetLead(context.Background(), leadID)
	if len(lead.StageHistory) != len(stages) {
		t.Fatalf("expected %d entries, got %d", len(stages), len(lead.StageHistory))
	}
	for i, e := range lead.StageHistory[:len(stages)-1] {
		if e.ExitedAt == nil || e.DaysInStage == nil || *e.DaysInStage < 0 {
			t.Fatalf("entry %d should be closed, got %+v", i, e)
		}
	}
	last := lead.StageHistory[len(stages)-1]
	if last.ExitedAt != nil || last.Stage != "Negotiation" {
		t.Fatalf("expected open Negotiation entry, got %+v", last)
	}
	if lead.StageHistory[1].Stage != "Qualified" || lead.StageHistory[1].FromStage != "Prospect" {
		t.Fatalf("expected canonical label and fromStage, got %+v", lead.StageHistory[1])
	}
	if lead.LastActivityAt != nil {
		t.Fatal("expected lastActivityAt untouched without an outcome")
	}
	if store.LookupCount() != len(stages) {
		t.Fatalf("expected one lookup per distinct stage, got %d", store.LookupCount())
	}
}

func TestChangeLeadStageActor(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	svc, _ := newTestService(store)

	if _, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: "Prospect"}, "jwt-subject"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: "Qualified", UserID: "body-user"}, "jwt-subject"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lead, _ := store.GetLead(context.Background(), leadID)
	if lead.StageHistory[0].TriggeredByUser != "jwt-subject" || lead.StageHistory[1].TriggeredByUser != "body-user" {
		t.Fatalf("unexpected actors %+v", lead.StageHistory)
	}
}

func TestChangeLeadStageValidation(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	svc, _ := newTestService(store)

	_, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: "   "}, "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.ApplyCalls != 0 || store.LookupCount() != 0 {
		t.Fatal("expected no store mutation on validation failure")
	}

	_, err = svc.ChangeLeadStage(context.Background(), bson.NewObjectID(), transport.ChangeLeadStageRequest{Stage: "Qualified"}, "")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSyncDealStagePullsForward(t *testing.T) {
	store := memrepo.New()
	entered := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	dealID := store.PutDeal(repository.Deal{
		Stage:          "Open",
		StageChangedAt: &entered,
		StageHistory:   []domain.StageHistoryEntry{{Stage: "Open", EnteredAt: entered, TriggeredBy: "manual"}},
	})
	now := entered.Add(3*24*time.Hour + 2*time.Hour)
	svc, bus := newTestServiceAt(store, func() time.Time { return now })

	resp, err := svc.SyncDealStage(context.Background(), dealID, transport.SyncDealStageRequest{LeadStages: []string{"Negotiation"}}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Changed || resp.Stage != "Negotiation" || resp.PreviousStage != "Open" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.StageSyncReason != "Synced from lead stages: Negotiation" {
		t.Fatalf("unexpected reason %q", resp.StageSyncReason)
	}

	deal, _ := store.GetDeal(context.Background(), dealID)
	if len(deal.StageHistory) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(deal.StageHistory))
	}
	if deal.StageHistory[0].Stage != "Open" || deal.StageHistory[0].ExitedAt == nil || *deal.StageHistory[0].DaysInStage != 3 {
		t.Fatalf("expected closed Open entry, got %+v", deal.StageHistory[0])
	}
	if deal.StageHistory[1].Stage != "Negotiation" || deal.StageHistory[1].ExitedAt != nil || deal.StageHistory[1].TriggeredBy != "system" {
		t.Fatalf("expected open Negotiation entry, got %+v", deal.StageHistory[1])
	}
	if deal.StageSyncReason != resp.StageSyncReason {
		t.Fatalf("expected persisted sync reason, got %q", deal.StageSyncReason)
	}
	if got := bus.names(); len(got) != 1 || got[0] != "pipeline.deal.stage_synced" {
		t.Fatalf("expected synced event, got %v", got)
	}
}

func TestSyncDealStageIsIdempotent(t *testing.T) {
	store := memrepo.New()
	dealID := store.PutDeal(repository.Deal{Stage: "Open", CreatedAt: time.Now()})
	svc, _ := newTestService(store)
	req := transport.SyncDealStageRequest{LeadStages: []string{"Qualified", "Negotiation", "Stalled"}}

	first, err := svc.SyncDealStage(context.Background(), dealID, req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Changed || first.Stage != "Negotiation" {
		t.Fatalf("expected Negotiation to win, got %+v", first)
	}
	calls := store.ApplyCalls

	second, err := svc.SyncDealStage(context.Background(), dealID, req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Changed || second.Stage != "Negotiation" {
		t.Fatalf("expected no-op, got %+v", second)
	}
	if store.ApplyCalls != calls {
		t.Fatal("expected no history write on no-op sync")
	}
}

func TestSyncDealStageDefaults(t *testing.T) {
	store := memrepo.New()
	svc, _ := newTestService(store)

	t.Run("blank deal defaults to open", func(t *testing.T) {
		dealID := store.PutDeal(repository.Deal{CreatedAt: time.Now()})
		resp, err := svc.SyncDealStage(context.Background(), dealID, transport.SyncDealStageRequest{}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.Changed || resp.Stage != "Open" || resp.StageSyncReason != "Synced without linked lead stages" {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("override used when no lead stage maps", func(t *testing.T) {
		dealID := store.PutDeal(repository.Deal{Stage: "Open", CreatedAt: time.Now()})
		resp, err := svc.SyncDealStage(context.Background(), dealID, transport.SyncDealStageRequest{
			LeadStages: []string{"Site Survey"},
			Stage:      "quote",
			Reason:     "manual override",
		}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Stage != "Quote" || resp.StageSyncReason != "manual override" {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("missing deal", func(t *testing.T) {
		_, err := svc.SyncDealStage(context.Background(), bson.NewObjectID(), transport.SyncDealStageRequest{}, "")
		if !apperr.Is(err, apperr.KindNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestSyncDealsForLead(t *testing.T) {
	store := memrepo.New()
	booked := store.PutLookup(repository.Lookup{Category: repository.LookupCategoryLeadStage, Label: "Booked"})
	leadA := store.PutLead(repository.Lead{Stage: domain.IndirectStage(booked), CreatedAt: time.Now()})
	leadB := store.PutLead(repository.Lead{Stage: domain.DirectStage("Prospect"), CreatedAt: time.Now()})
	dealID := store.PutDeal(repository.Deal{Stage: "Open", LeadIDs: []bson.ObjectID{leadA, leadB}, CreatedAt: time.Now()})
	store.PutDeal(repository.Deal{Stage: "Open", LeadIDs: []bson.ObjectID{leadB}, CreatedAt: time.Now()})
	svc, _ := newTestService(store)

	results, err := svc.SyncDealsForLead(context.Background(), leadA, "Auto-sync after lead stage change")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].DealID != dealID.Hex() || results[0].Stage != "Booked" {
		t.Fatalf("unexpected results %+v", results)
	}

	deal, _ := store.GetDeal(context.Background(), dealID)
	if deal.StageSyncReason != "Auto-sync after lead stage change" {
		t.Fatalf("unexpected reason %q", deal.StageSyncReason)
	}
}

func TestHistoryReads(t *testing.T) {
	store := memrepo.New()
	changed := time.Now().Add(-time.Hour)
	leadID := store.PutLead(repository.Lead{
		Stage:          domain.IndirectStage(bson.NewObjectID()),
		StageChangedAt: &changed,
		StageHistory:   []domain.StageHistoryEntry{{Stage: "Prospect", EnteredAt: changed, TriggeredBy: "manual"}},
	})
	dealID := store.PutDeal(repository.Deal{Stage: "negotiating"})
	svc, _ := newTestService(store)

	lead, err := svc.LeadHistory(context.Background(), leadID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lead.CurrentStage != "New" || lead.TotalStageChanges != 1 || lead.LeadID != leadID.Hex() {
		t.Fatalf("unexpected lead history %+v", lead)
	}

	deal, err := svc.DealHistory(context.Background(), dealID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deal.CurrentStage != "Negotiation" || deal.TotalStageChanges != 0 || deal.StageHistory == nil {
		t.Fatalf("unexpected deal history %+v", deal)
	}

	if _, err := svc.DealHistory(context.Background(), bson.NewObjectID()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChangeLeadStageSanitizesFreeText(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	svc, _ := newTestService(store)

	resp, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{
		Stage:  "  <b>Qualified</b> ",
		Reason: "Called <i>twice</i>\n  and confirmed budget",
	}, "user-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.Stage != "Qualified" {
		t.Fatalf("expected markup stripped from stage, got %q", resp.Stage)
	}

	lead, _ := store.GetLead(context.Background(), leadID)
	if got := lead.StageHistory[0].Reason; got != "Called twice and confirmed budget" {
		t.Fatalf("unexpected stored reason %q", got)
	}
}

func TestChangeLeadStageRejectsMarkupOnlyStage(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	svc, _ := newTestService(store)

	_, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: "<br/>"}, "user-1")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentSyncsWriteOnce(t *testing.T) {
	store := memrepo.New()
	entered := time.Now().Add(-48 * time.Hour)
	dealID := store.PutDeal(repository.Deal{
		Stage:          "Open",
		StageChangedAt: &entered,
		StageHistory:   []domain.StageHistoryEntry{{Stage: "Open", EnteredAt: entered, TriggeredBy: "manual"}},
	})
	svc, bus := newTestService(store)
	req := transport.SyncDealStageRequest{LeadStages: []string{"Negotiation"}}

	// A second identical sync commits while the first one is writing.
	var inner transport.SyncDealStageResponse
	var innerErr error
	fired := false
	store.BeforeApply = func(domain.EntityKind, bson.ObjectID) {
		if fired {
			return
		}
		fired = true
		inner, innerErr = svc.SyncDealStage(context.Background(), dealID, req, "")
	}

	outer, err := svc.SyncDealStage(context.Background(), dealID, req, "")
	if err != nil || innerErr != nil {
		t.Fatalf("unexpected errors outer=%v inner=%v", err, innerErr)
	}
	if !inner.Changed || inner.PreviousStage != "Open" {
		t.Fatalf("expected the first committed sync to change the deal, got %+v", inner)
	}
	if outer.Changed || outer.PreviousStage != "Negotiation" || outer.Stage != "Negotiation" {
		t.Fatalf("expected the losing sync to become a no-op, got %+v", outer)
	}

	deal, _ := store.GetDeal(context.Background(), dealID)
	if len(deal.StageHistory) != 2 || domain.OpenEntryCount(deal.StageHistory) != 1 {
		t.Fatalf("expected Open closed plus one open Negotiation entry, got %+v", deal.StageHistory)
	}
	if last := deal.StageHistory[1]; last.Stage != "Negotiation" || last.FromStage != "Open" {
		t.Fatalf("unexpected last entry %+v", last)
	}
	if got := bus.names(); len(got) != 1 {
		t.Fatalf("expected a single synced event, got %v", got)
	}
}

func TestConcurrentLeadChangeRecordsFreshFromStage(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now().Add(-time.Hour)})
	svc, _ := newTestService(store)

	fired := false
	store.BeforeApply = func(domain.EntityKind, bson.ObjectID) {
		if fired {
			return
		}
		fired = true
		if _, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: "Prospect"}, "user-2"); err != nil {
			t.Errorf("competing change: %v", err)
		}
	}

	resp, err := svc.ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: "Qualified"}, "user-1")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if resp.PreviousStage != "Prospect" || resp.StageHistoryCount != 2 {
		t.Fatalf("expected previous stage from the committed change, got %+v", resp)
	}

	lead, _ := store.GetLead(context.Background(), leadID)
	if got := lead.StageHistory[1]; got.Stage != "Qualified" || got.FromStage != "Prospect" {
		t.Fatalf("expected Qualified entry from Prospect, got %+v", got)
	}
	if domain.OpenEntryCount(lead.StageHistory) != 1 {
		t.Fatalf("expected one open entry, got %+v", lead.StageHistory)
	}
}
