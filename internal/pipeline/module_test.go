package pipeline

import (
	"context"
	"testing"
	"time"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/repository/memrepo"
	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/logger"
	"estate_crm_backend/platform/validator"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type pipelineConfig struct {
	autoSync     bool
	taxonomyPath string
}

func (c pipelineConfig) GetStalledStageAgeDays() int    { return 21 }
func (c pipelineConfig) GetStalledNoActivityDays() int  { return 14 }
func (c pipelineConfig) GetScoringTaxonomyPath() string { return c.taxonomyPath }
func (c pipelineConfig) GetAutoSyncDeals() bool         { return c.autoSync }

func TestAutoSyncMovesLinkedDeals(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	dealID := store.PutDeal(repository.Deal{Stage: "Open", LeadIDs: []bson.ObjectID{leadID}, CreatedAt: time.Now()})
	bus := events.NewInMemoryBus(logger.Discard())

	m, err := NewModule(store, bus, validator.New(), pipelineConfig{autoSync: true}, Infra{}, logger.Discard())
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}

	_, err = m.TransitionService().ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: "Negotiation"}, "user-1")
	if err != nil {
		t.Fatalf("change stage: %v", err)
	}
	bus.Wait()

	deal, _ := store.GetDeal(context.Background(), dealID)
	if deal.Stage != "Negotiation" || deal.StageSyncReason != AutoSyncReason {
		t.Fatalf("expected deal auto-synced, got stage=%q reason=%q", deal.Stage, deal.StageSyncReason)
	}
}

func TestAutoSyncDisabled(t *testing.T) {
	store := memrepo.New()
	leadID := store.PutLead(repository.Lead{CreatedAt: time.Now()})
	dealID := store.PutDeal(repository.Deal{Stage: "Open", LeadIDs: []bson.ObjectID{leadID}, CreatedAt: time.Now()})
	bus := events.NewInMemoryBus(logger.Discard())

	m, err := NewModule(store, bus, validator.New(), pipelineConfig{}, Infra{}, logger.Discard())
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	if _, err := m.TransitionService().ChangeLeadStage(context.Background(), leadID, transport.ChangeLeadStageRequest{Stage: "Booked"}, ""); err != nil {
		t.Fatalf("change stage: %v", err)
	}
	bus.Wait()

	if deal, _ := store.GetDeal(context.Background(), dealID); deal.Stage != "Open" {
		t.Fatalf("expected deal untouched, got %q", deal.Stage)
	}
}

func TestAutoSyncIgnoresOtherEvents(t *testing.T) {
	a := NewAutoSync(nil, logger.Discard())
	if err := a.Handle(context.Background(), events.DealStageSynced{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := a.Handle(context.Background(), events.LeadStageChanged{LeadID: "nope"}); err != nil {
		t.Fatalf("expected nil for bad id, got %v", err)
	}
}

func TestNewModuleRejectsBadTaxonomyPath(t *testing.T) {
	_, err := NewModule(memrepo.New(), events.NewInMemoryBus(nil), validator.New(), pipelineConfig{taxonomyPath: "/does/not/exist.yaml"}, Infra{}, logger.Discard())
	if err == nil {
		t.Fatal("expected taxonomy load error")
	}
}
