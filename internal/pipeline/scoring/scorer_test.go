package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/labels"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/repository/memrepo"
	"estate_crm_backend/platform/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func newStoreScorer(store *memrepo.Store) *Scorer {
	vocab := domain.DefaultVocabulary()
	return New(store, labels.New(store, vocab), vocab, DefaultTaxonomy()).WithClock(func() time.Time { return now })
}

func TestLeadScoresResolveStoredStages(t *testing.T) {
	store := memrepo.New()
	negotiation := store.PutLookup(repository.Lookup{Category: repository.LookupCategoryLeadStage, Label: "Negotiation"})
	hot := store.PutLead(repository.Lead{Stage: domain.IndirectStage(negotiation), LastActivityAt: ago(1)})
	cold := store.PutLead(repository.Lead{})

	a := completed("meeting", "agreed_terms", 1)
	a.Purpose = "negotiation"
	a.EntityType = domain.EntityLead
	a.EntityID = hot
	store.PutActivity(a)

	resp, err := newStoreScorer(store).LeadScores(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(resp.Scores))
	}
	// 55 + 25 + 10
	if got := resp.Scores[hot.Hex()]; got.Score != 90 || got.Label != "Super Hot" {
		t.Fatalf("unexpected hot lead score %+v", got)
	}
	if got := resp.Scores[cold.Hex()]; got.Score != 10 || got.Label != "Cold" {
		t.Fatalf("unexpected cold lead score %+v", got)
	}
}

func TestDealScoresAndHealth(t *testing.T) {
	store := memrepo.New()
	dealID := store.PutDeal(repository.Deal{Stage: "Quote", LastActivityAt: ago(2), Probability: 60})
	a := completed("call", "interested", 2)
	a.EntityType = domain.EntityDeal
	a.EntityID = dealID
	store.PutActivity(a)
	s := newStoreScorer(store)

	scores, err := s.DealScores(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 35 + 15 + 0 + 6
	if got := scores.Scores[dealID.Hex()]; got.Score != 56 || got.Label != "Active" {
		t.Fatalf("unexpected deal score %+v", got)
	}

	health, err := s.DealHealth(context.Background(), dealID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 40*0.5 + (10+1)*1.5
	if health.DealID != dealID.Hex() || health.Health.Score != 37 || health.Health.Label != "Watch" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestDealHealthErrors(t *testing.T) {
	store := memrepo.New()
	s := newStoreScorer(store)

	if _, err := s.DealHealth(context.Background(), bson.NewObjectID()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	store.Err = errors.New("socket closed")
	if _, err := s.LeadScores(context.Background()); !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
