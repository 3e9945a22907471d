package stalled

import (
	"context"
	"errors"
	"testing"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/repository/memrepo"
	"estate_crm_backend/platform/apperr"
)

var now = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.AddDate(0, 0, -n)
	return &t
}

func newDetector(store *memrepo.Store) *Detector {
	return New(store, domain.DefaultVocabulary(), Thresholds{StageAgeDays: 21, NoActivityDays: 14}).
		WithClock(func() time.Time { return now })
}

func TestNegotiationPastThresholdIsWarning(t *testing.T) {
	store := memrepo.New()
	store.PutDeal(repository.Deal{
		Title:          "Harbour View 4B",
		Stage:          "Negotiation",
		StageChangedAt: daysAgo(25),
		LastActivityAt: daysAgo(2),
		CreatedAt:      now.AddDate(0, -2, 0),
	})

	resp, err := newDetector(store).Detect(context.Background(), Thresholds{StageAgeDays: 21})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 stalled deal, got %d", resp.Count)
	}
	got := resp.StalledDeals[0]
	if got.Severity != SeverityWarning || got.DaysSinceStageChange != 25 {
		t.Fatalf("expected warning at 25 days, got %+v", got)
	}
	if len(got.Reasons) != 1 || got.Reasons[0] != ReasonStageAge {
		t.Fatalf("expected stage_age only, got %v", got.Reasons)
	}
	if got.SuggestedAction == "" {
		t.Fatal("expected a suggested action")
	}
	if resp.Thresholds.DaysSinceStageChange != 21 || resp.Thresholds.DaysNoActivity != 14 {
		t.Fatalf("expected defaults filled in, got %+v", resp.Thresholds)
	}
}

func TestDealMatchingBothCriteriaListedOnce(t *testing.T) {
	store := memrepo.New()
	store.PutDeal(repository.Deal{
		Stage:          "Negotiation",
		StageChangedAt: daysAgo(35),
		CreatedAt:      now.AddDate(0, -3, 0),
	})

	resp, err := newDetector(store).Detect(context.Background(), Thresholds{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected deduplicated result, got %d", resp.Count)
	}
	got := resp.StalledDeals[0]
	if len(got.Reasons) != 2 || got.Severity != SeverityCritical {
		t.Fatalf("expected both reasons and critical, got %+v", got)
	}
	if got.DaysSinceActivity < 90 {
		t.Fatalf("expected never-active deal to count from creation, got %d", got.DaysSinceActivity)
	}
}

func TestInactivityCriterion(t *testing.T) {
	store := memrepo.New()
	store.PutDeal(repository.Deal{Stage: "Open", LastActivityAt: daysAgo(15), StageChangedAt: daysAgo(15)})
	store.PutDeal(repository.Deal{Stage: "Open", LastActivityAt: daysAgo(22), StageChangedAt: daysAgo(22)})
	store.PutDeal(repository.Deal{Stage: "Open", LastActivityAt: daysAgo(3)})
	store.PutDeal(repository.Deal{Stage: "Booked", LastActivityAt: daysAgo(60)})
	store.PutDeal(repository.Deal{Stage: "Cancelled"})
	store.PutDeal(repository.Deal{Stage: "Negotiation", StageChangedAt: daysAgo(40), LastActivityAt: daysAgo(1), IsClosed: true})

	resp, err := newDetector(store).Detect(context.Background(), Thresholds{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 inactive open deals, got %+v", resp.StalledDeals)
	}
	severities := map[string]int{}
	for _, d := range resp.StalledDeals {
		severities[d.Severity]++
		if d.Reasons[0] != ReasonNoActivity {
			t.Fatalf("expected no_activity, got %v", d.Reasons)
		}
	}
	if severities[SeverityWarning] != 1 || severities[SeverityCritical] != 1 {
		t.Fatalf("expected one warning and one critical, got %v", severities)
	}
}

func TestDetectStoreFailure(t *testing.T) {
	store := memrepo.New()
	store.Err = errors.New("connection reset")

	_, err := newDetector(store).Detect(context.Background(), Thresholds{})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
