package density

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
)

var now = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newAnalyzer(store *memrepo.Store) *Analyzer {
	vocab := domain.DefaultVocabulary()
	return New(store, labels.New(store, vocab), vocab).WithClock(func() time.Time { return now })
}

func TestBottleneckNeedsMoreThanTwoLeads(t *testing.T) {
	a := newAnalyzer(memrepo.New())

	resp := a.Report([]Group{{Stage: "Qualified", Count: 3, AvgAgeDays: 15}})
	if !resp.Density[0].IsBottleneck {
		t.Fatalf("expected bottleneck for 15 days and 3 leads, got %+v", resp.Density[0])
	}

	resp = a.Report([]Group{{Stage: "Qualified", Count: 2, AvgAgeDays: 15}})
	if resp.Density[0].IsBottleneck {
		t.Fatalf("expected no bottleneck for 2 leads, got %+v", resp.Density[0])
	}

	resp = a.Report([]Group{{Stage: "Qualified", Count: 9, AvgAgeDays: 14}})
	if resp.Density[0].IsBottleneck {
		t.Fatalf("expected no bottleneck at exactly 14 days, got %+v", resp.Density[0])
	}
}

func TestReportOrderingAndConversion(t *testing.T) {
	a := newAnalyzer(memrepo.New())
	resp := a.Report([]Group{
		{Stage: "Site Survey", Count: 1, AvgAgeDays: 2},
		{Stage: "Booked", Count: 1, AvgAgeDays: 1},
		{Stage: "Archived", Count: 4, AvgAgeDays: 40},
		{Stage: "Prospect", Count: 3, AvgAgeDays: 4.26},
		{Stage: "New", Count: 6, AvgAgeDays: 1},
	})

	want := []string{"New", "Prospect", "Booked", "Archived", "Site Survey"}
	if len(resp.Density) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(resp.Density))
	}
	for i, stage := range want {
		if resp.Density[i].Stage != stage {
			t.Fatalf("position %d: expected %s, got %s", i, stage, resp.Density[i].Stage)
		}
	}

	if resp.TotalLeads != 15 || resp.OverallConversionRate != 16.7 {
		t.Fatalf("unexpected totals %+v", resp)
	}
	newEntry := resp.Density[0]
	if newEntry.ConversionRate == nil || *newEntry.ConversionRate != 50 || newEntry.Percentage != 40 {
		t.Fatalf("unexpected New entry %+v", newEntry)
	}
	prospect := resp.Density[1]
	if prospect.ConversionRate == nil || *prospect.ConversionRate != 0 || prospect.AvgDaysInStage != 4.3 {
		t.Fatalf("unexpected Prospect entry %+v", prospect)
	}
	if resp.Density[2].ConversionRate != nil {
		t.Fatal("expected no conversion rate for the last funnel stage")
	}
	if resp.Density[3].ConversionRate != nil || !resp.Density[3].IsBottleneck {
		t.Fatalf("expected non-funnel bottleneck without conversion, got %+v", resp.Density[3])
	}
}

func TestOverallConversionWithoutNewLeads(t *testing.T) {
	resp := newAnalyzer(memrepo.New()).Report([]Group{{Stage: "Booked", Count: 2}})
	if resp.OverallConversionRate != 0 {
		t.Fatalf("expected 0 without New leads, got %v", resp.OverallConversionRate)
	}
}

func TestDensityMergesStoredRepresentations(t *testing.T) {
	store := memrepo.New()
	qualified := store.PutLookup(repository.Lookup{Category: repository.LookupCategoryLeadStage, Label: "Qualified"})
	changed := now.AddDate(0, 0, -20)
	for i := 0; i < 2; i++ {
		store.PutLead(repository.Lead{Stage: domain.IndirectStage(qualified), StageChangedAt: &changed})
	}
	store.PutLead(repository.Lead{Stage: domain.DirectStage("qualified"), StageChangedAt: &changed})
	store.PutLead(repository.Lead{CreatedAt: now.AddDate(0, 0, -1)})

	resp, err := newAnalyzer(store).Density(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TotalLeads != 4 || len(resp.Density) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	q := resp.Density[1]
	if q.Stage != "Qualified" || q.Count != 3 || q.AvgDaysInStage != 20 || !q.IsBottleneck {
		t.Fatalf("expected merged Qualified bottleneck, got %+v", q)
	}
	if resp.Density[0].Stage != "New" || resp.Density[0].Count != 1 {
		t.Fatalf("expected implicit New group first, got %+v", resp.Density[0])
	}
}

func TestDensityStoreFailure(t *testing.T) {
	store := memrepo.New()
	store.Err = errors.New("aggregate failed")
	if _, err := newAnalyzer(store).Density(context.Background()); !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
