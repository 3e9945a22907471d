// Package density reports how leads are spread across pipeline stages.
package density

import (
	"context"
	"math"
	"sort"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/labels"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/apperr"
)

const (
	bottleneckAvgDays  = 14
	bottleneckMinCount = 2
)

// Analyzer aggregates lead stage density.
type Analyzer struct {
	repo     repository.LeadReader
	resolver *labels.Resolver
	vocab    *domain.Vocabulary
	clock    func() time.Time
}

// New creates a density analyzer.
func New(repo repository.LeadReader, resolver *labels.Resolver, vocab *domain.Vocabulary) *Analyzer {
	return &Analyzer{repo: repo, resolver: resolver, vocab: vocab, clock: time.Now}
}

// WithClock replaces the time source.
func (a *Analyzer) WithClock(clock func() time.Time) *Analyzer {
	a.clock = clock
	return a
}

// Group is the merged count and average age for one stage label.
type Group struct {
	Stage      string
	Count      int
	AvgAgeDays float64
}

// Density groups leads by resolved stage and derives funnel conversion.
func (a *Analyzer) Density(ctx context.Context) (transport.DensityResponse, error) {
	raw, err := a.repo.LeadStageGroups(ctx, a.clock().UTC())
	if err != nil {
		return transport.DensityResponse{}, apperr.Internal("failed to aggregate lead stages", err)
	}

	refs := make([]domain.StageRef, 0, len(raw))
	for _, g := range raw {
		refs = append(refs, g.Stage)
	}
	resolved, err := a.resolver.ResolveMany(ctx, refs)
	if err != nil {
		return transport.DensityResponse{}, err
	}

	// Different stored refs can resolve to the same label; merge them.
	merged := map[string]*Group{}
	var order []string
	for _, g := range raw {
		label := a.vocab.Canonical(resolved[g.Stage.String()])
		m, ok := merged[label]
		if !ok {
			m = &Group{Stage: label}
			merged[label] = m
			order = append(order, label)
		}
		total := m.AvgAgeDays*float64(m.Count) + g.AvgAgeDays*float64(g.Count)
		m.Count += g.Count
		if m.Count > 0 {
			m.AvgAgeDays = total / float64(m.Count)
		}
	}

	groups := make([]Group, 0, len(order))
	for _, label := range order {
		groups = append(groups, *merged[label])
	}
	return a.Report(groups), nil
}

// Report builds the density response from merged groups.
func (a *Analyzer) Report(groups []Group) transport.DensityResponse {
	counts := make(map[string]int, len(groups))
	total := 0
	for _, g := range groups {
		counts[g.Stage] += g.Count
		total += g.Count
	}

	funnel := a.vocab.Funnel()
	sort.SliceStable(groups, func(i, j int) bool {
		pi, pj := a.vocab.FunnelPosition(groups[i].Stage), a.vocab.FunnelPosition(groups[j].Stage)
		switch {
		case pi >= 0 && pj >= 0:
			return pi < pj
		case pi >= 0:
			return true
		case pj >= 0:
			return false
		default:
			return groups[i].Count > groups[j].Count
		}
	})

	entries := make([]transport.DensityEntry, 0, len(groups))
	for _, g := range groups {
		avg := round1(g.AvgAgeDays)
		entry := transport.DensityEntry{
			Stage:          g.Stage,
			Count:          g.Count,
			AvgDaysInStage: avg,
			IsBottleneck:   avg > bottleneckAvgDays && g.Count > bottleneckMinCount,
		}
		if total > 0 {
			entry.Percentage = round1(float64(g.Count) / float64(total) * 100)
		}
		if pos := a.vocab.FunnelPosition(g.Stage); pos >= 0 && pos < len(funnel)-1 && g.Count > 0 {
			rate := round1(float64(counts[funnel[pos+1]]) / float64(g.Count) * 100)
			entry.ConversionRate = &rate
		}
		entries = append(entries, entry)
	}

	overall := 0.0
	if n := counts[domain.StageNew]; n > 0 {
		overall = round1(float64(counts[domain.StageBooked]) / float64(n) * 100)
	}

	return transport.DensityResponse{
		TotalLeads:            total,
		OverallConversionRate: overall,
		Density:               entries,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
