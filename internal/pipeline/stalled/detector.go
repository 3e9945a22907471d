// Package stalled finds deals that stopped moving through the pipeline.
package stalled

import (
	"context"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	ReasonStageAge   = "stage_age"
	ReasonNoActivity = "no_activity"

	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	criticalStageAgeDays = 30
	criticalInactiveDays = 21
)

var suggestedActions = map[string]string{
	SeverityCritical: "Escalate to the team lead and schedule a call with the client this week",
	SeverityWarning:  "Follow up with the client to re-engage the deal",
}

// Thresholds are the day counts past which a deal counts as stalled.
type Thresholds struct {
	StageAgeDays   int
	NoActivityDays int
}

// Detector scans deals for stalled ones.
type Detector struct {
	repo     repository.DealReader
	vocab    *domain.Vocabulary
	defaults Thresholds
	clock    func() time.Time
}

// New creates a detector. Zero thresholds passed to Detect fall back to defaults.
func New(repo repository.DealReader, vocab *domain.Vocabulary, defaults Thresholds) *Detector {
	return &Detector{repo: repo, vocab: vocab, defaults: defaults, clock: time.Now}
}

// WithClock replaces the time source.
func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// Detect returns deals stuck in Negotiation past the stage age threshold
// and open deals without recent activity. A deal matching both is listed once.
func (d *Detector) Detect(ctx context.Context, th Thresholds) (transport.StalledResponse, error) {
	if th.StageAgeDays <= 0 {
		th.StageAgeDays = d.defaults.StageAgeDays
	}
	if th.NoActivityDays <= 0 {
		th.NoActivityDays = d.defaults.NoActivityDays
	}

	now := d.clock().UTC()
	byAge, err := d.repo.ListNegotiationDealsBefore(ctx, now.AddDate(0, 0, -th.StageAgeDays))
	if err != nil {
		return transport.StalledResponse{}, apperr.Internal("failed to query deals by stage age", err)
	}
	inactive, err := d.repo.ListInactiveDeals(ctx, now.AddDate(0, 0, -th.NoActivityDays), d.vocab.ClosedDealStages())
	if err != nil {
		return transport.StalledResponse{}, apperr.Internal("failed to query inactive deals", err)
	}

	seen := make(map[bson.ObjectID]struct{}, len(byAge)+len(inactive))
	out := make([]transport.StalledDeal, 0, len(byAge)+len(inactive))
	for _, deal := range append(byAge, inactive...) {
		if _, dup := seen[deal.ID]; dup {
			continue
		}
		seen[deal.ID] = struct{}{}

		if item, ok := d.Classify(deal, th, now); ok {
			out = append(out, item)
		}
	}

	return transport.StalledResponse{
		Count:        len(out),
		StalledDeals: out,
		Thresholds: transport.StalledThresholds{
			DaysSinceStageChange: th.StageAgeDays,
			DaysNoActivity:       th.NoActivityDays,
		},
	}, nil
}

// Classify evaluates one deal. ok is false when it meets neither criterion.
func (d *Detector) Classify(deal repository.Deal, th Thresholds, now time.Time) (transport.StalledDeal, bool) {
	stage := d.vocab.DealStage(deal.Stage)

	stageSince := deal.CreatedAt
	if deal.StageChangedAt != nil {
		stageSince = *deal.StageChangedAt
	}
	activitySince := deal.CreatedAt
	if deal.LastActivityAt != nil {
		activitySince = *deal.LastActivityAt
	}
	daysInStage := domain.DaysBetween(stageSince, now)
	daysInactive := domain.DaysBetween(activitySince, now)

	var reasons []string
	if stage == domain.StageNegotiation && !deal.IsClosed &&
		deal.StageChangedAt != nil && deal.StageChangedAt.Before(now.AddDate(0, 0, -th.StageAgeDays)) {
		reasons = append(reasons, ReasonStageAge)
	}
	if !d.vocab.IsClosedDealStage(stage) &&
		(deal.LastActivityAt == nil || deal.LastActivityAt.Before(now.AddDate(0, 0, -th.NoActivityDays))) {
		reasons = append(reasons, ReasonNoActivity)
	}
	if len(reasons) == 0 {
		return transport.StalledDeal{}, false
	}

	severity := SeverityWarning
	if daysInStage > criticalStageAgeDays || daysInactive > criticalInactiveDays {
		severity = SeverityCritical
	}

	return transport.StalledDeal{
		DealID:               deal.ID.Hex(),
		Title:                deal.Title,
		Stage:                stage,
		StageChangedAt:       deal.StageChangedAt,
		LastActivityAt:       deal.LastActivityAt,
		DaysSinceStageChange: daysInStage,
		DaysSinceActivity:    daysInactive,
		Reasons:              reasons,
		Severity:             severity,
		SuggestedAction:      suggestedActions[severity],
	}, true
}
