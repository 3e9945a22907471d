package scoring

import (
	"math"
	"strings"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/transport"
)

// HealthWindow is how far back completed activities count toward health.
const HealthWindow = 60 * 24 * time.Hour

const maxActivityScore = 25

// Negative keywords are checked first so "not interested" is not read as positive.
var (
	negativeOutcomeKeywords = []string{"not interested", "not_interested", "rejected", "declined", "lost", "cancel", "no show", "no_show", "unreachable", "negative"}
	positiveOutcomeKeywords = []string{"interested", "positive", "agreed", "accepted", "booked", "confirmed", "successful", "offer", "qualified"}
)

// Health computes the 0-100 health of a deal from its stage, its last
// activity and the completed activities in the health window.
func (s *Scorer) Health(stage string, lastActivityAt *time.Time, activities []repository.Activity, now time.Time) transport.Health {
	stage = s.vocab.DealStage(stage)
	stageScore := s.vocab.HealthWeight(stage)

	activityScore := 0.0
	var newest time.Time
	counted := 0
	for _, a := range activities {
		if !a.IsCompleted() {
			continue
		}
		at := a.OccurredAt()
		if now.Sub(at) > HealthWindow {
			continue
		}
		if at.After(newest) {
			newest = at
		}
		counted++
		activityScore += (outcomePoints(a.Outcome) + typeBonus(a.Type)) * recencyMultiplier(domain.DaysBetween(at, now))
	}
	activityScore = clamp(activityScore, 0, maxActivityScore)

	last := lastActivityAt
	if last == nil && !newest.IsZero() {
		last = &newest
	}
	rate := ownerResponseRate(last, now)
	risk := math.Max(0, (40-rate)/40*15)

	// TODO(product): the stage term is counted twice (effectively ×0.5); confirm whether a second signal was intended.
	score := int(clamp(math.Round(stageScore*0.25+stageScore*0.25+activityScore-risk), 0, 100))
	label, color := healthBand(score)

	return transport.Health{
		Score: score,
		Label: label,
		Color: color,
		Breakdown: transport.HealthBreakdown{
			Stage:             stage,
			StageScore:        stageScore,
			ActivityScore:     round1(activityScore),
			ActivityCount:     counted,
			OwnerResponseRate: rate,
			OwnerRisk:         round1(risk),
		},
	}
}

func outcomePoints(outcome string) float64 {
	o := strings.ToLower(outcome)
	for _, kw := range negativeOutcomeKeywords {
		if strings.Contains(o, kw) {
			return -5
		}
	}
	for _, kw := range positiveOutcomeKeywords {
		if strings.Contains(o, kw) {
			return 10
		}
	}
	return 3
}

func typeBonus(activityType string) float64 {
	switch normalizeKey(activityType) {
	case "site_visit", "sitevisit", "viewing":
		return 5
	case "meeting":
		return 3
	case "call", "phone_call":
		return 1
	default:
		return 0
	}
}

func recencyMultiplier(days int) float64 {
	switch {
	case days <= 7:
		return 1.5
	case days <= 30:
		return 1.0
	default:
		return 0.5
	}
}

func ownerResponseRate(last *time.Time, now time.Time) float64 {
	if last == nil {
		return 10
	}
	switch days := domain.DaysBetween(*last, now); {
	case days <= 2:
		return 100
	case days <= 7:
		return 80
	case days <= 14:
		return 60
	case days <= 21:
		return 40
	case days <= 30:
		return 25
	default:
		return 10
	}
}

func healthBand(score int) (label, color string) {
	switch {
	case score >= 60:
		return "Healthy", "green"
	case score >= 35:
		return "Watch", "amber"
	default:
		return "At Risk", "red"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
