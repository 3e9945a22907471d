package scoring

import (
	"math"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/transport"
)

// LeadTemperature scores a lead for list views. A positive intent index
// from enrichment wins over the computed score.
func (s *Scorer) LeadTemperature(lead repository.Lead, stage string, activities []repository.Activity, now time.Time) transport.Score {
	var score int
	if lead.IntentIndex != nil && *lead.IntentIndex > 0 {
		score = int(clamp(math.Round(*lead.IntentIndex), 0, 100))
	} else {
		behavioral := 0.0
		for _, a := range activities {
			if a.IsCompleted() {
				behavioral += s.taxonomy.Points(a.Type, a.Purpose, a.Outcome)
			}
		}

		recency := 0.0
		if days, ok := daysSince(lead.LastActivityAt, lead.StageChangedAt, now); ok {
			switch {
			case days <= 3:
				recency = 10
			case days <= 7:
				recency = 5
			}
		}
		score = int(clamp(math.Round(s.vocab.LeadTemperatureWeight(stage)+behavioral+recency), 0, 100))
	}

	label, color := leadBand(score)
	return transport.Score{Score: score, Color: color, Label: label}
}

// DealTemperature scores a deal for list views.
func (s *Scorer) DealTemperature(deal repository.Deal, now time.Time) transport.Score {
	recency := 0.0
	if days, ok := daysSince(deal.LastActivityAt, deal.StageChangedAt, now); ok {
		switch {
		case days <= 3:
			recency = 15
		case days <= 7:
			recency = 10
		case days <= 14:
			recency = 5
		}
	}
	momentum := math.Min(10, float64(2*len(deal.StageHistory)))
	probability := math.Round(0.1 * deal.Probability)

	score := int(clamp(s.vocab.DealTemperatureWeight(s.vocab.DealStage(deal.Stage))+recency+momentum+probability, 0, 100))
	label, color := dealBand(score)
	return transport.Score{Score: score, Color: color, Label: label}
}

func daysSince(primary, fallback *time.Time, now time.Time) (int, bool) {
	at := primary
	if at == nil {
		at = fallback
	}
	if at == nil {
		return 0, false
	}
	return domain.DaysBetween(*at, now), true
}

func leadBand(score int) (label, color string) {
	switch {
	case score < 31:
		return "Cold", "blue"
	case score < 61:
		return "Warm", "yellow"
	case score < 81:
		return "Hot", "orange"
	default:
		return "Super Hot", "red"
	}
}

func dealBand(score int) (label, color string) {
	switch {
	case score < 30:
		return "At Risk", "red"
	case score < 55:
		return "Open", "blue"
	case score < 80:
		return "Active", "amber"
	default:
		return "Strong", "green"
	}
}
