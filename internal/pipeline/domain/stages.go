package domain

import "strings"

// Canonical stage labels shared by leads and deals.
const (
	StageNew         = "New"
	StageProspect    = "Prospect"
	StageQualified   = "Qualified"
	StageOpen        = "Open"
	StageOpportunity = "Opportunity"
	StageQuote       = "Quote"
	StageNegotiation = "Negotiation"
	StageStalled     = "Stalled"
	StageBooked      = "Booked"
	StageClosed      = "Closed"
	StageClosedWon   = "Closed Won"
	StageClosedLost  = "Closed Lost"
	StageCancelled   = "Cancelled"
)

// unknownPriority ranks labels outside the priority table below every known stage.
const unknownPriority = -1.0

// Vocabulary holds the fixed stage tables. The zero value is not usable;
// build one with DefaultVocabulary. The tables are never mutated after
// construction, so one instance is shared by every component.
type Vocabulary struct {
	canonical      map[string]string
	priority       map[string]float64
	leadToDeal     map[string]string
	healthWeight   map[string]float64
	leadTempWeight map[string]float64
	dealTempWeight map[string]float64
	closedDeal     map[string]struct{}
	funnel         []string
}

// DefaultVocabulary returns the stage tables used in production.
func DefaultVocabulary() *Vocabulary {
	v := &Vocabulary{
		canonical: map[string]string{},
		priority: map[string]float64{
			StageNew:         0,
			StageProspect:    1,
			StageQualified:   2,
			StageOpen:        2,
			StageOpportunity: 3,
			StageQuote:       3,
			StageNegotiation: 4,
			StageStalled:     3.5,
			StageBooked:      5,
			StageClosed:      6,
			StageClosedWon:   6,
			StageClosedLost:  1,
		},
		leadToDeal: map[string]string{
			StageNew:         StageOpen,
			StageProspect:    StageOpen,
			StageQualified:   StageOpen,
			StageOpportunity: StageQuote,
			StageNegotiation: StageNegotiation,
			StageStalled:     StageStalled,
			StageBooked:      StageBooked,
			StageClosedWon:   StageBooked,
			StageClosedLost:  StageOpen,
		},
		healthWeight: map[string]float64{
			StageNew:         5,
			StageProspect:    10,
			StageOpen:        15,
			StageQualified:   25,
			StageOpportunity: 40,
			StageQuote:       40,
			StageNegotiation: 60,
			StageStalled:     20,
			StageBooked:      80,
			StageClosed:      100,
			StageClosedWon:   100,
			StageClosedLost:  0,
		},
		leadTempWeight: map[string]float64{
			StageNew:         10,
			StageProspect:    20,
			StageOpen:        25,
			StageQualified:   35,
			StageOpportunity: 45,
			StageQuote:       45,
			StageNegotiation: 55,
			StageStalled:     15,
			StageBooked:      70,
			StageClosed:      80,
			StageClosedWon:   80,
			StageClosedLost:  0,
		},
		dealTempWeight: map[string]float64{
			StageNew:         10,
			StageOpen:        20,
			StageProspect:    20,
			StageQualified:   30,
			StageOpportunity: 35,
			StageQuote:       35,
			StageNegotiation: 50,
			StageStalled:     15,
			StageBooked:      70,
			StageClosed:      75,
			StageClosedWon:   75,
			StageClosedLost:  0,
		},
		closedDeal: map[string]struct{}{
			StageBooked:     {},
			StageClosed:     {},
			StageClosedWon:  {},
			StageClosedLost: {},
			StageCancelled:  {},
		},
		funnel: []string{StageNew, StageProspect, StageQualified, StageOpportunity, StageNegotiation, StageBooked},
	}

	for _, s := range []string{
		StageNew, StageProspect, StageQualified, StageOpen, StageOpportunity, StageQuote,
		StageNegotiation, StageStalled, StageBooked, StageClosed, StageClosedWon, StageClosedLost, StageCancelled,
	} {
		v.canonical[strings.ToLower(s)] = s
	}
	// Legacy synonyms still present in older records.
	for legacy, canonical := range map[string]string{
		"contacted":   StageProspect,
		"proposal":    StageQuote,
		"quotation":   StageQuote,
		"negotiating": StageNegotiation,
		"won":         StageClosedWon,
		"closed_won":  StageClosedWon,
		"lost":        StageClosedLost,
		"closed_lost": StageClosedLost,
		"canceled":    StageCancelled,
	} {
		v.canonical[legacy] = canonical
	}

	return v
}

// Canonical maps any stored or submitted label onto the shared vocabulary.
// Labels outside the vocabulary are returned trimmed but otherwise intact.
func (v *Vocabulary) Canonical(label string) string {
	trimmed := strings.TrimSpace(label)
	if c, ok := v.canonical[strings.ToLower(trimmed)]; ok {
		return c
	}
	return trimmed
}

// DealStage is the canonical deal stage; a deal without a stage is Open.
func (v *Vocabulary) DealStage(label string) string {
	if c := v.Canonical(label); c != "" {
		return c
	}
	return StageOpen
}

// Priority ranks a lead stage for deal sync. Unknown labels rank below New.
func (v *Vocabulary) Priority(label string) float64 {
	if p, ok := v.priority[v.Canonical(label)]; ok {
		return p
	}
	return unknownPriority
}

// DealStageFor maps a lead stage into deal vocabulary.
func (v *Vocabulary) DealStageFor(leadStage string) (string, bool) {
	s, ok := v.leadToDeal[v.Canonical(leadStage)]
	return s, ok
}

// HealthWeight is the stage component of deal health. Unknown stages score like New.
func (v *Vocabulary) HealthWeight(label string) float64 {
	if w, ok := v.healthWeight[v.Canonical(label)]; ok {
		return w
	}
	return v.healthWeight[StageNew]
}

func (v *Vocabulary) LeadTemperatureWeight(label string) float64 {
	if w, ok := v.leadTempWeight[v.Canonical(label)]; ok {
		return w
	}
	return v.leadTempWeight[StageNew]
}

func (v *Vocabulary) DealTemperatureWeight(label string) float64 {
	if w, ok := v.dealTempWeight[v.Canonical(label)]; ok {
		return w
	}
	return v.dealTempWeight[StageNew]
}

// IsClosedDealStage reports whether a deal in this stage is finished.
func (v *Vocabulary) IsClosedDealStage(label string) bool {
	_, ok := v.closedDeal[v.Canonical(label)]
	return ok
}

// ClosedDealStages lists the finished stages, for store queries.
func (v *Vocabulary) ClosedDealStages() []string {
	out := make([]string, 0, len(v.closedDeal))
	for s := range v.closedDeal {
		out = append(out, s)
	}
	return out
}

// Funnel returns the fixed lead funnel order.
func (v *Vocabulary) Funnel() []string {
	return append([]string(nil), v.funnel...)
}

// FunnelPosition returns the stage's index in the funnel, or -1.
func (v *Vocabulary) FunnelPosition(label string) int {
	c := v.Canonical(label)
	for i, s := range v.funnel {
		if s == c {
			return i
		}
	}
	return -1
}
