// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"estate_crm_backend/platform/events"
	"estate_crm_backend/platform/logger"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// LeadStageChanged is published after a lead's stage transition is committed.
type LeadStageChanged struct {
	BaseEvent
	LeadID          string    `json:"leadId"`
	PreviousStage   string    `json:"previousStage"`
	Stage           string    `json:"stage"`
	TriggeredBy     string    `json:"triggeredBy"`
	TriggeredByUser string    `json:"triggeredByUser,omitempty"`
	ChangedAt       time.Time `json:"changedAt"`
}

func (e LeadStageChanged) EventName() string { return "pipeline.lead.stage_changed" }

// DealStageSynced is published when a sync moved a deal to a new stage.
type DealStageSynced struct {
	BaseEvent
	DealID          string `json:"dealId"`
	PreviousStage   string `json:"previousStage"`
	Stage           string `json:"stage"`
	StageSyncReason string `json:"stageSyncReason"`
}

func (e DealStageSynced) EventName() string { return "pipeline.deal.stage_synced" }

// LastActivityRecalculated is published when a bulk recalculation run finishes.
type LastActivityRecalculated struct {
	BaseEvent
	Processed   int  `json:"processed"`
	Updated     int  `json:"updated"`
	Skipped     int  `json:"skipped"`
	Failed      int  `json:"failed"`
	DryRun      bool `json:"dryRun"`
	Interrupted bool `json:"interrupted"`
}

func (e LastActivityRecalculated) EventName() string { return "pipeline.last_activity.recalculated" }
