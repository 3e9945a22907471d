package pipeline

import (
	"context"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/pipeline/transitions"
	"estate_crm_backend/platform/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// AutoSyncReason is recorded on deals moved by a lead stage change.
const AutoSyncReason = "Auto-sync after lead stage change"

// AutoSync re-syncs linked deals whenever a lead changes stage.
type AutoSync struct {
	transitions *transitions.Service
	log         *logger.Logger
}

func NewAutoSync(svc *transitions.Service, log *logger.Logger) *AutoSync {
	return &AutoSync{transitions: svc, log: log}
}

// Handle never fails the publisher; problems are logged.
func (a *AutoSync) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadStageChanged)
	if !ok {
		return nil
	}

	leadID, err := bson.ObjectIDFromHex(e.LeadID)
	if err != nil {
		a.log.Warn("auto-sync skipped: invalid lead id", "leadId", e.LeadID)
		return nil
	}

	results, err := a.transitions.SyncDealsForLead(ctx, leadID, AutoSyncReason)
	if err != nil {
		a.log.WithContext(ctx).Error("auto-sync of linked deals failed", "leadId", e.LeadID, "error", err)
	}
	for _, r := range results {
		if r.Changed {
			a.log.Info("deal auto-synced", "dealId", r.DealID, "from", r.PreviousStage, "to", r.Stage)
		}
	}
	return nil
}

var _ events.Handler = (*AutoSync)(nil)
