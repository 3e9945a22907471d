package transitions

import (
	"context"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/transport"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// LeadHistory returns a lead's current stage and its full stage history.
func (s *Service) LeadHistory(ctx context.Context, leadID bson.ObjectID) (transport.StageHistoryResponse, error) {
	lead, err := s.repo.GetLead(ctx, leadID)
	if err != nil {
		return transport.StageHistoryResponse{}, notFoundOr(err, "lead not found", "failed to load lead")
	}

	current, err := s.resolver.ResolveToLabel(ctx, lead.Stage)
	if err != nil {
		return transport.StageHistoryResponse{}, err
	}

	resp := toHistoryResponse(s.vocab.Canonical(current), lead.StageHistory)
	resp.LeadID = leadID.Hex()
	resp.StageChangedAt = lead.StageChangedAt
	return resp, nil
}

// DealHistory returns a deal's current stage and its full stage history.
func (s *Service) DealHistory(ctx context.Context, dealID bson.ObjectID) (transport.StageHistoryResponse, error) {
	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return transport.StageHistoryResponse{}, notFoundOr(err, "deal not found", "failed to load deal")
	}

	resp := toHistoryResponse(s.vocab.DealStage(deal.Stage), deal.StageHistory)
	resp.DealID = dealID.Hex()
	resp.StageChangedAt = deal.StageChangedAt
	return resp, nil
}

func toHistoryResponse(current string, history []domain.StageHistoryEntry) transport.StageHistoryResponse {
	entries := make([]transport.StageHistoryEntry, 0, len(history))
	for _, e := range history {
		entries = append(entries, transport.StageHistoryEntry{
			Stage:           e.Stage,
			EnteredAt:       e.EnteredAt,
			ExitedAt:        e.ExitedAt,
			DaysInStage:     e.DaysInStage,
			TriggeredBy:     e.TriggeredBy,
			FromStage:       e.FromStage,
			ActivityType:    e.ActivityType,
			Outcome:         e.Outcome,
			Reason:          e.Reason,
			ActivityID:      e.ActivityID,
			TriggeredByUser: e.TriggeredByUser,
		})
	}
	return transport.StageHistoryResponse{
		CurrentStage:      current,
		StageHistory:      entries,
		TotalStageChanges: len(entries),
	}
}
