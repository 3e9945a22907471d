// Package transitions changes lead and deal stages and serves their
// stage history. Every change goes through the history ledger so the
// entity's stage and its open history entry move together.
package transitions

import (
	"context"
	"errors"
	"strings"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/labels"
	"estate_crm_backend/internal/pipeline/ledger"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/logger"
	"estate_crm_backend/platform/sanitize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	maxStageLabelLength = 100
	maxReasonLength     = 500
)

// Repository is what transitions reads directly; writes go through the ledger.
type Repository interface {
	repository.LeadReader
	repository.DealReader
}

// Service orchestrates stage transitions.
type Service struct {
	repo     Repository
	resolver *labels.Resolver
	ledger   *ledger.Service
	eventBus events.Bus
	vocab    *domain.Vocabulary
	log      *logger.Logger
}

// New creates a transition service.
func New(repo Repository, resolver *labels.Resolver, ledger *ledger.Service, eventBus events.Bus, vocab *domain.Vocabulary, log *logger.Logger) *Service {
	return &Service{repo: repo, resolver: resolver, ledger: ledger, eventBus: eventBus, vocab: vocab, log: log}
}

// ChangeLeadStage moves a lead to req.Stage. actorID is used when the
// request does not name a user.
func (s *Service) ChangeLeadStage(ctx context.Context, leadID bson.ObjectID, req transport.ChangeLeadStageRequest, actorID string) (transport.ChangeLeadStageResponse, error) {
	stage := sanitize.Truncate(req.Stage, maxStageLabelLength)
	if stage == "" {
		return transport.ChangeLeadStageResponse{}, apperr.Validation("stage is required")
	}

	triggeredBy := strings.TrimSpace(req.TriggeredBy)
	if triggeredBy == "" {
		triggeredBy = domain.TriggeredByManual
	}
	actor := firstNonBlank(req.UserID, actorID)

	var (
		previous string
		target   labels.Resolved
	)
	res, err := s.ledger.Write(ctx, domain.EntityLead, leadID, func(snap domain.HistorySnapshot) (ledger.Entry, bool, error) {
		label, err := s.resolver.ResolveToLabel(ctx, snap.Stage)
		if err != nil {
			return ledger.Entry{}, false, err
		}
		previous = s.vocab.Canonical(label)

		if target.Label == "" {
			if target, err = s.resolver.ResolveToCanonicalID(ctx, stage); err != nil {
				return ledger.Entry{}, false, err
			}
		}

		return ledger.Entry{
			StageLabel: target.Label,
			Stage:      target.Ref,
			Context: domain.TransitionContext{
				TriggeredBy:     triggeredBy,
				FromStage:       previous,
				ActivityType:    strings.TrimSpace(req.ActivityType),
				Outcome:         sanitize.Text(req.Outcome),
				Reason:          sanitize.Truncate(req.Reason, maxReasonLength),
				ActivityID:      strings.TrimSpace(req.ActivityID),
				TriggeredByUser: actor,
			},
			TouchLastActivity: strings.TrimSpace(req.Outcome) != "",
		}, true, nil
	})
	if err != nil {
		return transport.ChangeLeadStageResponse{}, err
	}

	s.log.WithContext(ctx).StageTransition(string(domain.EntityLead), leadID.Hex(), previous, target.Label, triggeredBy)
	s.eventBus.Publish(ctx, events.LeadStageChanged{
		BaseEvent:       events.NewBaseEvent(),
		LeadID:          leadID.Hex(),
		PreviousStage:   previous,
		Stage:           target.Label,
		TriggeredBy:     triggeredBy,
		TriggeredByUser: actor,
		ChangedAt:       res.ChangedAt,
	})

	return transport.ChangeLeadStageResponse{
		LeadID:            leadID.Hex(),
		PreviousStage:     previous,
		Stage:             target.Label,
		StageChangedAt:    res.ChangedAt,
		StageHistoryCount: len(res.History),
	}, nil
}

// SyncDealStage moves a deal to the stage implied by its leads' stages.
// When the deal is already there nothing is written. A deal without a
// stored stage reads as Open and gets Open written.
func (s *Service) SyncDealStage(ctx context.Context, dealID bson.ObjectID, req transport.SyncDealStageRequest, actorID string) (transport.SyncDealStageResponse, error) {
	reason := sanitize.Truncate(req.Reason, maxReasonLength)
	if reason == "" {
		reason = domain.SyncReason(req.LeadStages)
	}

	var out transport.SyncDealStageResponse
	res, err := s.ledger.Write(ctx, domain.EntityDeal, dealID, func(snap domain.HistorySnapshot) (ledger.Entry, bool, error) {
		stored := s.vocab.Canonical(snap.Stage.Label())
		current := s.vocab.DealStage(stored)
		target := s.vocab.SyncTarget(stored, req.Stage, req.LeadStages)

		out = transport.SyncDealStageResponse{
			DealID:          dealID.Hex(),
			PreviousStage:   current,
			Stage:           current,
			StageSyncReason: snap.StageSyncReason,
		}
		if strings.EqualFold(target, stored) {
			return ledger.Entry{}, false, nil
		}

		out.Changed = true
		out.Stage = target
		out.StageSyncReason = reason
		return ledger.Entry{
			StageLabel: target,
			Stage:      domain.DirectStage(target),
			Context: domain.TransitionContext{
				TriggeredBy:     domain.TriggeredBySystem,
				FromStage:       current,
				Reason:          reason,
				TriggeredByUser: firstNonBlank(req.UserID, actorID),
			},
			StageSyncReason: &reason,
		}, true, nil
	})
	if err != nil {
		return transport.SyncDealStageResponse{}, err
	}
	if !res.Written {
		return out, nil
	}

	s.log.WithContext(ctx).StageTransition(string(domain.EntityDeal), dealID.Hex(), out.PreviousStage, out.Stage, domain.TriggeredBySystem)
	s.eventBus.Publish(ctx, events.DealStageSynced{
		BaseEvent:       events.NewBaseEvent(),
		DealID:          dealID.Hex(),
		PreviousStage:   out.PreviousStage,
		Stage:           out.Stage,
		StageSyncReason: reason,
	})

	return out, nil
}

// SyncDealsForLead re-syncs every deal linked to leadID from the current
// stages of all of that deal's leads. A failing deal does not stop the rest.
func (s *Service) SyncDealsForLead(ctx context.Context, leadID bson.ObjectID, reason string) ([]transport.SyncDealStageResponse, error) {
	deals, err := s.repo.ListDealsByLead(ctx, leadID)
	if err != nil {
		return nil, apperr.Internal("failed to list linked deals", err)
	}

	results := make([]transport.SyncDealStageResponse, 0, len(deals))
	var errs []error
	for _, deal := range deals {
		stages, err := s.linkedLeadStages(ctx, deal.LeadIDs)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		res, err := s.SyncDealStage(ctx, deal.ID, transport.SyncDealStageRequest{LeadStages: stages, Reason: reason}, "")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (s *Service) linkedLeadStages(ctx context.Context, ids []bson.ObjectID) ([]string, error) {
	leads, err := s.repo.ListLeadsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("failed to load linked leads", err)
	}

	refs := make([]domain.StageRef, 0, len(leads))
	for _, l := range leads {
		refs = append(refs, l.Stage)
	}
	resolved, err := s.resolver.ResolveMany(ctx, refs)
	if err != nil {
		return nil, err
	}

	stages := make([]string, 0, len(leads))
	for _, l := range leads {
		stages = append(stages, resolved[l.Stage.String()])
	}
	return stages, nil
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	return apperr.Internal(internal, err)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
