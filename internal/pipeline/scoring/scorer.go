// Package scoring computes deal health and lead/deal temperature.
package scoring

import (
	"context"
	"errors"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/labels"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"
)

// Repository defines the reads the scorer needs.
type Repository interface {
	repository.LeadReader
	repository.DealReader
	repository.ActivityReader
}

// Scorer computes scores from stored leads, deals and activities.
type Scorer struct {
	repo     Repository
	resolver *labels.Resolver
	vocab    *domain.Vocabulary
	taxonomy *Taxonomy
	clock    func() time.Time
}

// New creates a scorer. taxonomy may be nil, in which case behavioral
// lead points are zero.
func New(repo Repository, resolver *labels.Resolver, vocab *domain.Vocabulary, taxonomy *Taxonomy) *Scorer {
	return &Scorer{repo: repo, resolver: resolver, vocab: vocab, taxonomy: taxonomy, clock: time.Now}
}

// WithClock replaces the time source.
func (s *Scorer) WithClock(clock func() time.Time) *Scorer {
	s.clock = clock
	return s
}

// DealHealth scores a single deal.
func (s *Scorer) DealHealth(ctx context.Context, dealID bson.ObjectID) (transport.HealthResponse, error) {
	deal, err := s.repo.GetDeal(ctx, dealID)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.HealthResponse{}, apperr.NotFound("deal not found")
	}
	if err != nil {
		return transport.HealthResponse{}, apperr.Internal("failed to load deal", err)
	}

	now := s.clock().UTC()
	activities, err := s.repo.ListCompletedActivities(ctx, domain.EntityDeal, dealID, now.Add(-HealthWindow))
	if err != nil {
		return transport.HealthResponse{}, apperr.Internal("failed to load deal activities", err)
	}

	return transport.HealthResponse{
		DealID: dealID.Hex(),
		Health: s.Health(deal.Stage, deal.LastActivityAt, activities, now),
	}, nil
}

// LeadScores returns the temperature of every lead keyed by id.
func (s *Scorer) LeadScores(ctx context.Context) (transport.ScoresResponse, error) {
	var (
		leads      []repository.Lead
		activities map[bson.ObjectID][]repository.Activity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		leads, err = s.repo.ListLeads(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		activities, err = s.repo.ListCompletedActivitiesByKind(gctx, domain.EntityLead)
		return err
	})
	if err := g.Wait(); err != nil {
		return transport.ScoresResponse{}, apperr.Internal("failed to load leads for scoring", err)
	}

	refs := make([]domain.StageRef, 0, len(leads))
	for _, l := range leads {
		refs = append(refs, l.Stage)
	}
	stages, err := s.resolver.ResolveMany(ctx, refs)
	if err != nil {
		return transport.ScoresResponse{}, err
	}

	now := s.clock().UTC()
	scores := make(map[string]transport.Score, len(leads))
	for _, l := range leads {
		scores[l.ID.Hex()] = s.LeadTemperature(l, stages[l.Stage.String()], activities[l.ID], now)
	}
	return transport.ScoresResponse{Scores: scores}, nil
}

// DealScores returns the temperature of every deal keyed by id.
func (s *Scorer) DealScores(ctx context.Context) (transport.ScoresResponse, error) {
	deals, err := s.repo.ListDeals(ctx)
	if err != nil {
		return transport.ScoresResponse{}, apperr.Internal("failed to load deals for scoring", err)
	}

	now := s.clock().UTC()
	scores := make(map[string]transport.Score, len(deals))
	for _, d := range deals {
		scores[d.ID.Hex()] = s.DealTemperature(d, now)
	}
	return transport.ScoresResponse{Scores: scores}, nil
}
