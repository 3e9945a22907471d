// Package pipeline provides the stage and scoring engine module.
// This file wires the pipeline services and registers their routes.
package pipeline

import (
	"estate_crm_backend/internal/events"
	apphttp "estate_crm_backend/internal/http"
	"estate_crm_backend/internal/pipeline/density"
	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/handler"
	"estate_crm_backend/internal/pipeline/labels"
	"estate_crm_backend/internal/pipeline/ledger"
	"estate_crm_backend/internal/pipeline/maintenance"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/internal/pipeline/scoring"
	"estate_crm_backend/internal/pipeline/stalled"
	"estate_crm_backend/internal/pipeline/transitions"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"
	"estate_crm_backend/platform/validator"
)

// Infra carries optional infrastructure. Nil fields disable the feature
// that needs them.
type Infra struct {
	// Locker serialises bulk recalculation runs across processes.
	Locker maintenance.Locker
	// Enqueuer hands bulk recalculation to the background worker.
	Enqueuer handler.RecalcEnqueuer
}

// Module is the pipeline bounded context module implementing http.Module.
type Module struct {
	handler     *handler.Handler
	transitions *transitions.Service
	recalc      *maintenance.LastActivityRecalculator
}

// NewModule creates and initializes the pipeline module with all its dependencies.
func NewModule(repo repository.Repository, eventBus events.Bus, val *validator.Validator, cfg config.PipelineConfig, infra Infra, log *logger.Logger) (*Module, error) {
	taxonomy, err := scoring.LoadTaxonomy(cfg.GetScoringTaxonomyPath())
	if err != nil {
		return nil, err
	}

	vocab := domain.DefaultVocabulary()
	resolver := labels.New(repo, vocab)
	transitionSvc := transitions.New(repo, resolver, ledger.New(repo, log), eventBus, vocab, log)
	recalc := NewRecalculator(repo, eventBus, infra.Locker, log)

	if cfg.GetAutoSyncDeals() {
		eventBus.Subscribe(events.LeadStageChanged{}.EventName(), NewAutoSync(transitionSvc, log))
	}

	h := handler.New(handler.Services{
		Transitions: transitionSvc,
		Stalled: stalled.New(repo, vocab, stalled.Thresholds{
			StageAgeDays:   cfg.GetStalledStageAgeDays(),
			NoActivityDays: cfg.GetStalledNoActivityDays(),
		}),
		Scorer:   scoring.New(repo, resolver, vocab, taxonomy),
		Density:  density.New(repo, resolver, vocab),
		Recalc:   recalc,
		Enqueuer: infra.Enqueuer,
	}, val)

	return &Module{handler: h, transitions: transitionSvc, recalc: recalc}, nil
}

// NewRecalculator builds the bulk last-activity job. The scheduler worker
// uses it without the rest of the module.
func NewRecalculator(repo repository.Repository, eventBus events.Bus, locker maintenance.Locker, log *logger.Logger) *maintenance.LastActivityRecalculator {
	recalc := maintenance.NewLastActivityRecalculator(repo, eventBus, log)
	if locker != nil {
		recalc.WithLocker(locker)
	}
	return recalc
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// TransitionService returns the stage transition service for external use.
func (m *Module) TransitionService() *transitions.Service {
	return m.transitions
}

// Recalculator returns the bulk last-activity job.
func (m *Module) Recalculator() *maintenance.LastActivityRecalculator {
	return m.recalc
}

// RegisterRoutes mounts pipeline routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// All pipeline routes require authentication
	m.handler.RegisterRoutes(ctx.Protected.Group("/pipeline"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
