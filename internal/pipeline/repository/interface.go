package repository

import (
	"context"
	"errors"
	"time"

	"estate_crm_backend/internal/pipeline/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrNotFound is returned when a well-formed id matches no record.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional history update lost a race.
	ErrConflict = errors.New("stage history changed concurrently")
)

// LookupCategoryLeadStage is the lookup category holding lead stage labels.
const LookupCategoryLeadStage = "leadStage"

// ActivityStatusCompleted marks activities that count toward scoring.
const ActivityStatusCompleted = "completed"

// Lead is the pipeline view of a lead record.
type Lead struct {
	ID             bson.ObjectID
	Name           string
	Stage          domain.StageRef
	StageChangedAt *time.Time
	StageHistory   []domain.StageHistoryEntry
	LastActivityAt *time.Time
	IntentIndex    *float64
	CreatedAt      time.Time
}

// Deal is the pipeline view of a deal record.
type Deal struct {
	ID              bson.ObjectID
	Title           string
	Stage           string
	StageChangedAt  *time.Time
	StageHistory    []domain.StageHistoryEntry
	LastActivityAt  *time.Time
	Probability     float64
	IsClosed        bool
	StageSyncReason string
	LeadIDs         []bson.ObjectID
	CreatedAt       time.Time
}

// Activity is an interaction owned by the activities service. Read only here.
type Activity struct {
	ID          bson.ObjectID
	EntityType  domain.EntityKind
	EntityID    bson.ObjectID
	Type        string
	Purpose     string
	Outcome     string
	Status      string
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// IsCompleted reports whether the activity happened.
func (a Activity) IsCompleted() bool { return a.Status == ActivityStatusCompleted }

// OccurredAt is the completion time, falling back to creation.
func (a Activity) OccurredAt() time.Time {
	if a.CompletedAt != nil && !a.CompletedAt.IsZero() {
		return *a.CompletedAt
	}
	return a.CreatedAt
}

// Lookup is a canonical stage label record.
type Lookup struct {
	ID        bson.ObjectID
	Category  string
	Label     string
	CreatedAt time.Time
}

// StageGroup is one bucket of the lead density aggregation, keyed by the
// stored stage value.
type StageGroup struct {
	Stage      domain.StageRef
	Count      int
	AvgAgeDays float64
}

// TransitionUpdate is a stage change committed in a single conditional write.
type TransitionUpdate struct {
	// ExpectedLen is the history length the caller read. The write only
	// applies while the stored history still has this length.
	ExpectedLen     int
	History         []domain.StageHistoryEntry
	Stage           domain.StageRef
	ChangedAt       time.Time
	LastActivityAt  *time.Time
	StageSyncReason *string
}

// LeadReader provides read operations for leads.
type LeadReader interface {
	GetLead(ctx context.Context, id bson.ObjectID) (Lead, error)
	ListLeads(ctx context.Context) ([]Lead, error)
	ListLeadsByIDs(ctx context.Context, ids []bson.ObjectID) ([]Lead, error)
	LeadStageGroups(ctx context.Context, now time.Time) ([]StageGroup, error)
}

// LeadMaintenance supports the bulk last-activity job.
type LeadMaintenance interface {
	ForEachLeadID(ctx context.Context, fn func(id bson.ObjectID) error) error
	SetLeadLastActivity(ctx context.Context, id bson.ObjectID, at time.Time) error
}

// DealReader provides read operations for deals.
type DealReader interface {
	GetDeal(ctx context.Context, id bson.ObjectID) (Deal, error)
	ListDeals(ctx context.Context) ([]Deal, error)
	ListDealsByLead(ctx context.Context, leadID bson.ObjectID) ([]Deal, error)
	// ListNegotiationDealsBefore returns open deals in Negotiation whose
	// stage changed before cutoff.
	ListNegotiationDealsBefore(ctx context.Context, cutoff time.Time) ([]Deal, error)
	// ListInactiveDeals returns deals outside excludedStages with no
	// activity since cutoff (or none at all).
	ListInactiveDeals(ctx context.Context, cutoff time.Time, excludedStages []string) ([]Deal, error)
}

// HistoryStore reads and atomically rewrites stage history.
type HistoryStore interface {
	GetHistory(ctx context.Context, kind domain.EntityKind, id bson.ObjectID) (domain.HistorySnapshot, error)
	ApplyTransition(ctx context.Context, kind domain.EntityKind, id bson.ObjectID, update TransitionUpdate) error
}

// ActivityReader provides read access to the activity log.
type ActivityReader interface {
	ListCompletedActivities(ctx context.Context, kind domain.EntityKind, id bson.ObjectID, since time.Time) ([]Activity, error)
	ListCompletedActivitiesByKind(ctx context.Context, kind domain.EntityKind) (map[bson.ObjectID][]Activity, error)
	// LatestActivity returns the newest activity by creation time, or nil.
	LatestActivity(ctx context.Context, kind domain.EntityKind, id bson.ObjectID) (*Activity, error)
}

// LookupStore manages canonical stage labels.
type LookupStore interface {
	GetLookup(ctx context.Context, id bson.ObjectID) (Lookup, error)
	GetOrCreateLookup(ctx context.Context, category, label string) (Lookup, error)
	ListLookups(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]Lookup, error)
}

// Repository combines all pipeline store operations.
type Repository interface {
	LeadReader
	LeadMaintenance
	DealReader
	HistoryStore
	ActivityReader
	LookupStore
}
