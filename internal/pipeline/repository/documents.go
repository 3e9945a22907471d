package repository

import (
	"time"

	"estate_crm_backend/internal/pipeline/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// leadDocument mirrors the leads collection. Stage is decoded untyped
// because it is an ObjectID on current records and a string on legacy ones.
type leadDocument struct {
	ID             bson.ObjectID              `bson:"_id"`
	Name           string                     `bson:"name"`
	Stage          any                        `bson:"stage"`
	StageChangedAt *time.Time                 `bson:"stageChangedAt"`
	StageHistory   []domain.StageHistoryEntry `bson:"stageHistory"`
	LastActivityAt *time.Time                 `bson:"lastActivityAt"`
	IntentIndex    *float64                   `bson:"intentIndex"`
	CreatedAt      time.Time                  `bson:"createdAt"`
}

func (d leadDocument) toLead() Lead {
	return Lead{
		ID:             d.ID,
		Name:           d.Name,
		Stage:          domain.StageRefFromValue(d.Stage),
		StageChangedAt: d.StageChangedAt,
		StageHistory:   d.StageHistory,
		LastActivityAt: d.LastActivityAt,
		IntentIndex:    d.IntentIndex,
		CreatedAt:      d.CreatedAt,
	}
}

type dealDocument struct {
	ID              bson.ObjectID              `bson:"_id"`
	Title           string                     `bson:"title"`
	Stage           string                     `bson:"stage"`
	StageChangedAt  *time.Time                 `bson:"stageChangedAt"`
	StageHistory    []domain.StageHistoryEntry `bson:"stageHistory"`
	LastActivityAt  *time.Time                 `bson:"lastActivityAt"`
	Probability     float64                    `bson:"probability"`
	IsClosed        bool                       `bson:"isClosed"`
	StageSyncReason string                     `bson:"stageSyncReason"`
	LeadIDs         []bson.ObjectID            `bson:"leadIds"`
	CreatedAt       time.Time                  `bson:"createdAt"`
}

func (d dealDocument) toDeal() Deal {
	return Deal{
		ID:              d.ID,
		Title:           d.Title,
		Stage:           d.Stage,
		StageChangedAt:  d.StageChangedAt,
		StageHistory:    d.StageHistory,
		LastActivityAt:  d.LastActivityAt,
		Probability:     d.Probability,
		IsClosed:        d.IsClosed,
		StageSyncReason: d.StageSyncReason,
		LeadIDs:         d.LeadIDs,
		CreatedAt:       d.CreatedAt,
	}
}

// historyDocument is the snapshot projection shared by leads and deals.
type historyDocument struct {
	Stage           any                        `bson:"stage"`
	StageSyncReason string                     `bson:"stageSyncReason"`
	StageChangedAt  *time.Time                 `bson:"stageChangedAt"`
	StageHistory    []domain.StageHistoryEntry `bson:"stageHistory"`
	CreatedAt       time.Time                  `bson:"createdAt"`
}

func (d historyDocument) toSnapshot(kind domain.EntityKind) domain.HistorySnapshot {
	stage := domain.StageRefFromValue(d.Stage)
	if kind == domain.EntityDeal {
		// Deal stages are always labels.
		label, _ := d.Stage.(string)
		stage = domain.DirectStage(label)
	}
	return domain.HistorySnapshot{
		Stage:           stage,
		StageSyncReason: d.StageSyncReason,
		StageChangedAt:  d.StageChangedAt,
		CreatedAt:       d.CreatedAt,
		History:         d.StageHistory,
	}
}

type activityDocument struct {
	ID          bson.ObjectID `bson:"_id"`
	EntityType  string        `bson:"entityType"`
	EntityID    bson.ObjectID `bson:"entityId"`
	Type        string        `bson:"type"`
	Purpose     string        `bson:"purpose"`
	Outcome     string        `bson:"outcome"`
	Status      string        `bson:"status"`
	CompletedAt *time.Time    `bson:"completedAt"`
	CreatedAt   time.Time     `bson:"createdAt"`
}

func (d activityDocument) toActivity() Activity {
	return Activity{
		ID:          d.ID,
		EntityType:  domain.EntityKind(d.EntityType),
		EntityID:    d.EntityID,
		Type:        d.Type,
		Purpose:     d.Purpose,
		Outcome:     d.Outcome,
		Status:      d.Status,
		CompletedAt: d.CompletedAt,
		CreatedAt:   d.CreatedAt,
	}
}

type lookupDocument struct {
	ID        bson.ObjectID `bson:"_id"`
	Category  string        `bson:"category"`
	Label     string        `bson:"label"`
	Key       string        `bson:"key"`
	CreatedAt time.Time     `bson:"createdAt"`
}

func (d lookupDocument) toLookup() Lookup {
	return Lookup{ID: d.ID, Category: d.Category, Label: d.Label, CreatedAt: d.CreatedAt}
}

type stageGroupDocument struct {
	Stage    any      `bson:"_id"`
	Count    int      `bson:"count"`
	AvgAgeMs *float64 `bson:"avgAgeMs"`
}

func (d stageGroupDocument) toStageGroup() StageGroup {
	g := StageGroup{Stage: domain.StageRefFromValue(d.Stage), Count: d.Count}
	if d.AvgAgeMs != nil && *d.AvgAgeMs > 0 {
		g.AvgAgeDays = *d.AvgAgeMs / float64(24*time.Hour/time.Millisecond)
	}
	return g
}
