// Package repository stores pipeline entities in MongoDB.
package repository

import (
	"context"
	"fmt"
	"time"

	"estate_crm_backend/internal/pipeline/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names.
const (
	CollectionLeads      = "leads"
	CollectionDeals      = "deals"
	CollectionActivities = "activities"
	CollectionLookups    = "lookups"
)

const indexTimeout = 30 * time.Second

// MongoRepository implements Repository on a MongoDB database.
type MongoRepository struct {
	leads      *mongo.Collection
	deals      *mongo.Collection
	activities *mongo.Collection
	lookups    *mongo.Collection
}

// New creates a repository over db.
func New(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		leads:      db.Collection(CollectionLeads),
		deals:      db.Collection(CollectionDeals),
		activities: db.Collection(CollectionActivities),
		lookups:    db.Collection(CollectionLookups),
	}
}

// EnsureIndexes creates the indexes the pipeline queries rely on. The
// lookup index is unique so concurrent first use of a label converges.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()

	specs := []struct {
		col    *mongo.Collection
		models []mongo.IndexModel
	}{
		{r.leads, []mongo.IndexModel{
			{Keys: bson.D{{Key: "stage", Value: 1}}},
			{Keys: bson.D{{Key: "lastActivityAt", Value: 1}}},
		}},
		{r.deals, []mongo.IndexModel{
			{Keys: bson.D{{Key: "stage", Value: 1}, {Key: "stageChangedAt", Value: 1}}},
			{Keys: bson.D{{Key: "lastActivityAt", Value: 1}}},
			{Keys: bson.D{{Key: "leadIds", Value: 1}}},
		}},
		{r.activities, []mongo.IndexModel{
			{Keys: bson.D{{Key: "entityType", Value: 1}, {Key: "entityId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "entityType", Value: 1}, {Key: "status", Value: 1}}},
		}},
		{r.lookups, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "category", Value: 1}, {Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
	}

	for _, spec := range specs {
		if _, err := spec.col.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.col.Name(), err)
		}
	}
	return nil
}

func (r *MongoRepository) collectionFor(kind domain.EntityKind) (*mongo.Collection, error) {
	switch kind {
	case domain.EntityLead:
		return r.leads, nil
	case domain.EntityDeal:
		return r.deals, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

var _ Repository = (*MongoRepository)(nil)
