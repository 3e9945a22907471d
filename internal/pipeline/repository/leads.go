package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// leadListProjection keeps bulk reads small; scoring and density never
// need names or the full history.
var leadListProjection = bson.D{
	{Key: "stage", Value: 1},
	{Key: "stageChangedAt", Value: 1},
	{Key: "lastActivityAt", Value: 1},
	{Key: "intentIndex", Value: 1},
	{Key: "createdAt", Value: 1},
}

func (r *MongoRepository) GetLead(ctx context.Context, id bson.ObjectID) (Lead, error) {
	var doc leadDocument
	err := r.leads.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("find lead: %w", err)
	}
	return doc.toLead(), nil
}

func (r *MongoRepository) ListLeads(ctx context.Context) ([]Lead, error) {
	opts := options.Find().SetProjection(leadListProjection)
	return r.findLeads(ctx, bson.D{}, opts)
}

func (r *MongoRepository) ListLeadsByIDs(ctx context.Context, ids []bson.ObjectID) ([]Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	return r.findLeads(ctx, filter, options.Find().SetProjection(leadListProjection))
}

func (r *MongoRepository) findLeads(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]Lead, error) {
	cursor, err := r.leads.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	var docs []leadDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode leads: %w", err)
	}
	out := make([]Lead, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toLead())
	}
	return out, nil
}

func (r *MongoRepository) LeadStageGroups(ctx context.Context, now time.Time) ([]StageGroup, error) {
	cursor, err := r.leads.Aggregate(ctx, stageGroupsPipeline(now))
	if err != nil {
		return nil, fmt.Errorf("aggregate lead stages: %w", err)
	}
	var docs []stageGroupDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode lead stages: %w", err)
	}
	out := make([]StageGroup, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toStageGroup())
	}
	return out, nil
}

// ForEachLeadID streams lead ids in _id order. It stops at the first error
// returned by fn or when ctx is done.
func (r *MongoRepository) ForEachLeadID(ctx context.Context, fn func(id bson.ObjectID) error) error {
	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.leads.Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("find lead ids: %w", err)
	}
	defer func() { _ = cursor.Close(context.Background()) }()

	for cursor.Next(ctx) {
		var row struct {
			ID bson.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return fmt.Errorf("decode lead id: %w", err)
		}
		if err := fn(row.ID); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (r *MongoRepository) SetLeadLastActivity(ctx context.Context, id bson.ObjectID, at time.Time) error {
	res, err := r.leads.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "lastActivityAt", Value: at}}}},
	)
	if err != nil {
		return fmt.Errorf("update lead last activity: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
