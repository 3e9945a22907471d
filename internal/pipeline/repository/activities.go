package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estate_crm_backend/internal/pipeline/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (r *MongoRepository) ListCompletedActivities(ctx context.Context, kind domain.EntityKind, id bson.ObjectID, since time.Time) ([]Activity, error) {
	filter := bson.D{
		{Key: "entityType", Value: string(kind)},
		{Key: "entityId", Value: id},
		{Key: "status", Value: ActivityStatusCompleted},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "completedAt", Value: bson.D{{Key: "$gte", Value: since}}}},
			bson.D{
				{Key: "completedAt", Value: nil},
				{Key: "createdAt", Value: bson.D{{Key: "$gte", Value: since}}},
			},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return r.findActivities(ctx, filter, opts)
}

func (r *MongoRepository) ListCompletedActivitiesByKind(ctx context.Context, kind domain.EntityKind) (map[bson.ObjectID][]Activity, error) {
	filter := bson.D{
		{Key: "entityType", Value: string(kind)},
		{Key: "status", Value: ActivityStatusCompleted},
	}
	opts := options.Find().SetProjection(bson.D{
		{Key: "entityType", Value: 1},
		{Key: "entityId", Value: 1},
		{Key: "type", Value: 1},
		{Key: "purpose", Value: 1},
		{Key: "outcome", Value: 1},
		{Key: "status", Value: 1},
		{Key: "completedAt", Value: 1},
		{Key: "createdAt", Value: 1},
	})
	list, err := r.findActivities(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	grouped := make(map[bson.ObjectID][]Activity)
	for _, a := range list {
		grouped[a.EntityID] = append(grouped[a.EntityID], a)
	}
	return grouped, nil
}

func (r *MongoRepository) LatestActivity(ctx context.Context, kind domain.EntityKind, id bson.ObjectID) (*Activity, error) {
	filter := bson.D{
		{Key: "entityType", Value: string(kind)},
		{Key: "entityId", Value: id},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var doc activityDocument
	err := r.activities.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest activity: %w", err)
	}
	a := doc.toActivity()
	return &a, nil
}

func (r *MongoRepository) findActivities(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]Activity, error) {
	cursor, err := r.activities.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find activities: %w", err)
	}
	var docs []activityDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}
	out := make([]Activity, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toActivity())
	}
	return out, nil
}
