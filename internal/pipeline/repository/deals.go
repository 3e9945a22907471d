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

var dealListProjection = bson.D{
	{Key: "title", Value: 1},
	{Key: "stage", Value: 1},
	{Key: "stageChangedAt", Value: 1},
	{Key: "stageHistory", Value: 1},
	{Key: "lastActivityAt", Value: 1},
	{Key: "probability", Value: 1},
	{Key: "isClosed", Value: 1},
	{Key: "leadIds", Value: 1},
	{Key: "createdAt", Value: 1},
}

func (r *MongoRepository) GetDeal(ctx context.Context, id bson.ObjectID) (Deal, error) {
	var doc dealDocument
	err := r.deals.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Deal{}, ErrNotFound
	}
	if err != nil {
		return Deal{}, fmt.Errorf("find deal: %w", err)
	}
	return doc.toDeal(), nil
}

func (r *MongoRepository) ListDeals(ctx context.Context) ([]Deal, error) {
	return r.findDeals(ctx, bson.D{})
}

func (r *MongoRepository) ListDealsByLead(ctx context.Context, leadID bson.ObjectID) ([]Deal, error) {
	return r.findDeals(ctx, bson.D{{Key: "leadIds", Value: leadID}})
}

func (r *MongoRepository) ListNegotiationDealsBefore(ctx context.Context, cutoff time.Time) ([]Deal, error) {
	return r.findDeals(ctx, negotiationDealsFilter(cutoff))
}

func (r *MongoRepository) ListInactiveDeals(ctx context.Context, cutoff time.Time, excludedStages []string) ([]Deal, error) {
	return r.findDeals(ctx, inactiveDealsFilter(cutoff, excludedStages))
}

func (r *MongoRepository) findDeals(ctx context.Context, filter bson.D) ([]Deal, error) {
	opts := options.Find().
		SetProjection(dealListProjection).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.deals.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find deals: %w", err)
	}
	var docs []dealDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode deals: %w", err)
	}
	out := make([]Deal, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDeal())
	}
	return out, nil
}
