package repository

import (
	"context"
	"errors"
	"fmt"

	"estate_crm_backend/internal/pipeline/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (r *MongoRepository) GetHistory(ctx context.Context, kind domain.EntityKind, id bson.ObjectID) (domain.HistorySnapshot, error) {
	col, err := r.collectionFor(kind)
	if err != nil {
		return domain.HistorySnapshot{}, err
	}

	opts := options.FindOne().SetProjection(bson.D{
		{Key: "stage", Value: 1},
		{Key: "stageSyncReason", Value: 1},
		{Key: "stageChangedAt", Value: 1},
		{Key: "stageHistory", Value: 1},
		{Key: "createdAt", Value: 1},
	})
	var doc historyDocument
	err = col.FindOne(ctx, bson.D{{Key: "_id", Value: id}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.HistorySnapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.HistorySnapshot{}, fmt.Errorf("find %s history: %w", kind, err)
	}

	return doc.toSnapshot(kind), nil
}

// ApplyTransition writes the new history, stage and timestamps in one
// update conditioned on the history length the caller read.
func (r *MongoRepository) ApplyTransition(ctx context.Context, kind domain.EntityKind, id bson.ObjectID, update TransitionUpdate) error {
	col, err := r.collectionFor(kind)
	if err != nil {
		return err
	}

	res, err := col.UpdateOne(ctx, transitionFilter(id, update.ExpectedLen), transitionUpdate(update))
	if err != nil {
		return fmt.Errorf("apply %s transition: %w", kind, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := col.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("check %s exists: %w", kind, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}
