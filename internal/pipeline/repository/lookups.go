package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (r *MongoRepository) GetLookup(ctx context.Context, id bson.ObjectID) (Lookup, error) {
	var doc lookupDocument
	err := r.lookups.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Lookup{}, ErrNotFound
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("find lookup: %w", err)
	}
	return doc.toLookup(), nil
}

// GetOrCreateLookup upserts on the case-folded label so the first caller
// fixes the label's display casing.
func (r *MongoRepository) GetOrCreateLookup(ctx context.Context, category, label string) (Lookup, error) {
	label = strings.TrimSpace(label)
	filter := bson.D{
		{Key: "category", Value: category},
		{Key: "key", Value: lookupKey(label)},
	}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "label", Value: label},
		{Key: "createdAt", Value: time.Now().UTC()},
	}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc lookupDocument
	err := r.lookups.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Lost the insert race; the winner's document is there now.
		err = r.lookups.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("upsert lookup: %w", err)
	}
	return doc.toLookup(), nil
}

func (r *MongoRepository) ListLookups(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]Lookup, error) {
	out := make(map[bson.ObjectID]Lookup, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := r.lookups.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, fmt.Errorf("find lookups: %w", err)
	}
	var docs []lookupDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode lookups: %w", err)
	}
	for _, d := range docs {
		out[d.ID] = d.toLookup()
	}
	return out, nil
}
