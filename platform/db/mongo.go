// Package db provides database connection infrastructure.
// This is part of the platform layer and contains no business logic.
package db

import (
	"context"
	"fmt"
	"time"

	"estate_crm_backend/platform/config"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const connectTimeout = 10 * time.Second

// Connect opens a MongoDB client, verifies it with a ping and returns the
// configured database handle.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().
		ApplyURI(cfg.GetMongoURI()).
		SetMaxPoolSize(25).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Minute).
		SetConnectTimeout(connectTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client, client.Database(cfg.GetMongoDatabase()), nil
}

// PingAdapter exposes the client as a readiness check.
type PingAdapter struct {
	client *mongo.Client
}

// NewPingAdapter wraps client for the HTTP health endpoint.
func NewPingAdapter(client *mongo.Client) *PingAdapter {
	return &PingAdapter{client: client}
}

func (p *PingAdapter) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}
