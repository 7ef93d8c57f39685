// Package docstore persists scraped entity documents in MongoDB,
// transparently splitting oversized sections across an overflow
// collection so no single document ever exceeds the server's size
// ceiling.
package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/logging"
)

// Store owns the MongoDB client and the two collections the engine
// writes to.
type Store struct {
	client   *mongo.Client
	entities *mongo.Collection
	overflow *mongo.Collection
	logger   *logging.Logger
}

// Connect establishes a MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, cfg *config.MongoConfig, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Global()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	logger.WithFields(map[string]interface{}{
		"database":   cfg.Database,
		"collection": cfg.Collection,
	}).Info("Connected to MongoDB")

	return &Store{
		client:   client,
		entities: db.Collection(cfg.Collection),
		overflow: db.Collection(cfg.OverflowCollection),
		logger:   logger,
	}, nil
}

// Ping verifies the connection is still live.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
