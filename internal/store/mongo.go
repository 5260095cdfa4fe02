package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 5 * time.Second

// Mongo persists last-seen timestamps and missed-call notices. Last
// seen is one document per identity (upsert); missed calls are an
// append-only collection the chat service renders as a room notice.
type Mongo struct {
	client      *mongo.Client
	lastSeen    *mongo.Collection
	missedCalls *mongo.Collection
	logger      zerolog.Logger
}

// ConnectMongo dials the store and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri, database string, logger zerolog.Logger) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("realtime").
		SetConnectTimeout(mongoOpTimeout).
		SetMaxPoolSize(16)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	logger.Info().Str("database", database).Msg("Connected to durable store")

	return &Mongo{
		client:      client,
		lastSeen:    db.Collection("last_seen"),
		missedCalls: db.Collection("missed_calls"),
		logger:      logger,
	}, nil
}

// Close disconnects from the store.
func (m *Mongo) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// RecordLastSeen upserts the identity's last-seen timestamp.
func (m *Mongo) RecordLastSeen(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := m.lastSeen.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"user_id": userID, "last_seen_at": at}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("record last seen for %s: %w", userID, err)
	}
	return nil
}

// RecordMissedCall appends a missed-call notice for the order's chat.
func (m *Mongo) RecordMissedCall(ctx context.Context, orderID, callerName, callerRole string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := m.missedCalls.InsertOne(ctx, bson.M{
		"order_id":    orderID,
		"caller_name": callerName,
		"caller_role": callerRole,
		"missed_at":   at,
	})
	if err != nil {
		return fmt.Errorf("record missed call for order %s: %w", orderID, err)
	}
	return nil
}
