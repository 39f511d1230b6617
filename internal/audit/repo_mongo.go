package audit

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "audit_events"

// MongoRepo stores audit events in a MongoDB collection.
type MongoRepo struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

func NewMongoRepo(logger *slog.Logger, db *mongo.Database) *MongoRepo {
	return &MongoRepo{coll: db.Collection(CollectionName), logger: logger}
}

// EnsureIndexes creates the indexes List relies on.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

func (r *MongoRepo) Append(ctx context.Context, e Event) error {
	if _, err := r.coll.InsertOne(ctx, e); err != nil {
		r.logger.Error("audit insert failed", "event_id", e.ID, "type", string(e.Type), "error", err)
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *MongoRepo) List(ctx context.Context, f Filter) ([]Event, error) {
	filter := bson.M{}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.AccountID != 0 {
		filter["account_id"] = f.AccountID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(f.limit()))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find audit events: %w", err)
	}
	defer cur.Close(ctx)

	var out []Event
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	return out, nil
}
