package db

import (
	"context"

	"github.com/rmdes/fedipoint/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ActivityLogStore keeps an append-only audit trail of processed
// activities.
type ActivityLogStore struct {
	col *mongo.Collection
}

// Append inserts a log entry. The log is not deduplicated: redeliveries
// show up as separate rows, which is useful when debugging federation.
func (s *ActivityLogStore) Append(ctx context.Context, e *domain.ActivityLogEntry) error {
	_, err := s.col.InsertOne(ctx, e)
	return err
}

// DeleteByObjectURL removes all log entries referencing an object. Used
// when honoring a remote Delete.
func (s *ActivityLogStore) DeleteByObjectURL(ctx context.Context, objectURL string) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"object_url": objectURL})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Recent returns the newest entries first.
func (s *ActivityLogStore) Recent(ctx context.Context, limit int64) ([]domain.ActivityLogEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "received_at", Value: -1}}).
		SetLimit(limit)
	cur, err := s.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var entries []domain.ActivityLogEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
