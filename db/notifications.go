package db

import (
	"context"

	"github.com/rmdes/fedipoint/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NotificationStore holds the local actor's notification feed, keyed by
// the triggering activity id.
type NotificationStore struct {
	col *mongo.Collection
}

// Append stores a notification once. A redelivered activity carries the
// same uid and lands on the existing document without touching it.
func (s *NotificationStore) Append(ctx context.Context, n *domain.Notification) error {
	filter := bson.M{"uid": n.UID}
	update := bson.M{"$setOnInsert": bson.M{
		"uid":          n.UID,
		"type":         n.Type,
		"actor_url":    n.ActorURL,
		"actor_name":   n.ActorName,
		"actor_photo":  n.ActorPhoto,
		"actor_handle": n.ActorHandle,
		"target_url":   n.TargetURL,
		"content":      n.Content,
		"published":    n.Published,
		"created_at":   n.CreatedAt,
	}}
	_, err := s.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Recent returns the newest notifications first.
func (s *NotificationStore) Recent(ctx context.Context, limit int64) ([]domain.Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)
	cur, err := s.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var ns []domain.Notification
	if err := cur.All(ctx, &ns); err != nil {
		return nil, err
	}
	return ns, nil
}
