package db

import (
	"context"

	"github.com/rmdes/fedipoint/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FollowerStore holds remote actors following the local actor.
type FollowerStore struct {
	col *mongo.Collection
}

// Upsert creates or refreshes a follower keyed by actor URL. Redelivered
// Follow activities land on the same document.
func (s *FollowerStore) Upsert(ctx context.Context, f *domain.Follower) error {
	filter := bson.M{"actor_url": f.ActorURL}
	update := bson.M{
		"$set": bson.M{
			"handle":       f.Handle,
			"name":         f.Name,
			"avatar":       f.Avatar,
			"inbox":        f.Inbox,
			"shared_inbox": f.SharedInbox,
		},
		"$setOnInsert": bson.M{
			"actor_url":   f.ActorURL,
			"followed_at": f.FollowedAt,
		},
	}
	_, err := s.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Delete removes the follower row, if any. Missing rows are not an error.
func (s *FollowerStore) Delete(ctx context.Context, actorURL string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"actor_url": actorURL})
	return err
}

// Retarget moves a follower to a new actor URL after an inbound Move,
// recording where it came from.
func (s *FollowerStore) Retarget(ctx context.Context, oldURL, newURL string) error {
	update := bson.M{"$set": bson.M{
		"actor_url":  newURL,
		"moved_from": oldURL,
	}}
	_, err := s.col.UpdateOne(ctx, bson.M{"actor_url": oldURL}, update)
	return err
}

// PatchProfile updates display fields of an existing follower. It never
// creates a row: a profile update from a non-follower is dropped.
func (s *FollowerStore) PatchProfile(ctx context.Context, actorURL, name, handle, avatar string) (bool, error) {
	set := bson.M{}
	if name != "" {
		set["name"] = name
	}
	if handle != "" {
		set["handle"] = handle
	}
	if avatar != "" {
		set["avatar"] = avatar
	}
	if len(set) == 0 {
		return false, nil
	}
	res, err := s.col.UpdateOne(ctx, bson.M{"actor_url": actorURL}, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// Count returns the number of followers.
func (s *FollowerStore) Count(ctx context.Context) (int64, error) {
	return s.col.CountDocuments(ctx, bson.M{})
}
