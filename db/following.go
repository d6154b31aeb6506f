package db

import (
	"context"
	"time"

	"github.com/rmdes/fedipoint/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FollowingStore holds accounts the local actor follows or wants to
// follow. The source field tracks where the relationship came from and
// doubles as the pending marker for Accept/Reject correlation.
type FollowingStore struct {
	col *mongo.Collection
}

// IsFollowing reports whether the actor is an accepted follow target.
func (s *FollowingStore) IsFollowing(ctx context.Context, actorURL string) (bool, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{
		"actor_url": actorURL,
		"source":    domain.SourceFederation,
	})
	return n > 0, err
}

// acceptedUpdate builds the transition to an accepted federation follow.
// All repair-loop bookkeeping is removed along with the pending tag.
func acceptedUpdate(now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"source":      domain.SourceFederation,
			"accepted_at": now,
		},
		"$unset": bson.M{
			"refollow_attempts":     "",
			"refollow_error":        "",
			"refollow_last_attempt": "",
		},
	}
}

// MarkAccepted promotes the pending follow for this actor to an accepted
// federation follow. Accept activities carry no correlation id we can
// trust, so the match is actor URL plus a pending source tag. Returns
// false when nothing was pending, which a redelivered Accept will hit.
func (s *FollowingStore) MarkAccepted(ctx context.Context, actorURL string) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{
			"actor_url": actorURL,
			"source":    bson.M{"$in": domain.PendingSources},
		},
		acceptedUpdate(time.Now().UTC()),
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// MarkRejected tags the pending follow for this actor as rejected so the
// re-follow pass skips it. Returns false when nothing was pending.
func (s *FollowingStore) MarkRejected(ctx context.Context, actorURL string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.col.UpdateOne(ctx,
		bson.M{
			"actor_url": actorURL,
			"source":    bson.M{"$in": domain.PendingSources},
		},
		bson.M{"$set": bson.M{
			"source":      domain.SourceRejected,
			"rejected_at": now,
		}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// Pending returns follow targets that still need a (re-)follow request,
// oldest first so the batch controller walks them in a stable order.
func (s *FollowingStore) Pending(ctx context.Context, sources []string) ([]domain.FollowingTarget, error) {
	opts := options.Find().SetSort(bson.D{{Key: "followed_at", Value: 1}})
	cur, err := s.col.Find(ctx, bson.M{"source": bson.M{"$in": sources}}, opts)
	if err != nil {
		return nil, err
	}
	var targets []domain.FollowingTarget
	if err := cur.All(ctx, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// MarkFollowSent records that a Follow request went out for this target.
func (s *FollowingStore) MarkFollowSent(ctx context.Context, actorURL string) error {
	now := time.Now().UTC()
	_, err := s.col.UpdateOne(ctx,
		bson.M{"actor_url": actorURL},
		bson.M{
			"$set": bson.M{
				"source":                domain.SourceRefollowSent,
				"refollow_last_attempt": now,
			},
			"$inc":   bson.M{"refollow_attempts": 1},
			"$unset": bson.M{"refollow_error": ""},
		},
	)
	return err
}

// RecordFailure stores the last send error without changing the source
// tag, so the target stays eligible for the next pass.
func (s *FollowingStore) RecordFailure(ctx context.Context, actorURL string, sendErr error) error {
	now := time.Now().UTC()
	_, err := s.col.UpdateOne(ctx,
		bson.M{"actor_url": actorURL},
		bson.M{
			"$set": bson.M{
				"refollow_error":        sendErr.Error(),
				"refollow_last_attempt": now,
			},
			"$inc": bson.M{"refollow_attempts": 1},
		},
	)
	return err
}

// Upsert creates or refreshes a follow target keyed by actor URL.
func (s *FollowingStore) Upsert(ctx context.Context, t *domain.FollowingTarget) error {
	filter := bson.M{"actor_url": t.ActorURL}
	update := bson.M{
		"$set": bson.M{
			"name":   t.Name,
			"handle": t.Handle,
			"source": t.Source,
		},
		"$setOnInsert": bson.M{
			"actor_url":   t.ActorURL,
			"followed_at": t.FollowedAt,
		},
	}
	_, err := s.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Delete removes a follow target.
func (s *FollowingStore) Delete(ctx context.Context, actorURL string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"actor_url": actorURL})
	return err
}
