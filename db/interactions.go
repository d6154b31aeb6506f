package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// InteractionStore tracks which remote objects the local actor has liked
// or boosted. Rows are written by the outbound publishing path; this core
// only reads and removes them.
type InteractionStore struct {
	col *mongo.Collection
}

// Delete removes the interaction of the given type on an object. Missing
// rows are fine, an Undo may race a retraction.
func (s *InteractionStore) Delete(ctx context.Context, typ, objectURL string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"type": typ, "object_url": objectURL})
	return err
}

// DeleteForObjects removes every interaction touching any of the given
// object URLs. Used when timeline items are retired.
func (s *InteractionStore) DeleteForObjects(ctx context.Context, objectURLs []string) (int64, error) {
	if len(objectURLs) == 0 {
		return 0, nil
	}
	res, err := s.col.DeleteMany(ctx, bson.M{"object_url": bson.M{"$in": objectURLs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
