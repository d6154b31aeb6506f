package db

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rmdes/fedipoint/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// KVStore is a small flat key/value space for flags and cursors that do
// not deserve their own collection: migration markers, the re-follow
// pause flag and cursor, and similar.
type KVStore struct {
	col *mongo.Collection
}

// Key joins path segments into a namespaced key, e.g.
// Key("migration", "separate-mentions") -> "migration/separate-mentions".
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// Set writes the value under key, creating or replacing it.
func (s *KVStore) Set(ctx context.Context, key string, value interface{}) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{
			"value":      value,
			"updated_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

// Get decodes the value under key into out. Returns false when the key
// does not exist.
func (s *KVStore) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	var entry struct {
		Value bson.RawValue `bson:"value"`
	}
	err := s.col.FindOne(ctx, bson.M{"key": key}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := entry.Value.Unmarshal(out); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the key, if present.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"key": key})
	return err
}

// keyPrefixPattern anchors a literal prefix for $regex matching.
func keyPrefixPattern(prefix string) string {
	return "^" + regexp.QuoteMeta(prefix)
}

// List returns all entries whose key starts with the given prefix.
func (s *KVStore) List(ctx context.Context, prefix string) ([]domain.KVEntry, error) {
	filter := bson.M{"key": bson.M{"$regex": keyPrefixPattern(prefix)}}
	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var entries []domain.KVEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
