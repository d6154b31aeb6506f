package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rmdes/fedipoint/util"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names. Every document is keyed by a stable remote identity so
// all writes are idempotent single-document upserts.
const (
	colFollowers     = "followers"
	colFollowing     = "following"
	colTimeline      = "timeline"
	colNotifications = "notifications"
	colInteractions  = "interactions"
	colActivityLog   = "activity_log"
	colKV            = "kv"
)

// DB bundles the per-collection stores on top of one mongo database.
type DB struct {
	client *mongo.Client
	mdb    *mongo.Database

	Followers     *FollowerStore
	Following     *FollowingStore
	Timeline      *TimelineStore
	Notifications *NotificationStore
	Interactions  *InteractionStore
	Log           *ActivityLogStore
	KV            *KVStore
}

// Connect opens the mongo connection and builds the stores. Failure here
// is fatal to the process, there is no degraded mode without storage.
func Connect(ctx context.Context, conf *util.AppConfig) (*DB, error) {
	opts := options.Client().
		ApplyURI(conf.Conf.MongoURI).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb not reachable: %w", err)
	}

	mdb := client.Database(conf.Conf.MongoDB)
	db := &DB{
		client:        client,
		mdb:           mdb,
		Followers:     &FollowerStore{col: mdb.Collection(colFollowers)},
		Following:     &FollowingStore{col: mdb.Collection(colFollowing)},
		Timeline:      &TimelineStore{col: mdb.Collection(colTimeline)},
		Notifications: &NotificationStore{col: mdb.Collection(colNotifications)},
		Interactions:  &InteractionStore{col: mdb.Collection(colInteractions)},
		Log:           &ActivityLogStore{col: mdb.Collection(colActivityLog)},
		KV:            &KVStore{col: mdb.Collection(colKV)},
	}

	log.Info().Str("db", conf.Conf.MongoDB).Msg("db: connected")
	return db, nil
}

// Close disconnects the underlying client.
func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique identity indexes the upsert filters
// rely on. Safe to run on every start.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	indexes := []struct {
		col   *mongo.Collection
		model mongo.IndexModel
	}{
		{db.Followers.col, mongo.IndexModel{Keys: bson.D{{Key: "actor_url", Value: 1}}, Options: unique}},
		{db.Following.col, mongo.IndexModel{Keys: bson.D{{Key: "actor_url", Value: 1}}, Options: unique}},
		{db.Timeline.col, mongo.IndexModel{Keys: bson.D{{Key: "uid", Value: 1}}, Options: unique}},
		{db.Timeline.col, mongo.IndexModel{Keys: bson.D{{Key: "published", Value: -1}}}},
		{db.Notifications.col, mongo.IndexModel{Keys: bson.D{{Key: "uid", Value: 1}}, Options: unique}},
		{db.Interactions.col, mongo.IndexModel{Keys: bson.D{{Key: "object_url", Value: 1}, {Key: "type", Value: 1}}, Options: unique}},
		{db.Log.col, mongo.IndexModel{Keys: bson.D{{Key: "object_url", Value: 1}}}},
		{db.Log.col, mongo.IndexModel{Keys: bson.D{{Key: "received_at", Value: -1}}}},
		{db.KV.col, mongo.IndexModel{Keys: bson.D{{Key: "key", Value: 1}}, Options: unique}},
	}

	for _, idx := range indexes {
		if _, err := idx.col.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.col.Name(), err)
		}
	}
	return nil
}
