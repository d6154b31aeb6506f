package db

import (
	"context"
	"strings"
	"time"

	"github.com/rmdes/fedipoint/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// RunMigrations applies every one-shot data migration that has not run
// yet. Each migration is gated on a KV flag under migration/<name> so a
// restart never repeats completed work.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []struct {
		name string
		run  func(context.Context) (int64, error)
	}{
		{"separate-mentions", db.migrateSeparateMentions},
	}

	for _, m := range migrations {
		key := Key("migration", m.name)

		var flag domain.MigrationFlag
		found, err := db.KV.Get(ctx, key, &flag)
		if err != nil {
			return err
		}
		if found && flag.Completed {
			continue
		}

		updated, err := m.run(ctx)
		if err != nil {
			return err
		}
		flag = domain.MigrationFlag{
			Completed: true,
			Date:      time.Now().UTC(),
			Updated:   updated,
		}
		if err := db.KV.Set(ctx, key, flag); err != nil {
			return err
		}
		log.Info().Str("migration", m.name).Int64("updated", updated).Msg("db: migration applied")
	}
	return nil
}

// migrateSeparateMentions moves @-handle entries that older versions
// stored in the category list into the structured mentions field. The
// original tag carried no URL, so migrated mentions keep an empty one.
func (db *DB) migrateSeparateMentions(ctx context.Context) (int64, error) {
	cur, err := db.Timeline.col.Find(ctx, bson.M{"category.0": bson.M{"$exists": true}})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	var writes []mongo.WriteModel
	for cur.Next(ctx) {
		var item struct {
			UID      string           `bson:"uid"`
			Category []string         `bson:"category"`
			Mentions []domain.Mention `bson:"mentions"`
		}
		if err := cur.Decode(&item); err != nil {
			return 0, err
		}

		categories, mentions := splitMentionTags(item.Category)
		if len(mentions) == 0 {
			continue
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"uid": item.UID}).
			SetUpdate(bson.M{"$set": bson.M{
				"category": categories,
				"mentions": append(item.Mentions, mentions...),
			}}))
	}
	if err := cur.Err(); err != nil {
		return 0, err
	}
	if len(writes) == 0 {
		return 0, nil
	}

	res, err := db.Timeline.col.BulkWrite(ctx, writes)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// splitMentionTags partitions a legacy category list into real hashtag
// categories and @-handle mentions.
func splitMentionTags(tags []string) ([]string, []domain.Mention) {
	var categories []string
	var mentions []domain.Mention
	for _, tag := range tags {
		if strings.HasPrefix(tag, "@") {
			mentions = append(mentions, domain.Mention{Name: tag})
			continue
		}
		categories = append(categories, tag)
	}
	return categories, mentions
}
