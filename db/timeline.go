package db

import (
	"context"
	"math"

	"github.com/rmdes/fedipoint/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TimelineStore holds remote posts shown on the reader timeline, keyed by
// the remote object URL (uid).
type TimelineStore struct {
	col *mongo.Collection
}

// upsertUpdate builds the update document for Upsert. Boost provenance is
// written only when present, so a redelivered plain Create cannot erase
// what an earlier Announce recorded.
func upsertUpdate(item *domain.TimelineItem) bson.M {
	set := bson.M{
		"author":    item.Author,
		"name":      item.Name,
		"summary":   item.Summary,
		"sensitive": item.Sensitive,
		"content":   item.Content,
		"published": item.Published,
		"category":  item.Category,
		"mentions":  item.Mentions,
	}
	if item.BoostedBy != "" {
		set["boosted_by"] = item.BoostedBy
		set["boosted_at"] = item.BoostedAt
	}
	return bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"uid":           item.UID,
			"link_previews": item.LinkPreviews,
		},
	}
}

// Upsert creates or refreshes a timeline item. Link previews are filled
// in asynchronously after the item lands, so redeliveries must not wipe
// them: the previews field is only written on insert.
func (s *TimelineStore) Upsert(ctx context.Context, item *domain.TimelineItem) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"uid": item.UID}, upsertUpdate(item),
		options.Update().SetUpsert(true))
	return err
}

// UpdateContent replaces the editable fields of an existing item after an
// inbound Update. Items we never stored are not created. Returns whether
// a stored item matched.
func (s *TimelineStore) UpdateContent(ctx context.Context, uid string, content domain.ItemContent, name, summary string, sensitive bool) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"uid": uid},
		bson.M{"$set": bson.M{
			"content":   content,
			"name":      name,
			"summary":   summary,
			"sensitive": sensitive,
		}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// SetLinkPreviews attaches fetched previews to a stored item.
func (s *TimelineStore) SetLinkPreviews(ctx context.Context, uid string, previews []domain.LinkPreview) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"uid": uid},
		bson.M{"$set": bson.M{"link_previews": previews}},
	)
	return err
}

// Delete removes the item with the given uid, if present.
func (s *TimelineStore) Delete(ctx context.Context, uid string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"uid": uid})
	return err
}

// Count returns the number of timeline items.
func (s *TimelineStore) Count(ctx context.Context) (int64, error) {
	return s.col.CountDocuments(ctx, bson.M{})
}

// Recent returns the newest items, most recently published first.
func (s *TimelineStore) Recent(ctx context.Context, limit int64) ([]domain.TimelineItem, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "published", Value: -1}}).
		SetLimit(limit)
	cur, err := s.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var items []domain.TimelineItem
	if err := cur.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// UIDsBeyond returns the uids of all items older than the newest keep
// items, ordered newest first. The aggregate keeps the sort and skip on
// the server so retention never pages the whole timeline through memory.
func (s *TimelineStore) UIDsBeyond(ctx context.Context, keep int64) ([]string, error) {
	if keep < 0 || keep > math.MaxInt32 {
		keep = math.MaxInt32
	}
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "published", Value: -1}}}},
		{{Key: "$skip", Value: keep}},
		{{Key: "$project", Value: bson.D{{Key: "uid", Value: 1}}}},
	}
	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		UID string `bson:"uid"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(rows))
	for _, r := range rows {
		uids = append(uids, r.UID)
	}
	return uids, nil
}

// DeleteUIDs removes all items whose uid is in the given set and returns
// the number removed.
func (s *TimelineStore) DeleteUIDs(ctx context.Context, uids []string) (int64, error) {
	if len(uids) == 0 {
		return 0, nil
	}
	res, err := s.col.DeleteMany(ctx, bson.M{"uid": bson.M{"$in": uids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
