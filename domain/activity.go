package domain

import "time"

// Interaction types for activities the local actor has sent about remote
// objects. One record exists per (object URL, type) pair so an Undo can be
// constructed and idempotently removed.
const (
	InteractionLike  = "like"
	InteractionBoost = "boost"
)

// InteractionRecord tracks a like or boost sent by the local actor.
type InteractionRecord struct {
	ObjectURL  string    `bson:"object_url" json:"objectUrl"`
	Type       string    `bson:"type" json:"type"`
	ActivityID string    `bson:"activity_id,omitempty" json:"activityId,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"createdAt"`
}

// ActivityLogEntry is an append-only audit record of an inbound or
// outbound federation event, kept for operator visibility.
type ActivityLogEntry struct {
	Direction  string    `bson:"direction" json:"direction"`
	Type       string    `bson:"type" json:"type"`
	ActorURL   string    `bson:"actor_url" json:"actorUrl"`
	ActorName  string    `bson:"actor_name,omitempty" json:"actorName,omitempty"`
	ObjectURL  string    `bson:"object_url,omitempty" json:"objectUrl,omitempty"`
	TargetURL  string    `bson:"target_url,omitempty" json:"targetUrl,omitempty"`
	Content    string    `bson:"content,omitempty" json:"content,omitempty"`
	Summary    string    `bson:"summary" json:"summary"`
	ReceivedAt time.Time `bson:"received_at" json:"receivedAt"`
}
