package domain

import "time"

// NotificationType enumerates the derived events kept for the local actor.
const (
	NotificationFollow  = "follow"
	NotificationLike    = "like"
	NotificationBoost   = "boost"
	NotificationReply   = "reply"
	NotificationMention = "mention"
)

// Notification is a derived, recipient-facing record of an event concerning
// the local actor's own content or identity. Keyed by the remote activity
// id (or a composite key) so redelivery cannot duplicate it.
type Notification struct {
	UID         string    `bson:"uid" json:"uid"`
	Type        string    `bson:"type" json:"type"`
	ActorURL    string    `bson:"actor_url" json:"actorUrl"`
	ActorName   string    `bson:"actor_name,omitempty" json:"actorName,omitempty"`
	ActorPhoto  string    `bson:"actor_photo,omitempty" json:"actorPhoto,omitempty"`
	ActorHandle string    `bson:"actor_handle,omitempty" json:"actorHandle,omitempty"`
	TargetURL   string    `bson:"target_url,omitempty" json:"targetUrl,omitempty"`
	Content     string    `bson:"content,omitempty" json:"content,omitempty"`
	Published   time.Time `bson:"published" json:"published"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
}
