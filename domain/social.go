package domain

import "time"

// FollowSource tags how a FollowingTarget entered the following list and
// where it stands in the accept handshake.
const (
	SourceFederation     = "federation"
	SourceReader         = "reader"
	SourceMicrosubReader = "microsub-reader"
	SourceRefollowSent   = "refollow:sent"
	SourceRejected       = "rejected"
)

// PendingSources are the source tags of targets whose Follow was sent but
// never accepted. Accept/Reject correlation matches against these.
var PendingSources = []string{SourceReader, SourceMicrosubReader, SourceRefollowSent}

// Follower is a remote actor following the local actor, keyed by actor URL.
type Follower struct {
	ActorURL    string    `bson:"actor_url" json:"actorUrl"`
	Handle      string    `bson:"handle,omitempty" json:"handle,omitempty"`
	Name        string    `bson:"name,omitempty" json:"name,omitempty"`
	Avatar      string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Inbox       string    `bson:"inbox,omitempty" json:"inbox,omitempty"`
	SharedInbox string    `bson:"shared_inbox,omitempty" json:"sharedInbox,omitempty"`
	FollowedAt  time.Time `bson:"followed_at" json:"followedAt"`
	MovedFrom   string    `bson:"moved_from,omitempty" json:"movedFrom,omitempty"`
}

// FollowingTarget is a remote actor the local actor follows (or tried to),
// keyed by actor URL. The refollow fields are repair-loop bookkeeping and
// are cleared when the target transitions out of the pending set.
type FollowingTarget struct {
	ActorURL            string     `bson:"actor_url" json:"actorUrl"`
	Name                string     `bson:"name,omitempty" json:"name,omitempty"`
	Handle              string     `bson:"handle,omitempty" json:"handle,omitempty"`
	Source              string     `bson:"source" json:"source"`
	FollowedAt          time.Time  `bson:"followed_at" json:"followedAt"`
	AcceptedAt          *time.Time `bson:"accepted_at,omitempty" json:"acceptedAt,omitempty"`
	RejectedAt          *time.Time `bson:"rejected_at,omitempty" json:"rejectedAt,omitempty"`
	RefollowAttempts    int        `bson:"refollow_attempts,omitempty" json:"refollowAttempts,omitempty"`
	RefollowLastAttempt *time.Time `bson:"refollow_last_attempt,omitempty" json:"refollowLastAttempt,omitempty"`
	RefollowError       string     `bson:"refollow_error,omitempty" json:"refollowError,omitempty"`
}
