package activitypub

import (
	"encoding/json"
	"strings"
	"time"
)

// Activity types handled by the dispatcher.
const (
	TypeFollow   = "Follow"
	TypeUndo     = "Undo"
	TypeAccept   = "Accept"
	TypeReject   = "Reject"
	TypeLike     = "Like"
	TypeAnnounce = "Announce"
	TypeCreate   = "Create"
	TypeDelete   = "Delete"
	TypeMove     = "Move"
	TypeUpdate   = "Update"
	TypeBlock    = "Block"
	TypeAdd      = "Add"
	TypeRemove   = "Remove"
)

// IRI is an object reference that arrives on the wire either as a plain
// string or as an embedded object carrying an id.
type IRI string

func (i *IRI) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = IRI(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*i = IRI(obj.ID)
	return nil
}

func (i IRI) String() string { return string(i) }

// Activity is a decoded federation event. Object stays raw because its
// shape depends on the activity type: a bare IRI, a full object, or a
// nested activity (Undo, Accept, Reject).
type Activity struct {
	Context interface{}     `json:"@context,omitempty"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   IRI             `json:"actor"`
	Object  json.RawMessage `json:"object,omitempty"`
	Target  IRI             `json:"target,omitempty"`
}

// ObjectIRI returns the id of the activity's object, whether the object
// is a bare IRI or an embedded document.
func (a *Activity) ObjectIRI() string {
	if len(a.Object) == 0 {
		return ""
	}
	var iri IRI
	if err := json.Unmarshal(a.Object, &iri); err != nil {
		return ""
	}
	return string(iri)
}

// InnerActivity decodes the object as a nested activity. Undo, Accept and
// Reject wrap the activity being undone or answered.
func (a *Activity) InnerActivity() (*Activity, bool) {
	if len(a.Object) == 0 {
		return nil, false
	}
	var inner Activity
	if err := json.Unmarshal(a.Object, &inner); err != nil {
		return nil, false
	}
	if inner.Type == "" && inner.ID == "" {
		return nil, false
	}
	return &inner, true
}

// EmbeddedObject decodes the object as a full document. Returns false
// when the object is a bare IRI or absent.
func (a *Activity) EmbeddedObject() (*Object, bool) {
	if len(a.Object) == 0 {
		return nil, false
	}
	var obj Object
	if err := json.Unmarshal(a.Object, &obj); err != nil {
		return nil, false
	}
	if obj.Type == "" {
		return nil, false
	}
	return &obj, true
}

// Tag is a hashtag or mention entry in an object's tag list.
type Tag struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Href string `json:"href,omitempty"`
}

// Image is a remote media reference, used for actor avatars.
type Image struct {
	URL string `json:"url"`
}

// Object is a remote content document: a Note, Article, Tombstone, or a
// Person profile carried inside an Update.
type Object struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	AttributedTo      IRI    `json:"attributedTo,omitempty"`
	Content           string `json:"content,omitempty"`
	Name              string `json:"name,omitempty"`
	Summary           string `json:"summary,omitempty"`
	Published         string `json:"published,omitempty"`
	InReplyTo         IRI    `json:"inReplyTo,omitempty"`
	Sensitive         bool   `json:"sensitive,omitempty"`
	Tag               []Tag  `json:"tag,omitempty"`
	PreferredUsername string `json:"preferredUsername,omitempty"`
	Icon              *Image `json:"icon,omitempty"`
}

// PublishedTime parses the object's published stamp, falling back to now
// when it is absent or malformed.
func (o *Object) PublishedTime() time.Time {
	if o.Published != "" {
		if t, err := time.Parse(time.RFC3339, o.Published); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// Actor is a dereferenced remote actor profile.
type Actor struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name,omitempty"`
	Icon              *Image `json:"icon,omitempty"`
	Inbox             string `json:"inbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox,omitempty"`
	} `json:"endpoints,omitempty"`
}

// Handle derives the @user@host form from the actor's id and username.
func (a *Actor) Handle() string {
	if a.PreferredUsername == "" {
		return ""
	}
	host := a.ID
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	if host == "" {
		return "@" + a.PreferredUsername
	}
	return "@" + a.PreferredUsername + "@" + host
}

// AvatarURL returns the actor's icon URL, if any.
func (a *Actor) AvatarURL() string {
	if a.Icon == nil {
		return ""
	}
	return a.Icon.URL
}
