package domain

import "time"

// ItemContent holds both renditions of a post body. HTML is sanitized at
// the extraction boundary; Text is the tag-stripped form.
type ItemContent struct {
	Text string `bson:"text" json:"text"`
	HTML string `bson:"html" json:"html"`
}

// Mention is a structured @-reference found in a post's tag list.
type Mention struct {
	Name string `bson:"name" json:"name"`
	URL  string `bson:"url,omitempty" json:"url,omitempty"`
}

// LinkPreview is fetched page metadata for an external link in a post.
type LinkPreview struct {
	URL         string `bson:"url" json:"url"`
	Domain      string `bson:"domain" json:"domain"`
	Title       string `bson:"title,omitempty" json:"title,omitempty"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	Image       string `bson:"image,omitempty" json:"image,omitempty"`
	Favicon     string `bson:"favicon,omitempty" json:"favicon,omitempty"`
}

// TimelineItem is a normalized copy of a remote post, keyed by the remote
// object's own URL so retried delivery deduplicates naturally.
type TimelineItem struct {
	UID          string        `bson:"uid" json:"uid"`
	Author       string        `bson:"author" json:"author"`
	Name         string        `bson:"name,omitempty" json:"name,omitempty"`
	Summary      string        `bson:"summary,omitempty" json:"summary,omitempty"`
	Sensitive    bool          `bson:"sensitive,omitempty" json:"sensitive,omitempty"`
	Content      ItemContent   `bson:"content" json:"content"`
	Published    time.Time     `bson:"published" json:"published"`
	Category     []string      `bson:"category,omitempty" json:"category,omitempty"`
	Mentions     []Mention     `bson:"mentions,omitempty" json:"mentions,omitempty"`
	BoostedBy    string        `bson:"boosted_by,omitempty" json:"boostedBy,omitempty"`
	BoostedAt    *time.Time    `bson:"boosted_at,omitempty" json:"boostedAt,omitempty"`
	LinkPreviews []LinkPreview `bson:"link_previews,omitempty" json:"linkPreviews,omitempty"`
}
