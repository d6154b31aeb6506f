package activitypub

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rmdes/fedipoint/domain"
)

var (
	htmlPolicy = bluemonday.UGCPolicy()
	textPolicy = bluemonday.StrictPolicy()
)

// SanitizeHTML strips scripts, event handlers and anything else outside
// the user-generated-content allow-list.
func SanitizeHTML(raw string) string {
	return htmlPolicy.Sanitize(raw)
}

// ExtractText reduces markup to plain text.
func ExtractText(raw string) string {
	return strings.TrimSpace(textPolicy.Sanitize(raw))
}

// itemContent builds both renditions of a post body from raw remote HTML.
func itemContent(raw string) domain.ItemContent {
	return domain.ItemContent{
		Text: ExtractText(raw),
		HTML: SanitizeHTML(raw),
	}
}

// splitTags partitions an object's tag list into hashtag categories
// (leading # stripped) and structured mentions. Entries without a usable
// type fall back to the name prefix.
func splitTags(tags []Tag) ([]string, []domain.Mention) {
	var categories []string
	var mentions []domain.Mention
	for _, tag := range tags {
		switch {
		case tag.Type == "Mention" || strings.HasPrefix(tag.Name, "@"):
			if tag.Name == "" && tag.Href == "" {
				continue
			}
			mentions = append(mentions, domain.Mention{Name: tag.Name, URL: tag.Href})
		case tag.Type == "Hashtag" || strings.HasPrefix(tag.Name, "#"):
			name := strings.TrimPrefix(tag.Name, "#")
			if name != "" {
				categories = append(categories, name)
			}
		}
	}
	return categories, mentions
}

// timelineItem normalizes a remote post into a timeline document. The
// boost provenance fields stay empty here; the Announce handler fills
// them in.
func timelineItem(obj *Object, author string) *domain.TimelineItem {
	categories, mentions := splitTags(obj.Tag)
	return &domain.TimelineItem{
		UID:       obj.ID,
		Author:    author,
		Name:      obj.Name,
		Summary:   ExtractText(obj.Summary),
		Sensitive: obj.Sensitive,
		Content:   itemContent(obj.Content),
		Published: obj.PublishedTime(),
		Category:  categories,
		Mentions:  mentions,
	}
}

// mentionsActor reports whether the object's tag list mentions the given
// actor IRI.
func mentionsActor(obj *Object, actorIRI string) bool {
	for _, tag := range obj.Tag {
		if tag.Type == "Mention" && tag.Href == actorIRI {
			return true
		}
	}
	return false
}

// ownsObject reports whether an object URL belongs to the local actor's
// site.
func ownsObject(objectURL, publicURL string) bool {
	if publicURL == "" || objectURL == "" {
		return false
	}
	return strings.HasPrefix(objectURL, strings.TrimSuffix(publicURL, "/")+"/") ||
		objectURL == strings.TrimSuffix(publicURL, "/")
}
