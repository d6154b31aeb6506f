package web

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/feeds"
	"github.com/rmdes/fedipoint/util"
)

const feedSize = 50

// TimelineRSS renders the newest timeline items as an RSS document.
func TimelineRSS(ctx context.Context, conf *util.AppConfig, timeline TimelineReader) (string, error) {
	items, err := timeline.Recent(ctx, feedSize)
	if err != nil {
		return "", fmt.Errorf("failed to read timeline: %w", err)
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s timeline", conf.Conf.ActorHandle),
		Link:        &feeds.Link{Href: conf.Conf.PublicURL + "/feed"},
		Description: "posts from followed accounts",
		Created:     time.Now(),
	}

	for _, item := range items {
		title := item.Name
		if title == "" {
			title = item.Published.Format(time.RFC1123)
		}
		entry := &feeds.Item{
			Id:      item.UID,
			Title:   title,
			Link:    &feeds.Link{Href: item.UID},
			Content: item.Content.HTML,
			Author:  &feeds.Author{Name: item.Author},
			Created: item.Published,
		}
		if item.BoostedBy != "" {
			entry.Description = fmt.Sprintf("boosted by %s", item.BoostedBy)
		}
		feed.Items = append(feed.Items, entry)
	}

	return feed.ToRss()
}
