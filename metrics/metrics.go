// Package metrics exposes the prometheus instruments shared across the
// dispatcher and the background workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundActivities counts dispatched inbound activities by type.
	InboundActivities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedipoint_inbound_activities_total",
		Help: "Inbound federation activities dispatched, by activity type.",
	}, []string{"type"})

	// RefollowSends counts Follow requests sent by the re-follow
	// controller, by outcome.
	RefollowSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedipoint_refollow_sends_total",
		Help: "Follow requests sent by the re-follow controller, by outcome.",
	}, []string{"outcome"})

	// PreviewFetches counts link preview fetch attempts, by outcome.
	PreviewFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedipoint_link_preview_fetches_total",
		Help: "Link preview fetch attempts, by outcome.",
	}, []string{"outcome"})

	// TimelineTrimmed counts timeline items removed by the retention job.
	TimelineTrimmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fedipoint_timeline_items_trimmed_total",
		Help: "Timeline items removed by the retention job.",
	})
)
