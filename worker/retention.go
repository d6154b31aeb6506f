package worker

import (
	"context"
	"time"

	"github.com/rmdes/fedipoint/metrics"
	"github.com/rs/zerolog/log"
)

// RetentionTimeline is the slice of the timeline store the job trims.
type RetentionTimeline interface {
	Count(ctx context.Context) (int64, error)
	UIDsBeyond(ctx context.Context, keep int64) ([]string, error)
	DeleteUIDs(ctx context.Context, uids []string) (int64, error)
}

// RetentionInteractions cascades removal of interaction records whose
// object was trimmed.
type RetentionInteractions interface {
	DeleteForObjects(ctx context.Context, objectURLs []string) (int64, error)
}

// RetentionJob keeps the timeline at or below a configured size ceiling.
type RetentionJob struct {
	timeline     RetentionTimeline
	interactions RetentionInteractions
	max          int64
	interval     time.Duration
}

func NewRetentionJob(timeline RetentionTimeline, interactions RetentionInteractions, max int64, interval time.Duration) *RetentionJob {
	return &RetentionJob{
		timeline:     timeline,
		interactions: interactions,
		max:          max,
		interval:     interval,
	}
}

// Start runs one trim immediately and then on every interval tick until
// the context is done.
func (j *RetentionJob) Start(ctx context.Context) {
	go func() {
		if err := j.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("retention: trim failed")
		}
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := j.RunOnce(ctx); err != nil {
					log.Error().Err(err).Msg("retention: trim failed")
				}
			}
		}
	}()
}

// RunOnce trims the timeline to the ceiling. The exact removal set comes
// from a server-side sort-and-skip, so concurrent inserts during the trim
// cannot push the count below the ceiling.
func (j *RetentionJob) RunOnce(ctx context.Context) error {
	count, err := j.timeline.Count(ctx)
	if err != nil {
		return err
	}
	if count <= j.max {
		return nil
	}

	uids, err := j.timeline.UIDsBeyond(ctx, j.max)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	deleted, err := j.timeline.DeleteUIDs(ctx, uids)
	if err != nil {
		return err
	}
	metrics.TimelineTrimmed.Add(float64(deleted))

	cascaded, err := j.interactions.DeleteForObjects(ctx, uids)
	if err != nil {
		return err
	}

	log.Info().
		Int64("deleted", deleted).
		Int64("interactions", cascaded).
		Int64("ceiling", j.max).
		Msg("retention: timeline trimmed")
	return nil
}
