package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rmdes/fedipoint/activitypub"
	"github.com/rmdes/fedipoint/domain"
	"github.com/rmdes/fedipoint/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// KV keys used by the controller. Both survive restarts so a deploy in
// the middle of a pass neither loses its place nor un-pauses itself.
const (
	kvRefollowPaused = "refollow/paused"
	kvRefollowCursor = "refollow/cursor"
)

// Controller states reported by Status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StatePaused  = "paused"
)

// RefollowStore is the slice of the following store the controller needs.
type RefollowStore interface {
	Pending(ctx context.Context, sources []string) ([]domain.FollowingTarget, error)
	MarkFollowSent(ctx context.Context, actorURL string) error
	RecordFailure(ctx context.Context, actorURL string, sendErr error) error
}

// FlagStore is the slice of the KV store the controller persists its
// pause flag and cursor to.
type FlagStore interface {
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string, out interface{}) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RefollowStatus is the admin-facing progress report.
type RefollowStatus struct {
	State     string `json:"state"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	LastError string `json:"lastError,omitempty"`
}

// RefollowController re-sends Follow requests to targets whose follow was
// never accepted, paced so remote inboxes are not hammered. One instance
// runs per deployment.
type RefollowController struct {
	store    RefollowStore
	kv       FlagStore
	engine   activitypub.Engine
	actorIRI string
	limiter  *rate.Limiter
	interval time.Duration

	mu        sync.Mutex
	state     string
	paused    bool
	processed int
	total     int
	lastError string
}

func NewRefollowController(store RefollowStore, kv FlagStore, engine activitypub.Engine, actorIRI string, delay, interval time.Duration) *RefollowController {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &RefollowController{
		store:    store,
		kv:       kv,
		engine:   engine,
		actorIRI: actorIRI,
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		state:    StateIdle,
	}
}

// Start restores the persisted pause flag and runs a pass now and then on
// every interval tick until the context is done.
func (c *RefollowController) Start(ctx context.Context) {
	var paused bool
	if found, err := c.kv.Get(ctx, kvRefollowPaused, &paused); err != nil {
		log.Error().Err(err).Msg("refollow: failed to read pause flag")
	} else if found && paused {
		c.mu.Lock()
		c.paused = true
		c.state = StatePaused
		c.mu.Unlock()
	}

	go func() {
		c.runIfActive(ctx)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runIfActive(ctx)
			}
		}
	}()
}

func (c *RefollowController) runIfActive(ctx context.Context) {
	c.mu.Lock()
	skip := c.paused || c.state == StateRunning
	c.mu.Unlock()
	if skip {
		return
	}
	if err := c.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("refollow: pass failed")
	}
}

// RunOnce walks every pending target once, sending one Follow per target.
// The pause flag is checked before each send, so an in-flight send always
// completes; the cursor is persisted after each send so a restart resumes
// where this run stopped.
func (c *RefollowController) RunOnce(ctx context.Context) error {
	targets, err := c.store.Pending(ctx, domain.PendingSources)
	if err != nil {
		return err
	}

	var cursor string
	if _, err := c.kv.Get(ctx, kvRefollowCursor, &cursor); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateRunning
	c.total = len(targets)
	c.processed = 0
	c.mu.Unlock()

	skipping := cursor != ""
	for _, target := range targets {
		if skipping {
			if target.ActorURL == cursor {
				skipping = false
			}
			continue
		}

		c.mu.Lock()
		paused := c.paused
		c.mu.Unlock()
		if paused {
			c.mu.Lock()
			c.state = StatePaused
			c.mu.Unlock()
			return nil
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := c.sendFollow(ctx, target.ActorURL); err != nil {
			metrics.RefollowSends.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("actor", target.ActorURL).Msg("refollow: send failed")
			if dbErr := c.store.RecordFailure(ctx, target.ActorURL, err); dbErr != nil {
				log.Error().Err(dbErr).Str("actor", target.ActorURL).Msg("refollow: failed to record failure")
			}
			c.mu.Lock()
			c.lastError = err.Error()
			c.mu.Unlock()
		} else {
			metrics.RefollowSends.WithLabelValues("sent").Inc()
			if dbErr := c.store.MarkFollowSent(ctx, target.ActorURL); dbErr != nil {
				log.Error().Err(dbErr).Str("actor", target.ActorURL).Msg("refollow: failed to mark sent")
			}
		}

		if err := c.kv.Set(ctx, kvRefollowCursor, target.ActorURL); err != nil {
			log.Error().Err(err).Msg("refollow: failed to persist cursor")
		}
		c.mu.Lock()
		c.processed++
		c.mu.Unlock()
	}

	if err := c.kv.Delete(ctx, kvRefollowCursor); err != nil {
		log.Error().Err(err).Msg("refollow: failed to clear cursor")
	}
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	return nil
}

func (c *RefollowController) sendFollow(ctx context.Context, actorURL string) error {
	object, err := json.Marshal(actorURL)
	if err != nil {
		return err
	}
	follow := &activitypub.Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      c.actorIRI + "#follows/" + uuid.NewString(),
		Type:    activitypub.TypeFollow,
		Actor:   activitypub.IRI(c.actorIRI),
		Object:  object,
	}
	return c.engine.Send(ctx, follow)
}

// Pause persists the paused flag. The running pass halts after the
// in-flight send completes.
func (c *RefollowController) Pause(ctx context.Context) error {
	if err := c.kv.Set(ctx, kvRefollowPaused, true); err != nil {
		return err
	}
	c.mu.Lock()
	c.paused = true
	if c.state != StateRunning {
		c.state = StatePaused
	}
	c.mu.Unlock()
	log.Info().Msg("refollow: paused")
	return nil
}

// Resume clears the flag and restarts from the persisted cursor.
func (c *RefollowController) Resume(ctx context.Context) error {
	if err := c.kv.Delete(ctx, kvRefollowPaused); err != nil {
		return err
	}
	c.mu.Lock()
	c.paused = false
	if c.state == StatePaused {
		c.state = StateIdle
	}
	c.mu.Unlock()
	log.Info().Msg("refollow: resumed")

	go c.runIfActive(ctx)
	return nil
}

// Status reports the controller's progress through the current pass.
func (c *RefollowController) Status() RefollowStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RefollowStatus{
		State:     c.state,
		Processed: c.processed,
		Total:     c.total,
		LastError: c.lastError,
	}
}
