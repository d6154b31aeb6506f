package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rmdes/fedipoint/activitypub"
	"github.com/rmdes/fedipoint/domain"
	"github.com/rmdes/fedipoint/util"
	"github.com/rmdes/fedipoint/worker"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Read-side store slices the handlers need.

type TimelineReader interface {
	Recent(ctx context.Context, limit int64) ([]domain.TimelineItem, error)
	Count(ctx context.Context) (int64, error)
}

type NotificationReader interface {
	Recent(ctx context.Context, limit int64) ([]domain.Notification, error)
}

type AuditReader interface {
	Recent(ctx context.Context, limit int64) ([]domain.ActivityLogEntry, error)
}

type FollowerCounter interface {
	Count(ctx context.Context) (int64, error)
}

type FollowingAdmin interface {
	Upsert(ctx context.Context, t *domain.FollowingTarget) error
}

type KVReader interface {
	List(ctx context.Context, prefix string) ([]domain.KVEntry, error)
}

// ActivityDispatcher receives decoded inbound activities from the hook.
type ActivityDispatcher interface {
	Dispatch(ctx context.Context, act *activitypub.Activity) error
}

// Deps wires the router's handlers to the rest of the process.
type Deps struct {
	Conf          *util.AppConfig
	Dispatcher    ActivityDispatcher
	Refollow      *worker.RefollowController
	Timeline      TimelineReader
	Notifications NotificationReader
	AuditLog      AuditReader
	Followers     FollowerCounter
	Following     FollowingAdmin
	KV            KVReader
}

// Router builds the HTTP surface: the activity hook fed by the protocol
// engine, the admin endpoints for the re-follow controller, and the
// read-side feeds.
func Router(deps Deps) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global limit: 10 req/s per IP, burst of 20.
	g.Use(RateLimitMiddleware(NewRateLimiter(rate.Limit(10), 20)))

	// The engine posts one decoded, signature-verified activity per
	// request. Stricter limit and a 1MB body cap.
	hookLimiter := NewRateLimiter(rate.Limit(5), 10)
	g.POST("/hooks/activity", RateLimitMiddleware(hookLimiter), MaxBytesMiddleware(1<<20), func(c *gin.Context) {
		var act activitypub.Activity
		if err := c.ShouldBindJSON(&act); err != nil {
			log.Warn().Err(err).Msg("hook: unparseable activity")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid activity"})
			return
		}
		if err := deps.Dispatcher.Dispatch(c.Request.Context(), &act); err != nil {
			log.Error().Err(err).Str("type", act.Type).Msg("hook: dispatch failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process activity"})
			return
		}
		c.Status(http.StatusAccepted)
	})

	admin := g.Group("/admin")
	{
		admin.POST("/refollow/pause", func(c *gin.Context) {
			if err := deps.Refollow.Pause(c.Request.Context()); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"ok": true, "status": deps.Refollow.Status()})
		})
		admin.POST("/refollow/resume", func(c *gin.Context) {
			if err := deps.Refollow.Resume(c.Request.Context()); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"ok": true, "status": deps.Refollow.Status()})
		})
		admin.GET("/refollow/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Refollow.Status())
		})

		// Queue an account for following; the re-follow controller picks
		// it up on its next pass.
		admin.POST("/following", func(c *gin.Context) {
			var req struct {
				ActorURL string `json:"actorUrl" binding:"required"`
				Name     string `json:"name"`
				Handle   string `json:"handle"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "actorUrl is required"})
				return
			}
			target := &domain.FollowingTarget{
				ActorURL:   req.ActorURL,
				Name:       req.Name,
				Handle:     req.Handle,
				Source:     domain.SourceReader,
				FollowedAt: time.Now().UTC(),
			}
			if err := deps.Following.Upsert(c.Request.Context(), target); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store follow target"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"ok": true})
		})

		admin.GET("/log", func(c *gin.Context) {
			entries, err := deps.AuditLog.Recent(c.Request.Context(), 100)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
				return
			}
			c.JSON(http.StatusOK, entries)
		})

		// Inspect flags and cursors, e.g. ?prefix=migration.
		admin.GET("/kv", func(c *gin.Context) {
			entries, err := deps.KV.List(c.Request.Context(), c.Query("prefix"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list entries"})
				return
			}
			c.JSON(http.StatusOK, entries)
		})
	}

	g.GET("/notifications", func(c *gin.Context) {
		notifications, err := deps.Notifications.Recent(c.Request.Context(), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read notifications"})
			return
		}
		c.JSON(http.StatusOK, notifications)
	})

	g.GET("/timeline", func(c *gin.Context) {
		items, err := deps.Timeline.Recent(c.Request.Context(), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read timeline"})
			return
		}
		c.JSON(http.StatusOK, items)
	})

	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := TimelineRSS(c.Request.Context(), deps.Conf, deps.Timeline)
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: ""})
			return
		}
		c.Render(http.StatusOK, render.String{Format: rss})
	})

	g.GET("/stats", func(c *gin.Context) {
		ctx := c.Request.Context()
		followers, err := deps.Followers.Count(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count followers"})
			return
		}
		timeline, err := deps.Timeline.Count(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count timeline"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"followers": followers, "timelineItems": timeline})
	})

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return g
}

// Serve runs the router until the context is cancelled, then shuts the
// listener down gracefully.
func Serve(ctx context.Context, conf *util.AppConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("web: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
