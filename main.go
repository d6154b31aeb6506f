package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rmdes/fedipoint/activitypub"
	"github.com/rmdes/fedipoint/db"
	"github.com/rmdes/fedipoint/util"
	"github.com/rmdes/fedipoint/web"
	"github.com/rmdes/fedipoint/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	database, err := db.Connect(connectCtx, conf)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to storage")
	}
	defer database.Close(context.Background())

	if err := database.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure indexes")
	}
	if err := database.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	engine := activitypub.NewRemoteEngine(conf.Conf.EngineURL)

	previews := worker.NewLinkPreviewFetcher(
		database.Timeline,
		conf.Conf.PreviewMaxLinks,
		conf.Conf.PreviewConcurrency,
		time.Duration(conf.Conf.PreviewTimeoutSeconds)*time.Second,
	)

	dispatcher := activitypub.NewDispatcher(activitypub.Stores{
		Followers:     database.Followers,
		Following:     database.Following,
		Timeline:      database.Timeline,
		Notifications: database.Notifications,
		Interactions:  database.Interactions,
		Log:           database.Log,
	}, engine, conf.Conf.ActorURI, conf.Conf.PublicURL, previews)

	refollow := worker.NewRefollowController(
		database.Following,
		database.KV,
		engine,
		conf.Conf.ActorURI,
		time.Duration(conf.Conf.RefollowDelaySeconds)*time.Second,
		time.Duration(conf.Conf.RefollowIntervalMinutes)*time.Minute,
	)
	refollow.Start(ctx)

	retention := worker.NewRetentionJob(
		database.Timeline,
		database.Interactions,
		conf.Conf.TimelineMax,
		time.Duration(conf.Conf.RetentionIntervalHours)*time.Hour,
	)
	retention.Start(ctx)

	router := web.Router(web.Deps{
		Conf:          conf,
		Dispatcher:    dispatcher,
		Refollow:      refollow,
		Timeline:      database.Timeline,
		Notifications: database.Notifications,
		AuditLog:      database.Log,
		Followers:     database.Followers,
		Following:     database.Following,
		KV:            database.KV,
	})

	if err := web.Serve(ctx, conf, router); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("shutdown complete")
}
