package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/api"
	"taskboard/config"
	"taskboard/hub"
	"taskboard/storage"
	"taskboard/telemetry"
)

const (
	idsKey         = "taskboard:ids"
	seqKey         = "taskboard:seq"
	eventsChannel  = "taskboard:events"
	activityKey    = "taskboard:activity"
	relayReadyWait = 5 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization hub and its HTTP API",
		Long: `Run the synchronization hub.

The task store is chosen with TASKBOARD_STORE (memory, tables, sqlite, mongo).
Setting REDIS_CONNECTION_STRING enables shared ids, idempotency, the snapshot
cache, the activity feed and cross-process event relay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	shutdownTracing := telemetry.Setup(logger)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	roster, err := config.LoadRoster(cfg.RosterPath)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeStore()

	broker := hub.NewBroker(cfg.SubscriberBuffer, logger)
	opts := hub.Options{
		Roster:         roster,
		Broker:         broker,
		Logger:         logger,
		QueueSize:      cfg.IntentBuffer,
		HandoffTimeout: cfg.HandoffTimeout,
		ApplyTimeout:   cfg.ApplyTimeout,
	}

	var feed api.ActivityFeed
	if cfg.RedisConnStr != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnStr)
		if err != nil {
			return err
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		store = storage.NewCache(store, rc, cfg.CacheTTL)
		maxID, err := store.MaxID(ctx)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if opts.IDs, err = hub.NewRedisCounter(ctx, rc, idsKey, maxID); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if opts.Seq, err = hub.NewRedisCounter(ctx, rc, seqKey, 0); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		opts.Deduper = hub.NewRedisDeduper(rc, cfg.DeduperTTL)

		relay := hub.NewRedisRelay(rc, eventsChannel, broker, logger)
		go relay.Run(ctx)
		select {
		case <-relay.Ready():
		case <-time.After(relayReadyWait):
			return errors.New("redis: event relay did not subscribe")
		case <-ctx.Done():
			return ctx.Err()
		}
		opts.Relay = relay

		fs := hub.NewFeedSink(rc, activityKey, cfg.FeedSize, roster)
		opts.Sinks = append(opts.Sinks, fs)
		feed = fs
	}
	if cfg.EventQueue != "" {
		qs, err := hub.NewQueueSink(cfg.StorageConnStr, cfg.EventQueue)
		if err != nil {
			return fmt.Errorf("event queue: %w", err)
		}
		opts.Sinks = append(opts.Sinks, qs)
	}

	h, err := hub.New(ctx, store, opts)
	if err != nil {
		return err
	}
	go h.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding},
	}))
	api.Register(e, h, api.Options{Feed: feed, Heartbeat: cfg.Heartbeat}, logger)

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(sctx); err != nil {
			logger.WithError(err).Error("shutdown")
		}
	}()

	logger.WithFields(log.Fields{"addr": cfg.Addr, "store": cfg.Store, "redis": cfg.RedisConnStr != ""}).Info("taskboard hub listening")
	if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openStore builds the configured backend and a function releasing it.
func openStore(ctx context.Context, cfg config.Config) (hub.TaskStore, func(), error) {
	switch cfg.Store {
	case config.StoreTables:
		s, err := storage.NewTables(cfg.StorageConnStr, cfg.TasksTable)
		return s, func() {}, err
	case config.StoreSQLite:
		s, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreMongo:
		s, err := storage.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close(context.Background()) }, nil
	}
	return storage.NewMemory(), func() {}, nil
}
