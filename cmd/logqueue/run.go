package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/logqueue/api"
	"github.com/jdziat/logqueue/pkg/auth"
	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/dispatch"
	"github.com/jdziat/logqueue/pkg/introspect"
	"github.com/jdziat/logqueue/pkg/limiter"
	"github.com/jdziat/logqueue/pkg/objstore"
	"github.com/jdziat/logqueue/pkg/queue"
	"github.com/jdziat/logqueue/pkg/stats"
	"github.com/jdziat/logqueue/pkg/storage"
	"github.com/jdziat/logqueue/pkg/worker"
)

// deps are the shared backends of one process.
type deps struct {
	queue *queue.Connector
	store *storage.GormStorage
}

func openDeps(ctx context.Context, cfg appConfig, logger *slog.Logger) (*deps, error) {
	q, err := queue.New(queue.Config{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.QueuePrefix,
		Name:     cfg.QueueName,
		DefaultRetry: core.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Backoff:  core.Backoff{Type: core.BackoffExponential, Delay: cfg.RetryBackoff},
		},
		Retention: queue.Retention{
			KeepCompleted:   cfg.KeepCompleted,
			CompletedMaxAge: cfg.CompletedMaxAge,
			FailedMaxAge:    cfg.FailedMaxAge,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if err := q.Ping(ctx); err != nil {
		logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr(), "error", err)
	}

	db, err := storage.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	store, err := storage.NewGormStorageWithPool(db)
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = q.Close()
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &deps{queue: q, store: store}, nil
}

func (d *deps) Close() error {
	return errors.Join(d.queue.Close(), d.store.Close())
}

func run(ctx context.Context, cfg appConfig, mode string, logger *slog.Logger) error {
	var server, work bool
	switch mode {
	case "server":
		server = true
	case "worker":
		work = true
	case "all":
		server, work = true, true
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	g, gctx := errgroup.WithContext(ctx)
	if server {
		g.Go(func() error { return runServer(gctx, cfg, d, logger) })
	}
	if work {
		g.Go(func() error { return runWorker(gctx, cfg, d, logger) })
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runServer(ctx context.Context, cfg appConfig, d *deps, logger *slog.Logger) error {
	secret := []byte(cfg.ObjectSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate object secret: %w", err)
		}
		logger.Warn("object-secret not set, signed URLs will not survive a restart")
	}
	objects, err := objstore.NewLocal(cfg.ObjectRoot, cfg.PublicURL, secret)
	if err != nil {
		return err
	}

	authn := auth.ParseStatic(cfg.AuthTokens)
	if len(authn) == 0 {
		logger.Warn("no auth-tokens configured, every request will be rejected")
	}

	rdb, err := d.queue.Client()
	if err != nil {
		return err
	}
	lim := limiter.New(rdb,
		limiter.WithLimit(cfg.RateLimit),
		limiter.WithWindow(cfg.RateWindow),
		limiter.WithLogger(logger),
	)

	srv := api.NewServer(cfg.APIAddr, api.Deps{
		Auth: authn,
		Dispatch: dispatch.New(authn, objects, d.queue, dispatch.Config{
			Bucket: cfg.ObjectBucket,
			Logger: logger,
		}),
		Snapshots: introspect.New(d.queue),
		Stats:     stats.NewService(d.store, stats.NewEngine(stats.DefaultConfig()), logger),
		Jobs:      d.store,
		Limiter:   lim,
		Objects:   objects.Handler(),
		Health:    map[string]api.Pinger{"redis": d.queue, "database": d.store},
	}, api.WithLogger(logger), api.WithStreamInterval(cfg.StreamInterval))

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	<-ctx.Done()
	if err := srv.Stop(); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return ctx.Err()
}

func runWorker(ctx context.Context, cfg appConfig, d *deps, logger *slog.Logger) error {
	w := worker.NewWorker(d.queue, d.store,
		worker.Concurrency(cfg.Concurrency),
		worker.PollInterval(cfg.PollInterval),
		worker.WithHousekeeping(cfg.Housekeeping),
		worker.WithStallTimeout(cfg.StallTimeout),
		worker.WithRetention(d.queue.Config().Retention),
		worker.WithLogger(logger),
	)
	return w.Start(ctx)
}
