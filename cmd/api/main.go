package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"charityflow/activity"
	"charityflow/auth"
	"charityflow/branch"
	"charityflow/catalog"
	"charityflow/charity"
	"charityflow/config"
	"charityflow/db"
	"charityflow/expiry"
	"charityflow/httpapi"
	"charityflow/media"
	"charityflow/notify"
	"charityflow/request"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHARITYFLOW_CONFIG"), "path to a YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("charityflow stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	now, err := cfg.Clock()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.WithMaxConns(int32(cfg.MaxDBConns)))
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	app, err := wire(ctx, cfg, pool, now, logger)
	if err != nil {
		return err
	}
	defer app.close()

	app.sweeper.Start(ctx)
	defer app.sweeper.Stop()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type application struct {
	server  *httpapi.Server
	sweeper *expiry.Sweeper
	close   func()
}

func wire(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, now func() time.Time, logger *slog.Logger) (*application, error) {
	users := auth.NewRepository(pool)
	branches := branch.NewRepository(pool)
	activities := activity.NewRepository(pool)
	requests := request.NewRepository(pool)
	inbox := notify.NewPGStore(pool)

	closers := []func(){}
	sinks := []notify.Sink{inbox}

	var guard expiry.ReminderGuard
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		sinks = append(sinks, notify.NewRedisSink(rdb))
		if cfg.Sweeper.DedupeReminders {
			guard = expiry.NewRedisGuard(rdb, 2*cfg.Sweeper.ReminderHorizon)
		}
	}

	if cfg.TelegramToken != "" {
		bot, err := notify.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, notify.NewTelegramSink(bot, users))
	}

	dispatcher := notify.NewDispatcher(sinks...).
		WithRateLimit(cfg.Notify.RatePerSecond, cfg.Notify.Burst).
		WithClock(now).
		WithLogger(logger.With("component", "notify"))

	deps := request.Deps{
		Pool:       pool,
		Repo:       requests,
		Catalog:    catalog.NewRepository(pool),
		Activities: activities,
		Branches:   branches,
		Charities:  charity.NewRepository(pool),
		Matcher: branch.NewPGMatcher(pool, branch.MatcherConfig{
			MaxDistanceKM:    cfg.Matching.MaxDistanceKM,
			NearbyDistanceKM: cfg.Matching.NearbyDistanceKM,
		}),
		Notifier: dispatcher,
	}
	if cfg.S3.Bucket != "" {
		store, err := media.NewS3Store(ctx, media.S3StoreConfig{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			Prefix:        cfg.S3.Prefix,
			PublicBaseURL: cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		deps.Objects = store
	} else {
		logger.Warn("no S3 bucket configured, request images will be rejected")
	}

	requestService := request.NewService(deps).
		WithClock(now).
		WithLogger(logger.With("component", "request")).
		WithVolumeBand(request.VolumeBand{
			Min: decimal.NewFromInt(cfg.Volume.Min),
			Max: decimal.NewFromInt(cfg.Volume.Max),
		})

	sweeper := expiry.NewSweeper(requests, branches, dispatcher).
		WithClock(now).
		WithLogger(logger.With("component", "expiry")).
		WithInterval(cfg.Sweeper.Interval).
		WithReminderHorizon(cfg.Sweeper.ReminderHorizon)
	if guard != nil {
		sweeper = sweeper.WithReminderGuard(guard)
	}

	authService := auth.NewService(users, cfg.JWTSecret).WithClock(now)

	server := httpapi.NewServer(httpapi.Deps{
		Auth:        authService,
		Requests:    requestService,
		Activities:  activity.NewService(activities),
		Branches:    branch.NewService(branches),
		Inbox:       inbox,
		CORSOrigins: cfg.CORSOrigins,
	}).WithClock(now).WithLogger(logger.With("component", "httpapi"))

	return &application{
		server:  server,
		sweeper: sweeper,
		close: func() {
			for _, c := range closers {
				c()
			}
		},
	}, nil
}
