package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/MagnunAVF/shortlink-service/internal/bootstrap"
	"github.com/MagnunAVF/shortlink-service/internal/clicks"
	"github.com/MagnunAVF/shortlink-service/internal/config"
	"github.com/MagnunAVF/shortlink-service/internal/httpapi"
	applog "github.com/MagnunAVF/shortlink-service/internal/logger"
	"github.com/MagnunAVF/shortlink-service/internal/redirect"
	"github.com/MagnunAVF/shortlink-service/internal/scheduler"
)

func main() {
	cfg := config.Load()
	applog.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.Codec(cfg)
	if err != nil {
		fatal("Invalid codec configuration", err)
	}

	store, err := bootstrap.Store(ctx, cfg, c)
	if err != nil {
		fatal("Unable to open link store", err)
	}

	var rdb *redis.Client
	if bootstrap.NeedsRedis(cfg) {
		rdb, err = bootstrap.Redis(ctx, cfg)
		if err != nil {
			fatal("Unable to connect to Redis", err)
		}
		defer rdb.Close()
	}
	resolutions := bootstrap.Resolutions(cfg, rdb)

	var (
		acc    *clicks.Accumulator
		sched  scheduler.Scheduler
		timers *scheduler.Timers
	)
	switch cfg.FlushScheduler {
	case config.SchedulerRabbitMQ:
		conn, ch, err := bootstrap.RabbitMQ(cfg)
		if err != nil {
			fatal("Unable to set up RabbitMQ", err)
		}
		defer conn.Close()
		defer ch.Close()
		sched = scheduler.NewRabbitMQ(ch, cfg.FlushDelayQueue, cfg.FlushReadyQueue, bootstrap.SchedulerOptions(cfg))
		watchClose(conn, stop)
	default:
		timers = scheduler.NewTimers(func(ctx context.Context, code string) error {
			return acc.Flush(ctx, code)
		}, bootstrap.SchedulerOptions(cfg))
		sched = timers
	}
	acc = clicks.NewAccumulator(bootstrap.Counter(rdb), store, sched, bootstrap.ClickOptions(cfg))

	app := httpapi.NewApp(httpapi.Deps{
		Resolver:     redirect.NewService(store, resolutions, acc),
		Links:        store,
		Cache:        resolutions,
		Clicks:       acc,
		CacheBackend: cfg.CacheBackend,
		AppDomain:    cfg.AppDomain,
		AppEnv:       cfg.AppEnv,
		JWTSecret:    []byte(cfg.JWTSecret),
	})
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set, link management API will reject every request")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting API Service",
			"port", cfg.Port,
			"cache", cfg.CacheBackend,
			"scheduler", cfg.FlushScheduler,
			"flush_delay", cfg.FlushDelay.String(),
		)
		errCh <- app.Listen(cfg.Port)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down API Service")
	case err := <-errCh:
		if err != nil {
			fatal("API Service stopped", err)
		}
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("Graceful shutdown failed", "err", err)
	}
	if timers != nil {
		if n := timers.Pending(); n > 0 {
			slog.Warn("Dropping pending click flushes", "count", n)
		}
		timers.Stop()
	}
}

// watchClose stops the service when the broker connection drops.
func watchClose(conn *amqp091.Connection, stop context.CancelFunc) {
	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			slog.Error("RabbitMQ connection closed", "err", err)
			stop()
		}
	}()
}

func fatal(msg string, err error) {
	if errors.Is(err, context.Canceled) {
		os.Exit(0)
	}
	slog.Error(msg, "err", err)
	os.Exit(1)
}
