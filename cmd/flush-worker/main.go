package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/shortlink-service/internal/bootstrap"
	"github.com/MagnunAVF/shortlink-service/internal/clicks"
	"github.com/MagnunAVF/shortlink-service/internal/config"
	applog "github.com/MagnunAVF/shortlink-service/internal/logger"
	"github.com/MagnunAVF/shortlink-service/internal/scheduler"
)

// Jobs are small and each one is a single UPDATE, so the worker keeps
// plenty of them unacked at once.
const prefetch = 100

func main() {
	cfg := config.Load()
	applog.Init(cfg.Log)

	if cfg.DBURL == "" {
		slog.Error("DB_URL is required by the flush worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.Codec(cfg)
	if err != nil {
		slog.Error("Invalid codec configuration", "err", err)
		os.Exit(1)
	}

	store, err := bootstrap.Store(ctx, cfg, c)
	if err != nil {
		slog.Error("Unable to open link store", "err", err)
		os.Exit(1)
	}

	rdb, err := bootstrap.Redis(ctx, cfg)
	if err != nil {
		slog.Error("Unable to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	rabbitConn, rabbitCH, err := bootstrap.RabbitMQ(cfg)
	if err != nil {
		slog.Error("Unable to set up RabbitMQ", "err", err)
		os.Exit(1)
	}
	defer rabbitConn.Close()
	defer rabbitCH.Close()

	closed := rabbitConn.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			slog.Error("RabbitMQ connection closed", "err", err)
			stop()
		}
	}()

	sched := scheduler.NewRabbitMQ(rabbitCH, cfg.FlushDelayQueue, cfg.FlushReadyQueue, bootstrap.SchedulerOptions(cfg))
	acc := clicks.NewAccumulator(clicks.NewRedisCounter(rdb), store, sched, bootstrap.ClickOptions(cfg))

	slog.Info("Flush Worker started. Waiting for click flushes...",
		"queue", cfg.FlushReadyQueue,
		"prefetch", prefetch,
	)

	err = sched.Consume(ctx, rabbitCH, prefetch, func(ctx context.Context, code string) error {
		return acc.Flush(ctx, code)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Flush Worker stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("Flush Worker stopped")
}
