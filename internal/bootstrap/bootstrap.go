// Package bootstrap opens the backing services named by config and builds
// the components both binaries share.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MagnunAVF/shortlink-service/internal/cache"
	"github.com/MagnunAVF/shortlink-service/internal/clicks"
	"github.com/MagnunAVF/shortlink-service/internal/codec"
	"github.com/MagnunAVF/shortlink-service/internal/config"
	"github.com/MagnunAVF/shortlink-service/internal/logger"
	"github.com/MagnunAVF/shortlink-service/internal/scheduler"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
	"github.com/MagnunAVF/shortlink-service/internal/storage"
)

// Store opens the link store. Without DB_URL the process runs on the
// in-memory store, which is only meant for local development.
func Store(ctx context.Context, cfg *config.Config, c codec.Codec) (shortlink.Store, error) {
	if cfg.DBURL == "" {
		slog.Warn("DB_URL not set, using in-memory link store")
		return storage.NewMemory(c), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{Logger: logger.NewGormLogger(cfg.GormLogLevel)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	store := storage.NewPostgres(db, c)
	slog.Info("running gorm auto-migration")
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if _, err := store.RepairCodes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Codec builds the code codec named by CODEC.
func Codec(cfg *config.Config) (codec.Codec, error) {
	if cfg.Codec == config.CodecHashids && cfg.HashidsSalt == "" {
		slog.Warn("HASHIDS_SALT not set, codes use the unsalted alphabet")
	}
	return codec.New(cfg.Codec, cfg.HashidsSalt, cfg.HashidsMinLength)
}

// NeedsRedis reports whether the configured backends use redis. The
// RabbitMQ scheduler always does: the worker that flushes must see the
// counters the api-service incremented.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.CacheBackend == config.CacheRedis || cfg.FlushScheduler == config.SchedulerRabbitMQ
}

func Redis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

// Resolutions builds the resolution cache. rdb may be nil when the memory
// backend is selected.
func Resolutions(cfg *config.Config, rdb *redis.Client) *cache.Resolutions {
	if cfg.CacheBackend == config.CacheMemory || rdb == nil {
		return cache.New(cache.NewMemory(cfg.CacheTTL), cfg.CacheTTL)
	}
	return cache.New(cache.NewRedis(rdb), cfg.CacheTTL)
}

func Counter(rdb *redis.Client) clicks.Counter {
	if rdb == nil {
		return clicks.NewMemoryCounter()
	}
	return clicks.NewRedisCounter(rdb)
}

func SchedulerOptions(cfg *config.Config) scheduler.Options {
	return scheduler.Options{
		RetryDelay:  cfg.FlushRetryDelay,
		MaxAttempts: cfg.FlushMaxAttempts,
	}
}

func ClickOptions(cfg *config.Config) clicks.Options {
	return clicks.Options{
		FlushDelay: cfg.FlushDelay,
		WindowTTL:  cfg.WindowTTL,
		CounterTTL: cfg.CounterTTL,
	}
}

// RabbitMQ dials the broker and declares the flush queues on a fresh channel.
func RabbitMQ(cfg *config.Config) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := scheduler.DeclareTopology(ch, cfg.FlushDelayQueue, cfg.FlushReadyQueue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
