// Package scheduler runs a keyed handler once after a delay, retrying it
// when it fails. Two implementations exist: in-process timers and a
// RabbitMQ delay queue that survives api-service restarts.
package scheduler

import (
	"context"
	"errors"
	"time"
)

var ErrStopped = errors.New("scheduler: stopped")

// Handler performs the deferred work for key. A non-nil error makes the
// scheduler retry later.
type Handler func(ctx context.Context, key string) error

type Scheduler interface {
	Schedule(ctx context.Context, key string, delay time.Duration) error
}

type Options struct {
	// RetryDelay is the wait before re-running a failed handler.
	RetryDelay time.Duration
	// MaxAttempts caps runs per scheduled key, the first included. Zero
	// means retry forever.
	MaxAttempts int
	// HandlerTimeout bounds a single handler run.
	HandlerTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 30 * time.Second
	}
	return o
}

func (o Options) exhausted(attempt int) bool {
	return o.MaxAttempts > 0 && attempt >= o.MaxAttempts
}
