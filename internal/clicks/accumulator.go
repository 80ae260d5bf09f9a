// Package clicks batches redirect clicks in a fast counter and folds them
// into the link store later, one durable write per code per flush window.
package clicks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MagnunAVF/shortlink-service/internal/logger"
	"github.com/MagnunAVF/shortlink-service/internal/scheduler"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
)

// Counter holds pending click counts per code, together with the flush
// window: a claim that a flush is scheduled for the pending count.
type Counter interface {
	// Incr adds one click and returns the new pending count. opened is true
	// when this call claimed the flush window, in which case the caller
	// schedules the flush. counterTTL applies when the counter is created,
	// windowTTL to the claim.
	Incr(ctx context.Context, code string, counterTTL, windowTTL time.Duration) (n int64, opened bool, err error)
	// Take atomically reads and clears the pending count and closes the
	// window, so the next click opens a new one.
	Take(ctx context.Context, code string) (int64, error)
	// Restore adds n back after a failed flush. It does not reopen the window.
	Restore(ctx context.Context, code string, n int64, ttl time.Duration) error
	// Release closes the window and leaves the count in place.
	Release(ctx context.Context, code string) error
	Peek(ctx context.Context, code string) (int64, error)
}

// ClickStore is the durable side of a flush.
type ClickStore interface {
	IncrementClicks(ctx context.Context, code string, delta int64) error
}

type Options struct {
	// FlushDelay is the time between the first click of a window and its flush.
	FlushDelay time.Duration
	// WindowTTL bounds a flush window whose flush never ran, e.g. after a
	// crash with in-process timers. Defaults to twice FlushDelay.
	WindowTTL time.Duration
	// CounterTTL bounds how long an unflushed counter may live. It must
	// outlive WindowTTL so an orphaned count is picked up by the next window.
	CounterTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.WindowTTL <= o.FlushDelay {
		o.WindowTTL = 2 * o.FlushDelay
	}
	if o.WindowTTL <= 0 {
		o.WindowTTL = time.Hour
	}
	if o.CounterTTL <= o.WindowTTL {
		o.CounterTTL = o.WindowTTL + max(o.FlushDelay, o.WindowTTL/2)
	}
	return o
}

type Accumulator struct {
	counter Counter
	store   ClickStore
	sched   scheduler.Scheduler
	opts    Options
}

func NewAccumulator(counter Counter, store ClickStore, sched scheduler.Scheduler, opts Options) *Accumulator {
	return &Accumulator{counter: counter, store: store, sched: sched, opts: opts.withDefaults()}
}

// RecordClick counts a click for code. Only the click that opens a window
// schedules the flush; later clicks in the same window just increment.
// When scheduling fails the window is released, so the next click tries
// again and its flush carries this click too.
func (a *Accumulator) RecordClick(ctx context.Context, code string) error {
	_, opened, err := a.counter.Incr(ctx, code, a.opts.CounterTTL, a.opts.WindowTTL)
	if err != nil {
		return fmt.Errorf("record click for %q: %w", code, err)
	}
	if !opened {
		return nil
	}
	if err := a.sched.Schedule(ctx, code, a.opts.FlushDelay); err != nil {
		if rerr := a.counter.Release(ctx, code); rerr != nil {
			logger.FromContext(ctx).Error("could not release flush window", "code", code, "err", rerr)
		}
		return fmt.Errorf("schedule flush for %q: %w", code, err)
	}
	return nil
}

// Flush moves the pending count for code into the link store. It is the
// scheduler's handler: a returned error means the count was put back and
// the flush should run again. The window is closed by the take, so clicks
// arriving meanwhile open their own window; a count restored after the
// scheduler's last attempt rides along with that next window.
func (a *Accumulator) Flush(ctx context.Context, code string) error {
	log := logger.FromContext(ctx).With("code", code)

	n, err := a.counter.Take(ctx, code)
	if err != nil {
		return fmt.Errorf("take pending clicks for %q: %w", code, err)
	}
	if n <= 0 {
		return nil
	}

	err = a.store.IncrementClicks(ctx, code, n)
	switch {
	case err == nil:
		log.Debug("flushed clicks", "clicks", n)
		return nil
	case errors.Is(err, shortlink.ErrNotFound):
		log.Info("discarding clicks for deleted link", "clicks", n)
		return nil
	}

	if rerr := a.counter.Restore(ctx, code, n, a.opts.CounterTTL); rerr != nil {
		log.Error("lost pending clicks", "clicks", n, "err", err, "restore_err", rerr)
		return nil
	}
	return fmt.Errorf("flush %d clicks for %q: %w", n, code, err)
}

// Pending returns the clicks counted for code since its last flush.
func (a *Accumulator) Pending(ctx context.Context, code string) (int64, error) {
	return a.counter.Peek(ctx, code)
}
