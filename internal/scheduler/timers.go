package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MagnunAVF/shortlink-service/internal/logger"
)

// Timers schedules handlers on in-process timers. Pending work is lost
// when the process exits.
//
// At most one handler runs per key at a time: a run that comes due while
// another run for the same key is in flight is pushed back by RetryDelay.
type Timers struct {
	handler Handler
	opts    Options

	mu       sync.Mutex
	stopped  bool
	seq      uint64
	pending  map[uint64]*time.Timer
	inflight map[string]bool
	wg       sync.WaitGroup
}

func NewTimers(handler Handler, opts Options) *Timers {
	return &Timers{
		handler:  handler,
		opts:     opts.withDefaults(),
		pending:  make(map[uint64]*time.Timer),
		inflight: make(map[string]bool),
	}
}

func (t *Timers) Schedule(_ context.Context, key string, delay time.Duration) error {
	return t.arm(key, delay, 1)
}

// Pending reports how many timers are armed and not yet fired.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels armed timers and waits for running handlers to return.
func (t *Timers) Stop() {
	t.mu.Lock()
	t.stopped = true
	for id, timer := range t.pending {
		timer.Stop()
		delete(t.pending, id)
	}
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *Timers) arm(key string, delay time.Duration, attempt int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return ErrStopped
	}
	t.seq++
	id := t.seq
	t.pending[id] = time.AfterFunc(delay, func() { t.fire(id, key, attempt) })
	return nil
}

func (t *Timers) fire(id uint64, key string, attempt int) {
	t.mu.Lock()
	if _, ok := t.pending[id]; !ok {
		// stopped before firing
		t.mu.Unlock()
		return
	}
	delete(t.pending, id)

	if t.inflight[key] {
		t.mu.Unlock()
		_ = t.arm(key, t.opts.RetryDelay, attempt)
		return
	}
	t.inflight[key] = true
	t.wg.Add(1)
	t.mu.Unlock()

	defer t.wg.Done()
	err := t.run(key)

	t.mu.Lock()
	delete(t.inflight, key)
	t.mu.Unlock()

	if err == nil {
		return
	}

	log := logger.Default().With("key", key, "attempt", attempt, "err", err)
	if t.opts.exhausted(attempt) {
		log.Error("scheduled job failed, giving up")
		return
	}
	log.Warn("scheduled job failed, retrying", "retry_in", t.opts.RetryDelay.String())
	if err := t.arm(key, t.opts.RetryDelay, attempt+1); err != nil {
		log.Warn("could not re-arm scheduled job", "arm_err", err)
	}
}

func (t *Timers) run(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.HandlerTimeout)
	defer cancel()
	return t.handler(ctx, key)
}
