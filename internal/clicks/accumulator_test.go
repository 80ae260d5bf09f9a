package clicks_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/shortlink-service/internal/clicks"
	"github.com/MagnunAVF/shortlink-service/internal/codec"
	"github.com/MagnunAVF/shortlink-service/internal/scheduler"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
	"github.com/MagnunAVF/shortlink-service/internal/storage"
	"github.com/MagnunAVF/shortlink-service/internal/testutil"
)

// manualScheduler records Schedule calls; tests fire them explicitly.
type manualScheduler struct {
	mu    sync.Mutex
	keys  []string
	delay time.Duration
}

func (s *manualScheduler) Schedule(_ context.Context, key string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.delay = delay
	return nil
}

func (s *manualScheduler) scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// failingScheduler fails its first failures calls, then records like
// manualScheduler.
type failingScheduler struct {
	manualScheduler
	failures int
}

func (s *failingScheduler) Schedule(ctx context.Context, key string, delay time.Duration) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("publish: channel closed")
	}
	s.mu.Unlock()
	return s.manualScheduler.Schedule(ctx, key, delay)
}

type flakyStore struct {
	clicks.ClickStore
	failures atomic.Int32
}

func (f *flakyStore) IncrementClicks(ctx context.Context, code string, delta int64) error {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errors.New("connection refused")
	}
	return f.ClickStore.IncrementClicks(ctx, code, delta)
}

type fixture struct {
	store *storage.Memory
	sched *manualScheduler
	acc   *clicks.Accumulator
	link  *shortlink.ShortLink
}

func newFixture(t *testing.T, counter clicks.Counter) *fixture {
	t.Helper()
	c, err := codec.NewHashids("clicks-test", 6)
	require.NoError(t, err)
	store := storage.NewMemory(c)
	link, err := store.Create(context.Background(), shortlink.CreateParams{UserID: 1, OriginalURL: "https://example.com"})
	require.NoError(t, err)

	sched := &manualScheduler{}
	acc := clicks.NewAccumulator(counter, store, sched, clicks.Options{FlushDelay: 10 * time.Minute})
	return &fixture{store: store, sched: sched, acc: acc, link: link}
}

func (f *fixture) durableClicks(t *testing.T) uint64 {
	t.Helper()
	got, err := f.store.FindByID(context.Background(), f.link.ID)
	require.NoError(t, err)
	return got.Clicks
}

func TestAccumulator_Memory(t *testing.T) {
	runAccumulatorSuite(t, func() clicks.Counter { return clicks.NewMemoryCounter() })
}

func TestAccumulator_Redis(t *testing.T) {
	client := testutil.Redis(t)
	runAccumulatorSuite(t, func() clicks.Counter {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return clicks.NewRedisCounter(client)
	})
}

func runAccumulatorSuite(t *testing.T, newCounter func() clicks.Counter) {
	ctx := context.Background()

	t.Run("one flush scheduled per window", func(t *testing.T) {
		f := newFixture(t, newCounter())
		code := f.link.CodeValue()

		for i := 0; i < 10; i++ {
			require.NoError(t, f.acc.RecordClick(ctx, code))
		}

		assert.Equal(t, []string{code}, f.sched.scheduled())
		assert.Equal(t, 10*time.Minute, f.sched.delay)
		assert.Zero(t, f.durableClicks(t), "no durable write before the flush")

		require.NoError(t, f.acc.Flush(ctx, code))
		assert.EqualValues(t, 10, f.durableClicks(t))

		pending, err := f.acc.Pending(ctx, code)
		require.NoError(t, err)
		assert.Zero(t, pending)

		require.NoError(t, f.acc.RecordClick(ctx, code))
		assert.Len(t, f.sched.scheduled(), 2, "first click after a flush opens a new window")
	})

	t.Run("concurrent clicks are all counted", func(t *testing.T) {
		f := newFixture(t, newCounter())
		code := f.link.CodeValue()

		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, f.acc.RecordClick(ctx, code))
			}()
		}
		wg.Wait()

		assert.Len(t, f.sched.scheduled(), 1)
		require.NoError(t, f.acc.Flush(ctx, code))
		assert.EqualValues(t, 200, f.durableClicks(t))
	})

	t.Run("flush with nothing pending is a no-op", func(t *testing.T) {
		f := newFixture(t, newCounter())
		require.NoError(t, f.acc.Flush(ctx, f.link.CodeValue()))
		assert.Zero(t, f.durableClicks(t))
	})

	t.Run("flush after deletion discards pending", func(t *testing.T) {
		f := newFixture(t, newCounter())
		code := f.link.CodeValue()
		require.NoError(t, f.acc.RecordClick(ctx, code))
		require.NoError(t, f.acc.RecordClick(ctx, code))

		_, err := f.store.Delete(ctx, f.link.ID, f.link.UserID)
		require.NoError(t, err)

		require.NoError(t, f.acc.Flush(ctx, code))
		pending, err := f.acc.Pending(ctx, code)
		require.NoError(t, err)
		assert.Zero(t, pending)
	})

	t.Run("failed flush restores the count for the retry", func(t *testing.T) {
		f := newFixture(t, newCounter())
		code := f.link.CodeValue()
		flaky := &flakyStore{ClickStore: f.store}
		flaky.failures.Store(1)
		acc := clicks.NewAccumulator(newCounter(), flaky, f.sched, clicks.Options{FlushDelay: time.Minute})

		for i := 0; i < 5; i++ {
			require.NoError(t, acc.RecordClick(ctx, code))
		}
		require.Error(t, acc.Flush(ctx, code))
		assert.Zero(t, f.durableClicks(t))

		require.NoError(t, acc.RecordClick(ctx, code))
		assert.Len(t, f.sched.scheduled(), 2, "a click after the take opens a new window")

		require.NoError(t, acc.Flush(ctx, code))
		assert.EqualValues(t, 6, f.durableClicks(t))
		require.NoError(t, acc.Flush(ctx, code), "the second flush finds nothing left")
		assert.EqualValues(t, 6, f.durableClicks(t))
	})

	t.Run("failed schedule lets the next click schedule", func(t *testing.T) {
		f := newFixture(t, newCounter())
		code := f.link.CodeValue()
		sched := &failingScheduler{failures: 1}
		acc := clicks.NewAccumulator(newCounter(), f.store, sched, clicks.Options{FlushDelay: time.Minute})

		require.Error(t, acc.RecordClick(ctx, code))
		for i := 0; i < 9; i++ {
			require.NoError(t, acc.RecordClick(ctx, code))
		}
		assert.Equal(t, []string{code}, sched.scheduled(), "second click scheduled the flush")

		require.NoError(t, acc.Flush(ctx, code))
		assert.EqualValues(t, 10, f.durableClicks(t), "the click that failed to schedule is not lost")
	})

	t.Run("count left after the last retry joins the next window", func(t *testing.T) {
		f := newFixture(t, newCounter())
		code := f.link.CodeValue()
		flaky := &flakyStore{ClickStore: f.store}
		flaky.failures.Store(3)
		acc := clicks.NewAccumulator(newCounter(), flaky, f.sched, clicks.Options{FlushDelay: time.Minute})

		for i := 0; i < 4; i++ {
			require.NoError(t, acc.RecordClick(ctx, code))
		}
		for i := 0; i < 3; i++ {
			require.Error(t, acc.Flush(ctx, code))
		}

		pending, err := acc.Pending(ctx, code)
		require.NoError(t, err)
		assert.EqualValues(t, 4, pending)

		require.NoError(t, acc.RecordClick(ctx, code))
		assert.Len(t, f.sched.scheduled(), 2)
		require.NoError(t, acc.Flush(ctx, code))
		assert.EqualValues(t, 5, f.durableClicks(t))
	})
}

func TestMemoryCounter_OrphanedWindowExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	counter := clicks.NewMemoryCounter()
	counter.Now = func() time.Time { return now }

	_, opened, err := counter.Incr(ctx, "abc", time.Hour, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, opened)

	now = now.Add(time.Minute)
	_, opened, _ = counter.Incr(ctx, "abc", time.Hour, 2*time.Minute)
	assert.False(t, opened)

	now = now.Add(2 * time.Minute)
	n, opened, _ := counter.Incr(ctx, "abc", time.Hour, 2*time.Minute)
	assert.True(t, opened, "a window whose flush never ran is claimed again")
	assert.EqualValues(t, 3, n)
}

func TestAccumulator_WithTimers(t *testing.T) {
	ctx := context.Background()
	c, err := codec.NewHashids("clicks-test", 6)
	require.NoError(t, err)
	store := storage.NewMemory(c)
	link, err := store.Create(ctx, shortlink.CreateParams{UserID: 1, OriginalURL: "https://example.com"})
	require.NoError(t, err)
	code := link.CodeValue()

	var flushes atomic.Int32
	var acc *clicks.Accumulator
	timers := scheduler.NewTimers(func(ctx context.Context, key string) error {
		flushes.Add(1)
		return acc.Flush(ctx, key)
	}, scheduler.Options{RetryDelay: 10 * time.Millisecond})
	defer timers.Stop()
	acc = clicks.NewAccumulator(clicks.NewMemoryCounter(), store, timers, clicks.Options{FlushDelay: 100 * time.Millisecond})

	for i := 0; i < 10; i++ {
		require.NoError(t, acc.RecordClick(ctx, code))
	}
	got, _ := store.FindByID(ctx, link.ID)
	assert.Zero(t, got.Clicks)

	require.Eventually(t, func() bool {
		got, _ := store.FindByID(ctx, link.ID)
		return got.Clicks == 10
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, flushes.Load())
}

func TestMemoryCounter_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	counter := clicks.NewMemoryCounter()
	counter.Now = func() time.Time { return now }

	n, _, err := counter.Incr(ctx, "abc", time.Minute, 30*time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	now = now.Add(30 * time.Second)
	n, _, _ = counter.Incr(ctx, "abc", time.Minute, 30*time.Second)
	assert.EqualValues(t, 2, n, "ttl is not extended by later clicks")

	now = now.Add(31 * time.Second)
	pending, _ := counter.Peek(ctx, "abc")
	assert.Zero(t, pending)

	n, _, _ = counter.Incr(ctx, "abc", time.Minute, 30*time.Second)
	assert.EqualValues(t, 1, n)
}
