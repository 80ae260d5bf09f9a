package clicks

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	n        int64
	deadline time.Time
}

// MemoryCounter is a process-local Counter. Now can be replaced to drive
// counter and window expiry from tests.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	windows map[string]time.Time
	Now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]memoryEntry),
		windows: make(map[string]time.Time),
		Now:     time.Now,
	}
}

func (m *MemoryCounter) Incr(_ context.Context, code string, counterTTL, windowTTL time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	e, ok := m.live(code)
	if !ok {
		e = memoryEntry{deadline: now.Add(counterTTL)}
	}
	e.n++
	m.entries[code] = e

	opened := false
	if deadline, ok := m.windows[code]; !ok || !now.Before(deadline) {
		m.windows[code] = now.Add(windowTTL)
		opened = true
	}
	return e.n, opened, nil
}

func (m *MemoryCounter) Take(_ context.Context, code string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(code)
	delete(m.entries, code)
	delete(m.windows, code)
	if !ok {
		return 0, nil
	}
	return e.n, nil
}

func (m *MemoryCounter) Restore(_ context.Context, code string, n int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(code)
	if !ok {
		e = memoryEntry{deadline: m.Now().Add(ttl)}
	}
	e.n += n
	m.entries[code] = e
	return nil
}

func (m *MemoryCounter) Release(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, code)
	return nil
}

func (m *MemoryCounter) Peek(_ context.Context, code string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, _ := m.live(code)
	return e.n, nil
}

func (m *MemoryCounter) live(code string) (memoryEntry, bool) {
	e, ok := m.entries[code]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.Now().Before(e.deadline) {
		delete(m.entries, code)
		return memoryEntry{}, false
	}
	return e, true
}
