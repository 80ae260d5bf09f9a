package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MagnunAVF/shortlink-service/internal/codec"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
)

// Memory is a process-local link store for development and tests. It keeps
// the same semantics as Postgres: unique codes, owner checks and atomic
// click increments.
type Memory struct {
	mu     sync.RWMutex
	codec  codec.Codec
	nextID uint64
	byID   map[uint64]*shortlink.ShortLink
	byCode map[string]uint64
	now    func() time.Time
}

func NewMemory(c codec.Codec) *Memory {
	return &Memory{
		codec:  c,
		byID:   make(map[uint64]*shortlink.ShortLink),
		byCode: make(map[string]uint64),
		now:    time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, p shortlink.CreateParams) (*shortlink.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := m.now()
	link := &shortlink.ShortLink{
		ID:          m.nextID,
		UserID:      p.UserID,
		OriginalURL: p.OriginalURL,
		ExpiresAt:   copyTime(p.ExpiresAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.assignCode(link); err != nil {
		m.nextID--
		return nil, err
	}
	m.byID[link.ID] = link
	return clone(link), nil
}

// Put stores a record as-is, including an explicit code, and returns the
// stored copy. It exists to seed fixtures.
func (m *Memory) Put(link shortlink.ShortLink) *shortlink.ShortLink {
	m.mu.Lock()
	defer m.mu.Unlock()

	if link.ID == 0 {
		m.nextID++
		link.ID = m.nextID
	} else if link.ID > m.nextID {
		m.nextID = link.ID
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = m.now()
		link.UpdatedAt = link.CreatedAt
	}
	stored := clone(&link)
	m.byID[stored.ID] = stored
	if code := stored.CodeValue(); code != "" {
		m.byCode[code] = stored.ID
	}
	return clone(stored)
}

func (m *Memory) FindByID(ctx context.Context, id uint64) (*shortlink.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.byID[id]
	if !ok {
		return nil, shortlink.ErrNotFound
	}
	return clone(link), nil
}

func (m *Memory) FindByCode(ctx context.Context, code string) (*shortlink.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCode[code]
	if !ok {
		return nil, shortlink.ErrNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *Memory) ListByUser(ctx context.Context, p shortlink.ListParams) (*shortlink.Page, error) {
	page, perPage := normalizePage(p.Page, p.PerPage)

	m.mu.RLock()
	var owned []shortlink.ShortLink
	for _, link := range m.byID {
		if link.UserID == p.UserID {
			owned = append(owned, *clone(link))
		}
	}
	m.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].ID > owned[j].ID
	})

	total := len(owned)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return &shortlink.Page{Links: owned[start:end], Total: int64(total), Page: page, PerPage: perPage}, nil
}

func (m *Memory) Update(ctx context.Context, id, userID uint64, p shortlink.UpdateParams) (*shortlink.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, err := m.owned(id, userID)
	if err != nil {
		return nil, err
	}
	if p.OriginalURL != nil {
		link.OriginalURL = *p.OriginalURL
	}
	if p.ClearExpiry {
		link.ExpiresAt = nil
	} else if p.ExpiresAt != nil {
		link.ExpiresAt = copyTime(p.ExpiresAt)
	}
	link.UpdatedAt = m.now()
	return clone(link), nil
}

func (m *Memory) Delete(ctx context.Context, id, userID uint64) (*shortlink.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, err := m.owned(id, userID)
	if err != nil {
		return nil, err
	}
	m.remove(link)
	return clone(link), nil
}

func (m *Memory) DeleteMany(ctx context.Context, ids []uint64, userID uint64) ([]shortlink.ShortLink, error) {
	ids = uniqueIDs(ids)

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := make([]shortlink.ShortLink, 0, len(ids))
	for _, id := range ids {
		link, ok := m.byID[id]
		if !ok || link.UserID != userID {
			return nil, shortlink.ErrNotFound
		}
		deleted = append(deleted, *clone(link))
	}
	for i := range deleted {
		m.remove(m.byID[deleted[i].ID])
	}
	return deleted, nil
}

func (m *Memory) IncrementClicks(ctx context.Context, code string, delta int64) error {
	if delta <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byCode[code]
	if !ok {
		return shortlink.ErrNotFound
	}
	m.byID[id].Clicks += uint64(delta)
	return nil
}

func (m *Memory) RegenerateCode(ctx context.Context, id uint64) (*shortlink.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.byID[id]
	if !ok {
		return nil, shortlink.ErrNotFound
	}
	if old := link.CodeValue(); old != "" {
		delete(m.byCode, old)
	}
	if err := m.assignCode(link); err != nil {
		return nil, err
	}
	return clone(link), nil
}

func (m *Memory) RepairCodes(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	repaired := 0
	for _, link := range m.byID {
		if link.CodeValue() != "" {
			continue
		}
		if err := m.assignCode(link); err != nil {
			return repaired, err
		}
		repaired++
	}
	return repaired, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) assignCode(link *shortlink.ShortLink) error {
	code, err := deriveCode(m.codec, link.ID)
	if err != nil {
		return err
	}
	link.Code = &code
	m.byCode[code] = link.ID
	return nil
}

func (m *Memory) owned(id, userID uint64) (*shortlink.ShortLink, error) {
	link, ok := m.byID[id]
	if !ok {
		return nil, shortlink.ErrNotFound
	}
	if link.UserID != userID {
		return nil, shortlink.ErrForbidden
	}
	return link, nil
}

func (m *Memory) remove(link *shortlink.ShortLink) {
	delete(m.byID, link.ID)
	if code := link.CodeValue(); code != "" {
		delete(m.byCode, code)
	}
}

func clone(link *shortlink.ShortLink) *shortlink.ShortLink {
	c := *link
	if link.Code != nil {
		code := *link.Code
		c.Code = &code
	}
	c.ExpiresAt = copyTime(link.ExpiresAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
