// Package storage implements shortlink.Store on Postgres (via gorm) and in
// memory.
package storage

import (
	"fmt"

	"github.com/MagnunAVF/shortlink-service/internal/codec"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// deriveCode encodes id and checks the codec maps it back, so a
// misconfigured codec can never persist a code that resolves elsewhere.
func deriveCode(c codec.Codec, id uint64) (string, error) {
	code, err := c.Encode(id)
	if err != nil {
		return "", err
	}
	back, err := c.Decode(code)
	if err != nil || back != id {
		return "", fmt.Errorf("code %q for id %d does not decode back (got %d): %w", code, id, back, codec.ErrInvalidCode)
	}
	return code, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func uniqueIDs(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
