// Package cache is the resolution cache in front of the link store. It
// remembers what a short code resolved to (destination, not found or
// expired) for one shared TTL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
)

// Backend stores encoded resolutions with a TTL. A Get on a missing or
// elapsed key reports ok == false.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// Resolutions is the typed view over a Backend used by the redirect path.
type Resolutions struct {
	backend Backend
	ttl     time.Duration
}

func New(backend Backend, ttl time.Duration) *Resolutions {
	return &Resolutions{backend: backend, ttl: ttl}
}

func (r *Resolutions) TTL() time.Duration {
	return r.ttl
}

func Key(code string) string {
	return "code:" + code
}

// Get returns the cached resolution for code. ok is false on a miss.
func (r *Resolutions) Get(ctx context.Context, code string) (shortlink.Resolution, bool, error) {
	raw, ok, err := r.backend.Get(ctx, Key(code))
	if err != nil || !ok {
		return shortlink.Resolution{}, false, err
	}
	res, err := decode(raw)
	if err != nil {
		return shortlink.Resolution{}, false, fmt.Errorf("cache entry %q: %w", code, err)
	}
	return res, true, nil
}

func (r *Resolutions) PutDestination(ctx context.Context, code, url string) error {
	return r.put(ctx, code, shortlink.Destination(url))
}

func (r *Resolutions) PutNotFound(ctx context.Context, code string) error {
	return r.put(ctx, code, shortlink.NotFound())
}

func (r *Resolutions) PutExpired(ctx context.Context, code string) error {
	return r.put(ctx, code, shortlink.Expired())
}

// Invalidate drops the entries for codes so the next redirect goes back to
// the store.
func (r *Resolutions) Invalidate(ctx context.Context, codes ...string) error {
	keys := make([]string, 0, len(codes))
	for _, c := range codes {
		if c != "" {
			keys = append(keys, Key(c))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return r.backend.Delete(ctx, keys...)
}

func (r *Resolutions) Ping(ctx context.Context) error {
	return r.backend.Ping(ctx)
}

func (r *Resolutions) put(ctx context.Context, code string, res shortlink.Resolution) error {
	raw, err := encode(res)
	if err != nil {
		return err
	}
	return r.backend.Set(ctx, Key(code), raw, r.ttl)
}

type entry struct {
	Outcome string `json:"outcome"`
	URL     string `json:"url,omitempty"`
}

func encode(res shortlink.Resolution) ([]byte, error) {
	switch res.Outcome {
	case shortlink.OutcomeDestination, shortlink.OutcomeNotFound, shortlink.OutcomeExpired:
	default:
		return nil, fmt.Errorf("cache: cannot store %s", res.Outcome)
	}
	return json.Marshal(entry{Outcome: res.Outcome.String(), URL: res.URL})
}

func decode(raw []byte) (shortlink.Resolution, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return shortlink.Resolution{}, err
	}
	switch e.Outcome {
	case shortlink.OutcomeDestination.String():
		if e.URL == "" {
			return shortlink.Resolution{}, fmt.Errorf("destination without url")
		}
		return shortlink.Destination(e.URL), nil
	case shortlink.OutcomeNotFound.String():
		return shortlink.NotFound(), nil
	case shortlink.OutcomeExpired.String():
		return shortlink.Expired(), nil
	default:
		return shortlink.Resolution{}, fmt.Errorf("unknown outcome %q", e.Outcome)
	}
}
