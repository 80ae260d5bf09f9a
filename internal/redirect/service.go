// Package redirect resolves short codes for the public redirect endpoint.
//
// The read path never waits on a durable write: resolutions are served from
// the cache when possible, and clicks go to the accumulator, which flushes
// them to the store later.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MagnunAVF/shortlink-service/internal/codec"
	"github.com/MagnunAVF/shortlink-service/internal/logger"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
)

type Finder interface {
	FindByCode(ctx context.Context, code string) (*shortlink.ShortLink, error)
}

type Cache interface {
	Get(ctx context.Context, code string) (shortlink.Resolution, bool, error)
	PutDestination(ctx context.Context, code, url string) error
	PutNotFound(ctx context.Context, code string) error
	PutExpired(ctx context.Context, code string) error
}

type ClickRecorder interface {
	RecordClick(ctx context.Context, code string) error
}

type Service struct {
	store  Finder
	cache  Cache
	clicks ClickRecorder
	now    func() time.Time
}

func NewService(store Finder, cache Cache, clicks ClickRecorder) *Service {
	return &Service{store: store, cache: cache, clicks: clicks, now: time.Now}
}

// WithClock replaces the clock used to judge expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ValidCode reports whether code could ever have been issued.
func ValidCode(code string) bool {
	if code == "" || len(code) > codec.MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
			return false
		}
	}
	return true
}

// Resolve maps code to a destination, not-found or expired outcome and
// counts the click when it resolves to a destination. The error is only
// set when the store lookup failed; nothing is cached in that case.
func (s *Service) Resolve(ctx context.Context, code string) (shortlink.Resolution, error) {
	if !ValidCode(code) {
		return shortlink.NotFound(), nil
	}
	log := logger.FromContext(ctx).With("code", code)

	cached, hit, err := s.cache.Get(ctx, code)
	if err != nil {
		log.Warn("resolution cache unavailable, falling back to store", "err", err)
	}
	if hit {
		if cached.Outcome == shortlink.OutcomeDestination {
			s.recordClick(ctx, code)
		}
		return cached, nil
	}

	link, err := s.store.FindByCode(ctx, code)
	if errors.Is(err, shortlink.ErrNotFound) {
		s.remember(ctx, code, shortlink.NotFound())
		return shortlink.NotFound(), nil
	}
	if err != nil {
		log.Error("error processing redirect", "err", err)
		return shortlink.Resolution{}, fmt.Errorf("resolve %q: %w", code, err)
	}

	if link.IsExpiredAt(s.now()) {
		s.remember(ctx, code, shortlink.Expired())
		return shortlink.Expired(), nil
	}

	res := shortlink.Destination(link.OriginalURL)
	s.remember(ctx, code, res)
	s.recordClick(ctx, code)
	return res, nil
}

func (s *Service) remember(ctx context.Context, code string, res shortlink.Resolution) {
	var err error
	switch res.Outcome {
	case shortlink.OutcomeDestination:
		err = s.cache.PutDestination(ctx, code, res.URL)
	case shortlink.OutcomeNotFound:
		err = s.cache.PutNotFound(ctx, code)
	case shortlink.OutcomeExpired:
		err = s.cache.PutExpired(ctx, code)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("could not cache resolution", "code", code, "outcome", res.Outcome.String(), "err", err)
	}
}

// recordClick logs and swallows accumulator errors; the redirect is
// answered regardless.
func (s *Service) recordClick(ctx context.Context, code string) {
	if err := s.clicks.RecordClick(ctx, code); err != nil {
		logger.FromContext(ctx).Warn("click not recorded", "code", code, "err", err)
	}
}
