package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/shortlink-service/internal/cache"
	"github.com/MagnunAVF/shortlink-service/internal/clicks"
	"github.com/MagnunAVF/shortlink-service/internal/codec"
	"github.com/MagnunAVF/shortlink-service/internal/httpapi"
	"github.com/MagnunAVF/shortlink-service/internal/redirect"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
	"github.com/MagnunAVF/shortlink-service/internal/storage"
)

const testSecret = "test-secret"

type countingStore struct {
	*storage.Memory
	codeLookups atomic.Int32
}

func (s *countingStore) FindByCode(ctx context.Context, code string) (*shortlink.ShortLink, error) {
	s.codeLookups.Add(1)
	return s.Memory.FindByCode(ctx, code)
}

type brokenStore struct {
	*storage.Memory
}

func (brokenStore) FindByCode(context.Context, string) (*shortlink.ShortLink, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

type noopScheduler struct{ calls atomic.Int32 }

func (s *noopScheduler) Schedule(context.Context, string, time.Duration) error {
	s.calls.Add(1)
	return nil
}

type harness struct {
	app   *fiber.App
	store *countingStore
	acc   *clicks.Accumulator
	sched *noopScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := codec.NewHashids("http-test", 6)
	require.NoError(t, err)
	return newHarnessWith(t, &countingStore{Memory: storage.NewMemory(c)}, nil)
}

func newHarnessWith(t *testing.T, store *countingStore, links shortlink.Store) *harness {
	t.Helper()
	if links == nil {
		links = store
	}
	resolutions := cache.New(cache.NewMemory(time.Minute), 10*time.Minute)
	sched := &noopScheduler{}
	acc := clicks.NewAccumulator(clicks.NewMemoryCounter(), store, sched, clicks.Options{FlushDelay: 10 * time.Minute})

	app := httpapi.NewApp(httpapi.Deps{
		Resolver:     redirect.NewService(links, resolutions, acc),
		Links:        links,
		Cache:        resolutions,
		Clicks:       acc,
		CacheBackend: "memory",
		AppDomain:    "https://sho.rt",
		AppEnv:       "testing",
		JWTSecret:    []byte(testSecret),
	})
	return &harness{app: app, store: store, acc: acc, sched: sched}
}

func token(t *testing.T, userID uint64) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(userID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, method, path string, userID uint64, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (h *harness) createLink(t *testing.T, userID uint64, url string, expiresAt *time.Time) *shortlink.ShortLink {
	t.Helper()
	link, err := h.store.Create(context.Background(), shortlink.CreateParams{UserID: userID, OriginalURL: url, ExpiresAt: expiresAt})
	require.NoError(t, err)
	return link
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}
