package httpapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/shortlink-service/internal/codec"
	"github.com/MagnunAVF/shortlink-service/internal/storage"
)

func TestRedirect_FoundThenCached(t *testing.T) {
	h := newHarness(t)
	link := h.createLink(t, 1, "https://example.com", nil)

	resp, _ := h.do(t, http.MethodGet, "/"+link.CodeValue(), 0, nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Location"))

	resp, _ = h.do(t, http.MethodGet, "/"+link.CodeValue(), 0, nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Location"))
	assert.EqualValues(t, 1, h.store.codeLookups.Load())
}

func TestRedirect_Expired(t *testing.T) {
	h := newHarness(t)
	yesterday := time.Now().Add(-24 * time.Hour)
	link := h.createLink(t, 1, "https://example.com", &yesterday)

	resp, body := h.do(t, http.MethodGet, "/"+link.CodeValue(), 0, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, map[string]any{"message": "Link expired"}, body)
	assert.Zero(t, h.sched.calls.Load(), "no click for expired links")
}

func TestRedirect_NotFoundCached(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 2; i++ {
		resp, body := h.do(t, http.MethodGet, "/doesnotexist", 0, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, map[string]any{"message": "Link not found"}, body)
	}
	assert.Zero(t, h.store.codeLookups.Load(), "codes longer than any issued code are never looked up")

	for i := 0; i < 2; i++ {
		resp, body := h.do(t, http.MethodGet, "/nope42", 0, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Link not found", body["message"])
	}
	assert.EqualValues(t, 1, h.store.codeLookups.Load())
}

func TestRedirect_NonAlphanumericCode(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/abc-def", 0, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Link not found", body["message"])
}

func TestRedirect_ClicksAccumulateUntilFlush(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	link := h.createLink(t, 1, "https://example.com", nil)

	for i := 0; i < 10; i++ {
		resp, _ := h.do(t, http.MethodGet, "/"+link.CodeValue(), 0, nil)
		require.Equal(t, http.StatusFound, resp.StatusCode)
	}

	stored, err := h.store.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Clicks)
	assert.EqualValues(t, 1, h.sched.calls.Load())

	require.NoError(t, h.acc.Flush(ctx, link.CodeValue()))
	stored, err = h.store.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, stored.Clicks)
}

func TestRedirect_UpdateVisibleImmediately(t *testing.T) {
	h := newHarness(t)
	link := h.createLink(t, 1, "https://example.com", nil)

	resp, _ := h.do(t, http.MethodGet, "/"+link.CodeValue(), 0, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, "/api/short-links/"+itoa(link.ID), 1, map[string]any{"original_url": "https://updated.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/"+link.CodeValue(), 0, nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://updated.com", resp.Header.Get("Location"))
}

func TestRedirect_DeleteVisibleImmediately(t *testing.T) {
	h := newHarness(t)
	link := h.createLink(t, 1, "https://example.com", nil)

	resp, _ := h.do(t, http.MethodGet, "/"+link.CodeValue(), 0, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodDelete, "/api/short-links/"+itoa(link.ID), 1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/"+link.CodeValue(), 0, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRedirect_StoreFailure(t *testing.T) {
	c, err := codec.NewHashids("http-test", 6)
	require.NoError(t, err)
	mem := storage.NewMemory(c)
	h := newHarnessWith(t, &countingStore{Memory: mem}, brokenStore{Memory: mem})

	resp, body := h.do(t, http.MethodGet, "/abc123", 0, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal error", body["message"])
}

func TestRoot(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodGet, "/", 0, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
