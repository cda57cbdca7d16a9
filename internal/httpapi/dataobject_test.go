package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/internal/precache"
	"github.com/wtsi-hgi/irobot/internal/precache/alloc"
	"github.com/wtsi-hgi/irobot/internal/precache/checksum"
	"github.com/wtsi-hgi/irobot/internal/precache/manager"
	"github.com/wtsi-hgi/irobot/internal/precache/store"
	"github.com/wtsi-hgi/irobot/internal/remote"
)

func newTestHandler(t *testing.T) (*DataObjectHandler, *manager.Manager, *remote.MemoryStore) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	st, err := store.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	al := alloc.New(t.TempDir())
	sum := checksum.New(16, 2)
	rs := remote.NewMemoryStore()

	m := manager.New(manager.Config{}, st, al, sum, rs)
	require.NoError(t, m.Open(context.Background()))
	t.Cleanup(m.Close)

	return NewDataObjectHandler(m), m, rs
}

func waitForReady(t *testing.T, m *manager.Manager, path string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h, err := m.Get(context.Background(), path)
		if err == nil {
			h.Release()
			return
		}
		var ip *precache.InProgressError
		if !errors.As(err, &ip) {
			t.Fatalf("Get(%s): %v", path, err)
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s to become ready", path)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestGetUnknownObjectReturns202(t *testing.T) {
	h, _, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("hello precache world"))

	req := httptest.NewRequest(http.MethodGet, "/zone/home/alice/foo.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetReadyObjectReturns200WithWholeBody(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("hello precache world"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodGet, "/zone/home/alice/foo.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello precache world", rec.Body.String())
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestGetUnknownObjectDeniedReturns403(t *testing.T) {
	h, _, rs := newTestHandler(t)
	rs.Deny("/zone/home/alice/secret.txt")

	req := httptest.NewRequest(http.MethodGet, "/zone/home/alice/secret.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetRootPathReturns404(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSingleRangeReturns206(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("0123456789"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodGet, "/zone/home/alice/foo.txt", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
	assert.Equal(t, "bytes 2-5/10", rec.Header().Get("Content-Range"))
}

func TestGetMultiRangeReturnsMultipart(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("0123456789"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodGet, "/zone/home/alice/foo.txt", nil)
	req.Header.Set("Range", "bytes=0-1,4-5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "multipart/byteranges")
	assert.Contains(t, rec.Body.String(), "01")
	assert.Contains(t, rec.Body.String(), "45")
}

func TestGetUnsatisfiableRangeReturns416(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("0123456789"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodGet, "/zone/home/alice/foo.txt", nil)
	req.Header.Set("Range", "bytes=100-200")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestGetIfNoneMatchHitReturns304(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("0123456789"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodGet, "/zone/home/alice/foo.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")

	req2 := httptest.NewRequest(http.MethodGet, "/zone/home/alice/foo.txt", nil)
	req2.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusNotModified, rec2.Code)
}

func TestHeadReturnsNoBody(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("0123456789"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodHead, "/zone/home/alice/foo.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
}

func TestDeleteReadyObjectReturns204(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("0123456789"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodDelete, "/zone/home/alice/foo.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteUnknownObjectReturns404(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/zone/home/alice/nope.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMetadataNegotiatedReturnsVndJSON(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("0123456789"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodGet, "/zone/home/alice/foo.txt", nil)
	req.Header.Set("Accept", "application/vnd.irobot.metadata+json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/vnd.irobot.metadata+json")
	assert.Contains(t, rec.Body.String(), `"checksum"`)
	assert.Contains(t, rec.Body.String(), `"timestamps"`)
}

func TestReseedUnchangedObjectReturns201(t *testing.T) {
	h, m, rs := newTestHandler(t)
	rs.Put("/zone/home/alice/foo.txt", []byte("0123456789"))
	waitForReady(t, m, "/zone/home/alice/foo.txt")

	req := httptest.NewRequest(http.MethodPost, "/zone/home/alice/foo.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}
