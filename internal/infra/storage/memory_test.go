package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/transit-analyst/internal/domain/results"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewMemory("http://localhost:8080/blobs", []byte("secret"), clock)
	require.NoError(t, err)
	return m, clock
}

func TestMemoryPutGet(t *testing.T) {
	m, _ := newStore(t)
	ctx := context.Background()

	ok, err := m.Exists(ctx, "results", "a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "results", "a.png", strings.NewReader("png"), -1, results.ObjectMeta{ContentType: "image/png"}))

	ok, err = m.Exists(ctx, "results", "a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	body, meta, err := m.Get(ctx, "results", "a.png")
	require.NoError(t, err)
	defer body.Close()
	data, _ := io.ReadAll(body)
	assert.Equal(t, "png", string(data))
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, int64(3), meta.Size)
	assert.Equal(t, []string{"a.png"}, m.Keys("results"))

	_, _, err = m.Get(ctx, "results", "missing")
	assert.ErrorIs(t, err, results.ErrArtifactNotFound)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("encoder broke") }

func TestMemoryPutAbortsOnReaderError(t *testing.T) {
	m, _ := newStore(t)
	err := m.Put(context.Background(), "results", "x.grid", failingReader{}, -1, results.ObjectMeta{})
	assert.Error(t, err)
	ok, _ := m.Exists(context.Background(), "results", "x.grid")
	assert.False(t, ok)
	assert.Zero(t, m.Puts("results", "x.grid"))
}

func TestMemoryPutRejectsShortUpload(t *testing.T) {
	m, _ := newStore(t)
	err := m.Put(context.Background(), "b", "k", strings.NewReader("ab"), 5, results.ObjectMeta{})
	assert.Error(t, err)
}

func TestSignedURLRoundTrip(t *testing.T) {
	m, clock := newStore(t)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "results", "a.tiff", strings.NewReader("tiff"), 4, results.ObjectMeta{ContentType: "image/tiff"}))

	u, err := m.SignedURL(ctx, "results", "a.tiff", 15*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/blobs/results/a.tiff", u.Path)

	body, meta, err := m.Fetch(ctx, u)
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "tiff", string(data))
	assert.Equal(t, "image/tiff", meta.ContentType)

	clock.Advance(14 * time.Second)
	_, _, err = m.Fetch(ctx, u)
	assert.NoError(t, err)

	clock.Advance(time.Second)
	_, _, err = m.Fetch(ctx, u)
	assert.ErrorIs(t, err, ErrURLExpired)
}

func TestSignedURLTampering(t *testing.T) {
	m, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "results", "a.png", strings.NewReader("x"), -1, results.ObjectMeta{}))
	require.NoError(t, m.Put(ctx, "results", "b.png", strings.NewReader("y"), -1, results.ObjectMeta{}))

	u, err := m.SignedURL(ctx, "results", "a.png", time.Minute)
	require.NoError(t, err)

	other := *u
	other.Path = "/blobs/results/b.png"
	_, _, err = m.Fetch(ctx, &other)
	assert.ErrorIs(t, err, ErrBadSignature)

	later := *u
	q := later.Query()
	q.Set("expires", "99999999999")
	later.RawQuery = q.Encode()
	_, _, err = m.Fetch(ctx, &later)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestServeHTTP(t *testing.T) {
	m, clock := newStore(t)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "results", "a.grid", strings.NewReader("gz"), -1,
		results.ObjectMeta{ContentType: "application/octet-stream", ContentEncoding: "gzip"}))
	u, err := m.SignedURL(ctx, "results", "a.grid", 15*time.Second)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "gz", rec.Body.String())

	clock.Advance(time.Minute)
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
