package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanwahyu/transit-analyst/internal/domain/results"
)

var (
	ErrURLExpired   = errors.New("signed url expired")
	ErrBadSignature = errors.New("signed url signature mismatch")
)

// Clock is the time source used to stamp and check signed URL expiry.
type Clock interface {
	Now() time.Time
}

type object struct {
	data []byte
	meta results.ObjectMeta
}

// MemoryStore is a results.BlobStore held in process memory. Signed URLs
// carry an HMAC over bucket, key and expiry and are served by ServeHTTP.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
	puts    map[string]int

	base   *url.URL
	secret []byte
	clock  Clock
}

// NewMemory creates a store whose signed URLs live under baseURL.
func NewMemory(baseURL string, secret []byte, clock Clock) (*MemoryStore, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if len(secret) == 0 {
		return nil, errors.New("memory store: empty signing secret")
	}
	return &MemoryStore{
		objects: make(map[string]object),
		puts:    make(map[string]int),
		base:    base,
		secret:  secret,
		clock:   clock,
	}, nil
}

func objectName(bucket, key string) string { return bucket + "/" + key }

func (m *MemoryStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[objectName(bucket, key)]
	return ok, nil
}

// Put reads r to the end before storing, so a failing reader leaves nothing
// behind.
func (m *MemoryStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, meta results.ObjectMeta) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if size >= 0 && int64(buf.Len()) != size {
		return fmt.Errorf("short upload for %s: got %d bytes, want %d", key, buf.Len(), size)
	}
	meta.Size = int64(buf.Len())

	name := objectName(bucket, key)
	m.mu.Lock()
	m.objects[name] = object{data: buf.Bytes(), meta: meta}
	m.puts[name]++
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, results.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, results.ObjectMeta{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[objectName(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, results.ObjectMeta{}, fmt.Errorf("%w: %s/%s", results.ErrArtifactNotFound, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.meta, nil
}

func (m *MemoryStore) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName(bucket, key))
	return nil
}

// Puts reports how many times key was written.
func (m *MemoryStore) Puts(bucket, key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[objectName(bucket, key)]
}

// Keys lists the stored keys of bucket.
func (m *MemoryStore) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for name := range m.objects {
		if k, ok := strings.CutPrefix(name, bucket+"/"); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *MemoryStore) SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error) {
	expires := m.clock.Now().Add(expiry).Unix()
	u := *m.base
	u.Path = u.Path + "/" + bucket + "/" + key
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", m.sign(bucket, key, expires))
	u.RawQuery = q.Encode()
	return &u, nil
}

func (m *MemoryStore) sign(bucket, key string, expires int64) string {
	mac := hmac.New(sha256.New, m.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", bucket, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Fetch resolves a URL produced by SignedURL.
func (m *MemoryStore) Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, results.ObjectMeta, error) {
	rest, ok := strings.CutPrefix(u.Path, m.base.Path+"/")
	if !ok {
		return nil, results.ObjectMeta{}, ErrBadSignature
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, results.ObjectMeta{}, ErrBadSignature
	}
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		return nil, results.ObjectMeta{}, ErrBadSignature
	}
	want := m.sign(bucket, key, expires)
	if !hmac.Equal([]byte(want), []byte(u.Query().Get("signature"))) {
		return nil, results.ObjectMeta{}, ErrBadSignature
	}
	if !m.clock.Now().Before(time.Unix(expires, 0)) {
		return nil, results.ObjectMeta{}, ErrURLExpired
	}
	return m.Get(ctx, bucket, key)
}

// ServeHTTP serves signed URLs so the memory driver works end to end.
func (m *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, meta, err := m.Fetch(r.Context(), r.URL)
	switch {
	case errors.Is(err, ErrURLExpired), errors.Is(err, ErrBadSignature):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, results.ErrArtifactNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer body.Close()
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	if meta.ContentEncoding != "" {
		w.Header().Set("Content-Encoding", meta.ContentEncoding)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	io.Copy(w, body)
}

// Check always succeeds.
func (m *MemoryStore) Check(context.Context) error { return nil }
