package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetAccessGroup(r.Context())))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"metro": "k-metro", "county": "k-county"})(groupEcho())

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"bearer", "Bearer k-county", http.StatusOK, "county"},
		{"bare key", "k-metro", http.StatusOK, "metro"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"unknown", "Bearer nope", http.StatusUnauthorized, ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/bundle", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestRateLimitPerGroup(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	now := time.Unix(1000, 0)
	limiter.now = func() time.Time { return now }
	h := RateLimitMiddleware(limiter)(groupEcho())

	call := func(group string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/bundle", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req = req.WithContext(WithAccessGroup(req.Context(), group))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusOK, call("b"), "buckets are per access group")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("a"))
}

func TestRateLimiterPrune(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	now := time.Unix(0, 0)
	limiter.now = func() time.Time { return now }
	limiter.Allow("x")

	now = now.Add(11 * time.Minute)
	limiter.prune(10 * time.Minute)
	assert.Empty(t, limiter.visitors)
}

type checkFunc func(context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	ok := checkFunc(func(context.Context) error { return nil })
	down := checkFunc(func(context.Context) error { return errors.New("bucket unreachable") })

	rec := httptest.NewRecorder()
	HealthHandler(map[string]HealthChecker{"db": ok, "storage": ok}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthHandler(map[string]HealthChecker{"db": ok, "storage": down}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "bucket unreachable")
}

func TestValidate(t *testing.T) {
	type body struct {
		Name string `validate:"required"`
		Pct  int    `validate:"gte=-1,lte=100"`
	}
	require.NoError(t, Validate(body{Name: "x", Pct: 50}))

	err := Validate(body{Pct: 101})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "body.Name failed on required")
	assert.Contains(t, err.Error(), "body.Pct failed on lte")

	assert.ErrorIs(t, Invalid("bad lat %q", "x"), ErrValidation)
}

func TestLoggingKeepsStatus(t *testing.T) {
	h := LoggingMiddleware(nil)(MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
