package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, prepare func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	prepare(req)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func fromAddr(addr string) func(*http.Request) {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func TestRateLimit_UnderLimit(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(5, time.Minute), nil)(okHandler())

	for i := range 5 {
		w := serve(h, fromAddr("192.168.1.1:12345"))
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(2, time.Minute), nil)(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, serve(h, fromAddr("10.0.0.1:9999")).Code)
	}

	w := serve(h, fromAddr("10.0.0.1:9999"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var (
		code    int
		message string
	)
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			code, err = d.Int()
		case "message":
			message, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", message)
}

func TestRateLimit_DifferentIPs(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(1, time.Minute), nil)(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, fromAddr("10.0.0.1:1234")).Code)
	assert.Equal(t, http.StatusOK, serve(h, fromAddr("10.0.0.2:1234")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, fromAddr("10.0.0.1:5678")).Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	byKey := func(r *http.Request) string { return r.Header.Get("api_key") }
	h := RateLimit(NewMemoryLimiter(1, time.Minute), byKey)(okHandler())
	withKey := func(k string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("api_key", k) }
	}

	assert.Equal(t, http.StatusOK, serve(h, withKey("key-a")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, withKey("key-a")).Code)
	assert.Equal(t, http.StatusOK, serve(h, withKey("key-b")).Code)
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(1, time.Minute), nil)(okHandler())
	forwarded := func(remote string) func(*http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = remote
			r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
		}
	}

	assert.Equal(t, http.StatusOK, serve(h, forwarded("192.168.1.1:4444")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, forwarded("192.168.1.2:5555")).Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, time.Time) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(brokenLimiter{}, nil)(okHandler())

	w := serve(h, fromAddr("10.0.0.9:1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	l := NewMemoryLimiter(2, time.Minute)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for range 2 {
		d, err := l.Allow(ctx, "k", start)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, "k", start.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// The previous window counts fully right after rotation.
	d, err = l.Allow(ctx, "k", start.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.Allow(ctx, "k", start.Add(time.Minute+40*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	now := time.Now()

	_, _ = l.Allow(context.Background(), "a", now)
	_, _ = l.Allow(context.Background(), "b", now.Add(90*time.Second))
	require.Equal(t, 2, l.size())

	l.Cleanup(now.Add(2 * time.Minute))
	assert.Equal(t, 1, l.size())
}
