package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(rps float64, burst int) (*RateLimiter, *time.Time) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(RateLimitConfig{
		RequestsPerSecond: rps,
		BurstSize:         burst,
		SkipPaths:         []string{"/healthz"},
		IdleTimeout:       time.Minute,
	})
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	l, now := newTestLimiter(1, 2)
	h := l.Handler(statusHandler(http.StatusOK))

	serve := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/v1/citations/resolve", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, serve().Code)
	w := serve()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = serve()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])

	*now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve().Code, "a token refills after one second")
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	ok, _, _ := l.Reserve("a")
	assert.True(t, ok)
	ok, _, wait := l.Reserve("a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)
	ok, _, _ = l.Reserve("b")
	assert.True(t, ok)
}

func TestRateLimiter_SkipAndDisabled(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	h := l.Handler(statusHandler(http.StatusOK))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	off := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0}).Handler(statusHandler(http.StatusOK))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		off.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	l, now := newTestLimiter(1, 1)
	l.Reserve("old")
	*now = now.Add(2 * time.Minute)
	l.Reserve("fresh")
	assert.Equal(t, 1, l.Cleanup())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
