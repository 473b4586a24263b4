package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	rl.limiter("10.0.0.1")
	now = now.Add(time.Minute)
	rl.limiter("10.0.0.2")
	now = now.Add(2 * time.Minute)

	rl.evict(150 * time.Second)
	assert.NotContains(t, rl.visitors, "10.0.0.1")
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestRateLimiterIsPerIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:5678"))
	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:1234"))
	assert.Equal(t, http.StatusNoContent, do("[::1]"))
}

func TestCleanupStopsWithContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Cleanup(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}

func TestRequestIDFromContext(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	assert.Empty(t, RequestID(context.Background()))
}
