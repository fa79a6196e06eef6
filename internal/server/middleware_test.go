package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.2.3.4:5", "10.0.0.1"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 10.0.0.3 "}, "1.2.3.4:5", "10.0.0.3"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.4"}, "1.2.3.4:5", "10.0.0.4"},
		{"remote addr", nil, "1.2.3.4:5", "1.2.3.4"},
		{"bare remote", nil, "1.2.3.4", "1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	assert.Nil(t, rl.Allow("a"))
	assert.Nil(t, rl.Allow("a"))
	err := rl.Allow("a")
	require.NotNil(t, err)
	assert.InDelta(t, 1.0, err.Limit, 1e-9)
	assert.Positive(t, err.RetryAfter)
	assert.Contains(t, err.Error(), "rate limit exceeded")

	assert.Nil(t, rl.Allow("b"), "clients are limited independently")

	now = now.Add(time.Second)
	assert.Nil(t, rl.Allow("a"))
	assert.Equal(t, 2, rl.Clients())
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, 0)
	rl.now = func() time.Time { return now }

	assert.Nil(t, rl.Allow("a"))
	now = now.Add(idleClientTTL + time.Second)
	assert.Nil(t, rl.Allow("b"))
	assert.Equal(t, 1, rl.Clients())
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 1, MetricsEnabled: true}, Deps{})

	first := serve(s, uploadRequest(t, "a.png", []byte("x"), nil))
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := serve(s, uploadRequest(t, "a.png", []byte("x"), nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decode[ErrorResponse](t, second).Error)

	// Reads are not limited.
	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	metrics := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), "medinvoice_rate_limit_hits_total 1")
}
