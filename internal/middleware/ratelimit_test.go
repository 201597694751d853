package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/vibe/internal/config"
	"github.com/iliyamo/vibe/internal/model"
)

func limitCfg(capacity int) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       capacity,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
}

func limitedEcho(cfg config.RateLimitConfig) *echo.Echo {
	log, _ := test.NewNullLogger()
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") },
		NewTokenBucket(cfg, nil, log))
	return e
}

func get(e *echo.Echo, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLocalTokenBucketBlocksAfterCapacity(t *testing.T) {
	e := limitedEcho(limitCfg(2))

	first := get(e, "/ping", "10.0.0.1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, get(e, "/ping", "10.0.0.1").Code)

	blocked := get(e, "/ping", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Contains(t, blocked.Body.String(), "too_many_requests")

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusOK, get(e, "/ping", "10.0.0.2").Code)
}

func TestTokenBucketDisabled(t *testing.T) {
	cfg := limitCfg(1)
	cfg.Enabled = false
	e := limitedEcho(cfg)
	for i := 0; i < 5; i++ {
		rec := get(e, "/ping", "10.0.0.1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestLocalBucketsRefillAndSweep(t *testing.T) {
	cfg := limitCfg(1)
	cfg.RefillInterval = time.Second
	cfg.TTL = 10 * time.Second
	lb := newLocalBuckets(cfg)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, lb.take("k", now).allowed)
	d := lb.take("k", now)
	assert.False(t, d.allowed)
	assert.InDelta(t, time.Second, d.retry, float64(10*time.Millisecond))

	assert.True(t, lb.take("k", now.Add(time.Second)).allowed)

	later := now.Add(time.Minute)
	lb.take("other", later)
	lb.mu.Lock()
	_, kept := lb.buckets["k"]
	lb.mu.Unlock()
	assert.False(t, kept, "idle bucket is swept")
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPatch, "/posts/p1/like", nil)
	req.RemoteAddr = "10.1.1.1:9"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/posts/:id/like")
	SetPrincipal(c, model.Principal{IdentityID: "u1"})

	cfg := limitCfg(1)
	cases := map[string]string{
		"ip":         "rl:ip:10.1.1.1",
		"user":       "rl:user:u1",
		"route":      "rl:route:PATCH /posts/:id/like",
		"user_route": "rl:user:u1:route:PATCH /posts/:id/like",
		"":           "rl:ip:10.1.1.1:user:u1:route:PATCH /posts/:id/like",
	}
	for strategy, want := range cases {
		cfg.KeyStrategy = strategy
		assert.Equal(t, want, buildRateKey(cfg, c), strategy)
	}
}

func TestAsInt64(t *testing.T) {
	assert.Equal(t, int64(3), asInt64(int64(3)))
	assert.Equal(t, int64(3), asInt64(3))
	assert.Equal(t, int64(3), asInt64("3"))
	assert.Equal(t, int64(0), asInt64(nil))
}
