package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/wyfcoding/investportal/pkg/logger"
	"github.com/wyfcoding/investportal/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGinLoggingPropagatesTraceID(t *testing.T) {
	r := gin.New()
	r.Use(GinLogging(logger.Discard()))

	var seenTrace string
	r.GET("/ping", func(c *gin.Context) {
		seenTrace = logger.TraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(TraceHeader, "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trace-123", seenTrace)
	assert.Equal(t, "trace-123", w.Header().Get(TraceHeader))
}

func TestGinRecoveryReturns500(t *testing.T) {
	r := gin.New()
	r.Use(GinLogging(logger.Discard()), GinRecovery(logger.Discard()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "request_id")
}

type stubLimiter struct {
	allowed bool
	keys    []string
	limits  []ratelimit.Limit
}

func (s *stubLimiter) Allow(_ context.Context, key string, limit ratelimit.Limit) (*ratelimit.Result, error) {
	s.keys = append(s.keys, key)
	s.limits = append(s.limits, limit)
	return &ratelimit.Result{Allowed: s.allowed, RetryAfter: 2 * time.Second}, nil
}

var testPolicy = ratelimit.Policy{
	Default: ratelimit.PerSecond(50, 100),
	Scopes:  map[string]ratelimit.Limit{"release": ratelimit.PerSecond(1, 1)},
}

func TestRateLimitRejects(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(&stubLimiter{allowed: false}, testPolicy, logger.Discard()))
	r.POST("/write", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/write", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"scope":"write"`)
}

func TestRateLimitUsesRouteScope(t *testing.T) {
	stub := &stubLimiter{allowed: true}
	r := gin.New()
	r.Use(RateLimit(stub, testPolicy, logger.Discard()))
	r.POST("/escrow/accounts/:id/release", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/escrow/accounts/:id/fund", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/escrow/accounts/ESC-1/release", "/escrow/accounts/ESC-1/fund"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.7:4321"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, []string{"escrow:ratelimit:release:10.0.0.7", "escrow:ratelimit:fund:10.0.0.7"}, stub.keys)
	assert.Equal(t, 1, stub.limits[0].Rate)
	assert.Equal(t, 50, stub.limits[1].Rate)
}

func TestRouteScope(t *testing.T) {
	assert.Equal(t, "release", RouteScope("/api/v1/escrow/accounts/:id/release"))
	assert.Equal(t, "accounts", RouteScope("/api/v1/escrow/accounts"))
	assert.Equal(t, "met", RouteScope("/api/v1/escrow/conditions/:id/met"))
	assert.Equal(t, "files", RouteScope("/files/*path"))
	assert.Equal(t, "default", RouteScope(""))
}

func TestRateLimitWithRedisIsolatesScopes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	r.Use(RateLimit(ratelimit.NewRedisRateLimiter(rdb), testPolicy, logger.Discard()))
	r.POST("/escrow/accounts/:id/release", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/escrow/accounts/:id/fund", func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, post("/escrow/accounts/ESC-1/release"))
	assert.Equal(t, http.StatusTooManyRequests, post("/escrow/accounts/ESC-1/release"))
	assert.Equal(t, http.StatusOK, post("/escrow/accounts/ESC-1/fund"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	r := gin.New()
	r.Use(RateLimit(ratelimit.NewRedisRateLimiter(rdb), testPolicy, logger.Discard()))
	r.POST("/write", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/write", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
