package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/investportal/pkg/ratelimit"
)

// RateLimit 按 路由 scope + 客户端 IP 限流，限流器故障时放行
func RateLimit(limiter ratelimit.RateLimiter, policy ratelimit.Policy, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := RouteScope(c.FullPath())
		limit := policy.For(scope)
		key := ratelimit.Key(scope, c.ClientIP())

		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			log.WarnContext(c.Request.Context(), "rate limiter unavailable", "scope", scope, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))

		if !res.Allowed {
			log.InfoContext(c.Request.Context(), "request rate limited", "scope", scope, "client_ip", c.ClientIP())
			c.Header("Retry-After", strconv.FormatInt(int64(res.RetryAfter/time.Second), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too Many Requests",
				"scope":       scope,
				"retry_after": res.RetryAfter.String(),
			})
			return
		}
		c.Next()
	}
}

// RouteScope 取路由模板最后一个非参数段，/escrow/accounts/:id/release -> release
func RouteScope(fullPath string) string {
	segments := strings.Split(strings.Trim(fullPath, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		s := segments[i]
		if s != "" && !strings.HasPrefix(s, ":") && !strings.HasPrefix(s, "*") {
			return s
		}
	}
	return "default"
}
