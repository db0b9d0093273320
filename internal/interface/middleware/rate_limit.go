package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/observability/metrics"
	"github.com/oksasatya/go-ddd-school-auth/pkg/response"
)

func normalizePath(c *gin.Context) string {
	if fp := c.FullPath(); fp != "" {
		return fp
	}
	return "unmatched"
}

// KeyFunc builds a rate-limit key from the request.
type KeyFunc func(c *gin.Context) string

// KeyByIP limits by client address only.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string {
		return "auth:rl:ip:" + SourceAddress(c)
	}
}

// KeyByIPAndPath limits by client address and route.
func KeyByIPAndPath() KeyFunc {
	return func(c *gin.Context) string {
		return "auth:rl:path:" + normalizePath(c) + ":ip:" + SourceAddress(c)
	}
}

// KeyByUserID limits authenticated callers by user and anonymous ones by address.
func KeyByUserID() KeyFunc {
	return func(c *gin.Context) string {
		uid := c.GetString(CtxUserIDKey)
		if uid == "" {
			return "auth:rl:user:anon:ip:" + SourceAddress(c)
		}
		return "auth:rl:user:" + uid
	}
}

// INCR and set the window on the first hit, atomically. Returns the count
// and the remaining window in milliseconds.
var incrExpireScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

// AllowFunc returns true to bypass the limit.
type AllowFunc func(*gin.Context) bool

// RateLimit is a fixed-window request limiter for the HTTP surface. It fails
// open when Redis is unavailable. Login throttling proper lives in the
// application service; this only caps raw request volume.
func RateLimit(rdb redis.Scripter, limit int, window time.Duration, keyFn KeyFunc, allow AllowFunc, logger *logrus.Logger) gin.HandlerFunc {
	if rdb == nil || limit <= 0 || window <= 0 || keyFn == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if allow != nil && allow(c) {
			c.Next()
			return
		}
		if strings.EqualFold(c.Request.Method, http.MethodOptions) {
			c.Next()
			return
		}

		res, err := incrExpireScript.Run(c.Request.Context(), rdb, []string{keyFn(c)}, window.Milliseconds()).Int64Slice()
		if err != nil || len(res) != 2 {
			metrics.ObserveDegraded("http_rate_limit")
			if logger != nil {
				logger.WithError(err).Warn("http rate limit unavailable, failing open")
			}
			c.Next()
			return
		}
		count := int(res[0])
		resetSec := 0
		if res[1] > 0 {
			resetSec = int((time.Duration(res[1]) * time.Millisecond).Round(time.Second).Seconds())
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetSec))

		if count > limit {
			if resetSec > 0 {
				c.Header("Retry-After", strconv.Itoa(resetSec))
			}
			response.ErrorWithCode[any](c, http.StatusTooManyRequests, "AUTH_RATE_LIMITED", "rate limit exceeded", nil)
			return
		}
		c.Next()
	}
}
