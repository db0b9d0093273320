package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
)

// LimiterFactory builds a request-volume limiter for a route group.
type LimiterFactory func(limit int, window time.Duration, key middleware.KeyFunc) gin.HandlerFunc

// RedisLimiter returns a factory backed by rdb. A nil client yields
// pass-through limiters.
func RedisLimiter(rdb *redis.Client, logger *logrus.Logger) LimiterFactory {
	return func(limit int, window time.Duration, key middleware.KeyFunc) gin.HandlerFunc {
		if rdb == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(rdb, limit, window, key, middleware.AllowPrivateIP(), logger)
	}
}
