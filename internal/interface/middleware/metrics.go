package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/go-ddd-school-auth/internal/observability/metrics"
)

// Metrics counts requests by route template and status.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		metrics.ObserveHTTPRequest(c.Request.Method, normalizePath(c), strconv.Itoa(c.Writer.Status()))
	}
}
