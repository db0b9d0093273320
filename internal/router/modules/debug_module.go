package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
)

type DebugModule struct {
	Limit LimiterFactory
}

func NewDebugModule(limit LimiterFactory) *DebugModule { return &DebugModule{Limit: limit} }

func (m *DebugModule) Register(rg *gin.RouterGroup) {
	// Prometheus metrics, rate-limited per IP
	rg.GET("/debug/metrics", m.Limit(120, time.Minute, middleware.KeyByIP()), gin.WrapH(promhttp.Handler()))
}
