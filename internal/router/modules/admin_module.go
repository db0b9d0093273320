package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	handlers "github.com/oksasatya/go-ddd-school-auth/internal/interface/http"
	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
)

// AdminModule wires account administration under /api/admin/users/:id.
// The service enforces school confinement; the role gate only filters out
// callers that can never administer anyone.
type AdminModule struct {
	Handler *handlers.AdminHandler
	Auth    middleware.Authenticator
	Limit   LimiterFactory
}

func NewAdminModule(h *handlers.AdminHandler, auth middleware.Authenticator, limit LimiterFactory) *AdminModule {
	return &AdminModule{Handler: h, Auth: auth, Limit: limit}
}

func (m *AdminModule) Register(rg *gin.RouterGroup) {
	admin := rg.Group("/admin/users/:id")
	admin.Use(
		middleware.Auth(m.Auth),
		middleware.RequireRole(entity.RoleSchoolAdmin),
		m.Limit(120, time.Minute, middleware.KeyByUserID()),
	)
	{
		admin.PUT("/role", m.Handler.ChangeRole)
		admin.PUT("/active", m.Handler.SetActive)
		admin.POST("/unlock", m.Handler.Unlock)
		admin.GET("/audit", m.Handler.AuditTrail)
	}
}
