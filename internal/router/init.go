package router

import (
	"github.com/oksasatya/go-ddd-school-auth/internal/container"
	handlers "github.com/oksasatya/go-ddd-school-auth/internal/interface/http"
	"github.com/oksasatya/go-ddd-school-auth/internal/router/modules"
)

type moduleDeps struct {
	Auth    *handlers.AuthHandler
	User    *handlers.UserHandler
	Admin   *handlers.AdminHandler
	Limiter modules.LimiterFactory
}

func buildDeps() moduleDeps {
	cfg := container.GetConfig()
	svc := container.GetAuthService()
	logger := container.GetLogger()

	var auditSearch handlers.AuditSearcher
	if sink := container.GetAuditSink(); sink != nil {
		auditSearch = sink
	}

	return moduleDeps{
		Auth:    handlers.NewAuthHandler(svc, logger, cfg.CookieDomain, cfg.CookieSecure),
		User:    handlers.NewUserHandler(svc, logger),
		Admin:   handlers.NewAdminHandler(svc, auditSearch, logger),
		Limiter: modules.RedisLimiter(container.GetRedis(), logger),
	}
}

// InitModules initializes all application modules and registers them with the router registry
// This function should be called once during application startup to wire up all modules
func InitModules(r *Registry) {
	d := buildDeps()
	svc := container.GetAuthService()
	r.Add(modules.NewAuthModule(d.Auth, svc, d.Limiter))
	r.Add(modules.NewAccountModule(d.User, d.Auth, svc, d.Limiter))
	r.Add(modules.NewAdminModule(d.Admin, svc, d.Limiter))
	if container.GetConfig().DebugMetricsEnabled {
		r.Add(modules.NewDebugModule(d.Limiter))
	}
}
