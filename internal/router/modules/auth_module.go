package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	handlers "github.com/oksasatya/go-ddd-school-auth/internal/interface/http"
	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
)

// AuthModule wires the sign-in and credential recovery endpoints.
// Public: POST /api/auth/{login,refresh,logout,register,password/forgot,password/reset,email/confirm,password/strength}
// GET /api/auth/email/available
type AuthModule struct {
	Handler *handlers.AuthHandler
	Auth    middleware.Authenticator
	Limit   LimiterFactory
}

func NewAuthModule(h *handlers.AuthHandler, auth middleware.Authenticator, limit LimiterFactory) *AuthModule {
	return &AuthModule{Handler: h, Auth: auth, Limit: limit}
}

func (m *AuthModule) Register(rg *gin.RouterGroup) {
	g := rg.Group("/auth")

	loginLimiter := m.Limit(30, time.Minute, middleware.KeyByIP())
	refreshLimiter := m.Limit(60, time.Minute, middleware.KeyByIP())
	recoveryLimiter := m.Limit(5, time.Minute, middleware.KeyByIPAndPath())
	lookupLimiter := m.Limit(30, time.Minute, middleware.KeyByIPAndPath())

	g.POST("/login", loginLimiter, m.Handler.Login)
	g.POST("/refresh", refreshLimiter, m.Handler.Refresh)
	g.POST("/logout", middleware.OptionalAuth(m.Auth), m.Handler.Logout)
	g.POST("/register", recoveryLimiter, middleware.OptionalAuth(m.Auth), m.Handler.Register)

	g.POST("/password/forgot", recoveryLimiter, m.Handler.ForgotPassword)
	g.POST("/password/reset", lookupLimiter, m.Handler.ResetPassword)
	g.POST("/password/strength", lookupLimiter, m.Handler.PasswordStrength)
	g.POST("/email/confirm", lookupLimiter, m.Handler.ConfirmEmail)
	g.GET("/email/available", lookupLimiter, m.Handler.EmailAvailable)
}
