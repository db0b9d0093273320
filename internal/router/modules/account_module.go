package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	handlers "github.com/oksasatya/go-ddd-school-auth/internal/interface/http"
	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
)

// AccountModule wires the endpoints of the signed-in user.
// Protected: GET /api/me, GET /api/me/sessions, DELETE /api/me/sessions/:id,
// POST /api/me/password, POST /api/me/logout-all, POST /api/me/email/confirmation
type AccountModule struct {
	Users *handlers.UserHandler
	Auth  *handlers.AuthHandler
	Authn middleware.Authenticator
	Limit LimiterFactory
}

func NewAccountModule(users *handlers.UserHandler, auth *handlers.AuthHandler, authn middleware.Authenticator, limit LimiterFactory) *AccountModule {
	return &AccountModule{Users: users, Auth: auth, Authn: authn, Limit: limit}
}

func (m *AccountModule) Register(rg *gin.RouterGroup) {
	me := rg.Group("/me")
	me.Use(middleware.Auth(m.Authn))
	me.Use(m.Limit(120, time.Minute, middleware.KeyByUserID()))
	{
		me.GET("", m.Users.Me)
		me.GET("/sessions", m.Users.Sessions)
		me.DELETE("/sessions/:id", m.Users.RevokeSession)
		me.POST("/password", m.Auth.ChangePassword)
		me.POST("/logout-all", m.Auth.LogoutAll)
		me.POST("/email/confirmation", m.Limit(5, time.Minute, middleware.KeyByUserID()), m.Auth.SendEmailConfirmation)
	}
}
