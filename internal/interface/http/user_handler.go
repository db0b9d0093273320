package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
	"github.com/oksasatya/go-ddd-school-auth/pkg/response"
)

// UserHandler serves the caller's own account and sessions.
type UserHandler struct {
	Svc    *application.Service
	Logger *logrus.Logger
}

func NewUserHandler(svc *application.Service, logger *logrus.Logger) *UserHandler {
	return &UserHandler{Svc: svc, Logger: logger}
}

func (h *UserHandler) Me(c *gin.Context) {
	u, err := h.Svc.GetCurrentUser(c.Request.Context(), c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, u, "profile", nil)
}

func (h *UserHandler) Sessions(c *gin.Context) {
	sessions, err := h.Svc.ListSessions(c.Request.Context(), c.GetString(middleware.CtxUserIDKey), c.GetString(middleware.CtxSessionIDKey))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, sessions, "sessions", map[string]any{"count": len(sessions)})
}

func (h *UserHandler) RevokeSession(c *gin.Context) {
	err := h.Svc.RevokeSession(c.Request.Context(), c.GetString(middleware.CtxUserIDKey), c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusOK, map[string]any{"revoked": true}, "session revoked", nil)
}
