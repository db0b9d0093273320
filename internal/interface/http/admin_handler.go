package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
	"github.com/oksasatya/go-ddd-school-auth/pkg/response"
	"github.com/oksasatya/go-ddd-school-auth/pkg/validation"
)

// AuditSearcher reads back the security audit trail of a user.
type AuditSearcher interface {
	Search(ctx context.Context, userID string, size int) ([]map[string]any, error)
}

// AdminHandler serves account administration for school administrators.
type AdminHandler struct {
	Svc    *application.Service
	Audit  AuditSearcher
	Logger *logrus.Logger
}

func NewAdminHandler(svc *application.Service, audit AuditSearcher, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{Svc: svc, Audit: audit, Logger: logger}
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *AdminHandler) actor(c *gin.Context) (application.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.ErrorWithCode[any](c, http.StatusUnauthorized, "AUTH_MISSING_TOKEN", "missing access token", nil)
	}
	return p, ok
}

func (h *AdminHandler) ChangeRole(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	u, err := h.Svc.ChangeRole(c.Request.Context(), actor, c.Param("id"), req.Role)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, u, "role changed", nil)
}

func (h *AdminHandler) SetActive(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	u, err := h.Svc.SetActive(c.Request.Context(), actor, c.Param("id"), *req.Active)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, u, "account updated", nil)
}

func (h *AdminHandler) Unlock(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	u, err := h.Svc.Unlock(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, u, "account unlocked", nil)
}

// AuditTrail returns the latest audit events of a user. Only the top role
// reads the trail.
func (h *AdminHandler) AuditTrail(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	if !actor.Role.IsTop() {
		writeError(c, h.Logger, entity.PolicyViolation("AUTH_FORBIDDEN", entity.ErrForbidden))
		return
	}
	if h.Audit == nil {
		writeError(c, h.Logger, entity.TransientError("AUTH_AUDIT_UNAVAILABLE", entity.ErrUnavailable))
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "50"))
	if err != nil || size <= 0 || size > 500 {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"size": "must be between 1 and 500"})
		return
	}
	hits, err := h.Audit.Search(c.Request.Context(), c.Param("id"), size)
	if err != nil {
		writeError(c, h.Logger, entity.TransientError("AUTH_AUDIT_UNAVAILABLE", errors.Join(entity.ErrUnavailable, err)))
		return
	}
	response.Success(c, http.StatusOK, hits, "audit trail", map[string]any{"count": len(hits)})
}
