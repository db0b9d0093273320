package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
	"github.com/oksasatya/go-ddd-school-auth/pkg/response"
	"github.com/oksasatya/go-ddd-school-auth/pkg/validation"
)

type AuthHandler struct {
	Svc     *application.Service
	Logger  *logrus.Logger
	Cookies *helpers.Manager
}

func NewAuthHandler(svc *application.Service, logger *logrus.Logger, cookieDomain string, cookieSecure bool) *AuthHandler {
	return &AuthHandler{Svc: svc, Logger: logger, Cookies: helpers.NewCookie(cookieDomain, cookieSecure)}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,pwd"`
}

type registerRequest struct {
	FirstName string `json:"first_name" binding:"required,personname"`
	LastName  string `json:"last_name" binding:"required,personname"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,pwd"`
	Role      string `json:"role" binding:"required"`
	SchoolID  string `json:"school_id"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,pwd"`
	NewPassword     string `json:"new_password" binding:"required,pwd"`
	Confirmation    string `json:"confirm_password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Token        string `json:"token" binding:"required"`
	NewPassword  string `json:"new_password" binding:"required,pwd"`
	Confirmation string `json:"confirm_password" binding:"required"`
}

type confirmEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Token string `json:"token" binding:"required"`
}

type passwordRequest struct {
	Password string `json:"password" binding:"required,pwd"`
}

func tokenMeta(pair application.TokenPair) map[string]any {
	return map[string]any{"access_expires_at": pair.AccessTokenExpiry, "refresh_expires_at": pair.RefreshTokenExpiry}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	res, pair, err := h.Svc.Login(c.Request.Context(), application.LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		SourceAddress: middleware.SourceAddress(c),
		UserAgent:     c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	h.Cookies.SetPair(c, pair.AccessToken, pair.AccessTokenExpiry, pair.RefreshToken, pair.RefreshTokenExpiry)
	response.Success(c, http.StatusOK, res, "login successful", tokenMeta(pair))
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	refresh, err := c.Cookie(helpers.RefreshCookie)
	if err != nil || refresh == "" {
		response.ErrorWithCode[any](c, http.StatusUnauthorized, "AUTH_INVALID_REFRESH_TOKEN", "missing refresh token", nil)
		return
	}
	pair, _, err := h.Svc.Refresh(c.Request.Context(), refresh)
	if err != nil {
		h.Cookies.Clear(c)
		writeError(c, h.Logger, err)
		return
	}
	h.Cookies.SetPair(c, pair.AccessToken, pair.AccessTokenExpiry, pair.RefreshToken, pair.RefreshTokenExpiry)
	response.Success[any](c, http.StatusOK, map[string]any{"refreshed": true}, "token refreshed", tokenMeta(pair))
}

// Logout ends the session behind the access token, or the one behind the
// refresh cookie when the caller is not authenticated. It always succeeds for
// sessions that already ended.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	var err error
	if p, ok := middleware.PrincipalFrom(c); ok {
		err = h.Svc.Logout(ctx, p.UserID, p.SessionID)
	} else if refresh, cErr := c.Cookie(helpers.RefreshCookie); cErr == nil && refresh != "" {
		err = h.Svc.LogoutWithRefreshToken(ctx, refresh)
	}
	h.Cookies.Clear(c)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusOK, map[string]any{"logged_out": true}, "logged out", nil)
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	ended, err := h.Svc.LogoutAll(c.Request.Context(), c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	h.Cookies.Clear(c)
	response.Success[any](c, http.StatusOK, map[string]any{"sessions_ended": ended}, "logged out everywhere", nil)
}

// Register is public for parent and student accounts; an authenticated
// administrator may create the roles below its own.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	var actor *application.Principal
	if p, ok := middleware.PrincipalFrom(c); ok {
		actor = &p
	}
	info, err := h.Svc.Register(c.Request.Context(), actor, application.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		SchoolID:  req.SchoolID,
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusCreated, info, "account created", nil)
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	err := h.Svc.ChangePassword(c.Request.Context(), c.GetString(middleware.CtxUserIDKey), application.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Confirmation:    req.Confirmation,
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	h.Cookies.Clear(c)
	response.Success[any](c, http.StatusOK, map[string]any{"changed": true}, "password changed, sign in again", nil)
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	if err := h.Svc.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusAccepted, map[string]any{"sent": true}, "if the account exists, a reset link has been sent", nil)
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	err := h.Svc.ResetPassword(c.Request.Context(), application.ResetPasswordInput{
		Email:        req.Email,
		Token:        req.Token,
		NewPassword:  req.NewPassword,
		Confirmation: req.Confirmation,
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusOK, map[string]any{"reset": true}, "password reset", nil)
}

func (h *AuthHandler) SendEmailConfirmation(c *gin.Context) {
	sent, err := h.Svc.SendEmailConfirmation(c.Request.Context(), c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	msg := "confirmation email sent"
	if !sent {
		msg = "email already confirmed"
	}
	response.Success[any](c, http.StatusOK, map[string]any{"sent": sent}, msg, nil)
}

func (h *AuthHandler) ConfirmEmail(c *gin.Context) {
	var req confirmEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	if err := h.Svc.ConfirmEmail(c.Request.Context(), req.Email, req.Token); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusOK, map[string]any{"confirmed": true}, "email confirmed", nil)
}

func (h *AuthHandler) EmailAvailable(c *gin.Context) {
	available, err := h.Svc.CheckEmailAvailable(c.Request.Context(), c.Query("email"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusOK, map[string]any{"available": available}, "ok", nil)
}

func (h *AuthHandler) PasswordStrength(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	report := h.Svc.ValidatePasswordStrength(c.Request.Context(), req.Password)
	response.Success(c, http.StatusOK, report, "ok", nil)
}
