package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
	"github.com/oksasatya/go-ddd-school-auth/pkg/response"
)

// Context keys set by Auth.
const (
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxPrincipalKey = "principal"
)

// Authenticator resolves an access token to the caller.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (application.Principal, error)
}

// Auth accepts the access token from the access_token cookie or a Bearer
// header and requires its session to still be active.
func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.ErrorWithCode[any](c, http.StatusUnauthorized, "AUTH_MISSING_TOKEN", "missing access token", nil)
			return
		}
		p, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.ErrorWithCode[any](c, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "invalid access token", nil)
			return
		}
		c.Set(CtxUserIDKey, p.UserID)
		c.Set(CtxSessionIDKey, p.SessionID)
		c.Set(CtxPrincipalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the caller set by Auth.
func PrincipalFrom(c *gin.Context) (application.Principal, bool) {
	v, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return application.Principal{}, false
	}
	p, ok := v.(application.Principal)
	return p, ok
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if t, err := c.Cookie(helpers.AccessCookie); err == nil {
		return t
	}
	return ""
}

// OptionalAuth sets the caller when a valid access token is present and
// continues anonymously otherwise.
func OptionalAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if p, err := auth.Authenticate(c.Request.Context(), token); err == nil {
				c.Set(CtxUserIDKey, p.UserID)
				c.Set(CtxSessionIDKey, p.SessionID)
				c.Set(CtxPrincipalKey, p)
			}
		}
		c.Next()
	}
}

// RequireRole rejects callers below min.
func RequireRole(min entity.RoleCode) gin.HandlerFunc {
	floor := entity.MustRole(min)
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok || !p.Role.AtLeast(floor) {
			response.ErrorWithCode[any](c, http.StatusForbidden, "AUTH_FORBIDDEN", "insufficient privileges", nil)
			return
		}
		c.Next()
	}
}
