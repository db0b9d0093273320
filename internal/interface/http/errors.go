package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
	"github.com/oksasatya/go-ddd-school-auth/pkg/response"
)

// StatusOf maps a domain error to its HTTP status. Sentinels with their own
// status win over the error kind.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidCredentials), errors.Is(err, entity.ErrInvalidRefreshToken):
		return http.StatusUnauthorized
	case errors.Is(err, entity.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, entity.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, entity.ErrForbidden):
		return http.StatusForbidden
	}
	switch entity.KindOf(err) {
	case entity.KindValidation:
		return http.StatusBadRequest
	case entity.KindNotFound:
		return http.StatusNotFound
	case entity.KindConflict:
		return http.StatusConflict
	case entity.KindPolicy:
		return http.StatusUnprocessableEntity
	case entity.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicContext lists the error context keys that may be shown to clients.
var publicContext = []string{"violations", "field", "locked_until"}

func writeError(c *gin.Context, logger *logrus.Logger, err error) {
	status := StatusOf(err)
	code := entity.CodeOf(err)
	if status >= http.StatusInternalServerError {
		helpers.LogError(logger, "request failed", err, logrus.Fields{
			"request_id": c.GetString("request_id"),
			"path":       c.FullPath(),
		})
	}
	if status == http.StatusInternalServerError {
		response.ErrorWithCode[any](c, status, "AUTH_INTERNAL", "internal error", nil)
		return
	}
	var details map[string]any
	if ctx := entity.ContextOf(err); len(ctx) > 0 {
		for _, k := range publicContext {
			if v, ok := ctx[k]; ok && v != nil {
				if details == nil {
					details = map[string]any{}
				}
				details[k] = v
			}
		}
	}
	msg := rootMessage(err)
	if details == nil {
		response.ErrorWithCode[any](c, status, code, msg, nil)
		return
	}
	response.ErrorWithCode[any](c, status, code, msg, details)
}

// rootMessage returns the sentinel text, never the wrapped infrastructure error.
func rootMessage(err error) string {
	for _, s := range []error{
		entity.ErrInvalidCredentials, entity.ErrAccountLocked, entity.ErrRateLimited,
		entity.ErrInvalidRefreshToken, entity.ErrInvalidToken, entity.ErrForbidden,
		entity.ErrWeakPassword, entity.ErrCompromisedPassword, entity.ErrEmailTaken,
		entity.ErrUserNotFound, entity.ErrSessionNotFound, entity.ErrSessionInactive,
		entity.ErrConcurrentUpdate, entity.ErrInvalidInput, entity.ErrUnavailable,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "request failed"
}
