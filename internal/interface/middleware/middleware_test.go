package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	id := rec.Header().Get(middleware.RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.Body.String())

	inbound := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(middleware.RequestIDHeader, inbound)
	assert.Equal(t, inbound, serve(r, req).Body.String())

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(middleware.RequestIDHeader, "<script>")
	assert.NotEqual(t, "<script>", serve(r, req).Body.String())
}

func TestRealIP(t *testing.T) {
	cases := []struct {
		name    string
		trusted bool
		headers map[string]string
		want    string
	}{
		{"direct", false, nil, "192.0.2.1"},
		{"untrusted forwarded header", false, map[string]string{"X-Forwarded-For": "198.51.100.7"}, "192.0.2.1"},
		{"trusted forwarded header", true, map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "198.51.100.7"},
		{"cloudflare wins", true, map[string]string{"CF-Connecting-IP": "203.0.113.9", "X-Forwarded-For": "198.51.100.7"}, "203.0.113.9"},
		{"garbage ignored", true, map[string]string{"X-Forwarded-For": "not-an-ip"}, "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			require.NoError(t, r.SetTrustedProxies(nil))
			r.Use(middleware.RealIP(tc.trusted))
			r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, middleware.SourceAddress(c)) })
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, serve(r, req).Body.String())
		})
	}
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	r.GET("/x", middleware.RateLimit(rdb, 2, time.Minute, middleware.KeyByIPAndPath(), nil, nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 2; i++ {
		rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "AUTH_RATE_LIMITED")

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestRateLimitFailsOpenAndHonoursAllow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	r.GET("/x", middleware.RateLimit(rdb, 1, time.Minute, middleware.KeyByIP(), middleware.AllowPrivateIP(), nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	private := httptest.NewRequest(http.MethodGet, "/x", nil)
	private.RemoteAddr = "10.1.2.3:4000"
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, serve(r, private).Code)
	}

	mr.Close()
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	}
}

type fakeAuthenticator map[string]application.Principal

func (f fakeAuthenticator) Authenticate(_ context.Context, token string) (application.Principal, error) {
	p, ok := f[token]
	if !ok {
		return application.Principal{}, errors.New("unknown token")
	}
	return p, nil
}

func TestAuthAndRequireRole(t *testing.T) {
	auth := fakeAuthenticator{
		"teacher": {UserID: "u1", SessionID: "s1", Role: entity.MustRole(entity.RoleTeacher), SchoolID: "school-1"},
		"admin":   {UserID: "u2", SessionID: "s2", Role: entity.MustRole(entity.RoleSchoolAdmin), SchoolID: "school-1"},
	}
	r := gin.New()
	r.GET("/me", middleware.Auth(auth), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(middleware.CtxUserIDKey)+"/"+c.GetString(middleware.CtxSessionIDKey))
	})
	r.GET("/admin", middleware.Auth(auth), middleware.RequireRole(entity.RoleSchoolAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/optional", middleware.OptionalAuth(auth), func(c *gin.Context) {
		_, ok := middleware.PrincipalFrom(c)
		if ok {
			c.String(http.StatusOK, "known")
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH_MISSING_TOKEN")

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH_INVALID_TOKEN")

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: helpers.AccessCookie, Value: "teacher"})
	rec = serve(r, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1/s1", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer teacher")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer admin")
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)

	assert.Equal(t, "anonymous", serve(r, httptest.NewRequest(http.MethodGet, "/optional", nil)).Body.String())
	req = httptest.NewRequest(http.MethodGet, "/optional", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	assert.Equal(t, "anonymous", serve(r, req).Body.String())
	req = httptest.NewRequest(http.MethodGet, "/optional", nil)
	req.Header.Set("Authorization", "Bearer admin")
	assert.Equal(t, "known", serve(r, req).Body.String())
}
