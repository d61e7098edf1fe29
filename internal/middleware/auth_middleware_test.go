package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-for-middleware"

type fakeBlacklist struct {
	revoked map[string]bool
	err     error
}

func (f *fakeBlacklist) IsRevoked(_ context.Context, token string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[token], nil
}

func setupMiddlewareTest(blacklist TokenBlacklist) (*gin.Engine, *AuthMiddleware) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	return router, NewAuthMiddleware(testJWTSecret, blacklist)
}

func generateTestToken(t *testing.T, userID, email, role, sessionID string) string {
	t.Helper()
	token, err := util.GenerateToken(userID, email, role, sessionID, testJWTSecret, 15*time.Minute)
	require.NoError(t, err)
	return token
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Authenticate_Success(t *testing.T) {
	router, auth := setupMiddlewareTest(nil)
	token := generateTestToken(t, "u-1", "broker@example.com", "broker", "sess-1")

	router.GET("/test", auth.Authenticate(), func(c *gin.Context) {
		userID, _ := GetUserID(c)
		role, _ := GetUserRole(c)
		session, _ := GetSessionID(c)
		raw, _ := GetToken(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":    userID,
			"role":       role,
			"session_id": session,
			"actor":      GetActor(c),
			"same_token": raw == token,
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(router, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u-1","role":"broker","session_id":"sess-1","actor":"broker@example.com","same_token":true}`, w.Body.String())
}

func TestAuthMiddleware_Authenticate_QueryToken(t *testing.T) {
	router, auth := setupMiddlewareTest(nil)
	token := generateTestToken(t, "u-1", "", "admin", "")

	router.GET("/ws", auth.Authenticate(), func(c *gin.Context) {
		c.String(http.StatusOK, GetActor(c))
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())
}

func TestAuthMiddleware_Authenticate_Rejections(t *testing.T) {
	expired, err := util.GenerateToken("u-1", "a@example.com", "admin", "", testJWTSecret, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"no token", "", http.StatusUnauthorized, "AUTH_UNAUTHORIZED"},
		{"invalid format", "Token abc", http.StatusUnauthorized, "AUTH_TOKEN_INVALID"},
		{"invalid token", "Bearer not-a-jwt", http.StatusUnauthorized, "AUTH_TOKEN_INVALID"},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, "AUTH_TOKEN_EXPIRED"},
		{"unknown role", "Bearer " + generateTestToken(t, "u-1", "", "customer", ""), http.StatusForbidden, "AUTHZ_ROLE_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, auth := setupMiddlewareTest(nil)
			router.GET("/test", auth.Authenticate(), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(router, req)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestAuthMiddleware_Authenticate_Blacklist(t *testing.T) {
	token := generateTestToken(t, "u-1", "", "broker", "sess-1")

	router, auth := setupMiddlewareTest(&fakeBlacklist{revoked: map[string]bool{token: true}})
	router.GET("/test", auth.Authenticate(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(router, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_TOKEN_REVOKED")

	// an unreachable blacklist does not lock users out
	router, auth = setupMiddlewareTest(&fakeBlacklist{err: errors.New("connection refused")})
	router.GET("/test", auth.Authenticate(), func(c *gin.Context) { c.Status(http.StatusOK) })
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, serve(router, req).Code)
}

func TestAuthMiddleware_RequireRole(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		allowed  []model.UserRole
		wantCode int
	}{
		{"admin allowed", "admin", []model.UserRole{model.RoleAdmin}, http.StatusOK},
		{"broker among several", "broker", []model.UserRole{model.RoleAdmin, model.RoleBroker}, http.StatusOK},
		{"store manager forbidden", "store_manager", []model.UserRole{model.RoleAdmin, model.RoleBroker}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, auth := setupMiddlewareTest(nil)
			router.GET("/test", auth.Authenticate(), auth.RequireRole(tt.allowed...), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", "Bearer "+generateTestToken(t, "u-1", "", tt.role, ""))
			assert.Equal(t, tt.wantCode, serve(router, req).Code)
		})
	}
}

func TestAuthMiddleware_RequireRole_NoRole(t *testing.T) {
	router, auth := setupMiddlewareTest(nil)
	router.GET("/test", auth.RequireRole(model.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "AUTHZ_ROLE_NOT_FOUND")
}

func TestContextGetters_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := GetUserID(c)
	assert.False(t, ok)
	_, ok = GetUserRole(c)
	assert.False(t, ok)
	_, ok = GetSessionID(c)
	assert.False(t, ok)
	_, ok = GetClaims(c)
	assert.False(t, ok)
	assert.Equal(t, "anonymous", GetActor(c))

	c.Set(SessionIDKey, "")
	_, ok = GetSessionID(c)
	assert.False(t, ok)
}
