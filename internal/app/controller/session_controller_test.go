package controller

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/app/service"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRevoker struct {
	tokens []string
	ttls   []time.Duration
	err    error
}

func (f *fakeRevoker) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, token)
	f.ttls = append(f.ttls, ttl)
	return nil
}

func setupSessionControllerTest(t *testing.T, caller testCaller, revoker TokenRevoker) (*gin.Engine, *testEnv) {
	env := setupControllerEnv(t)
	ctrl := NewSessionController(env.sessions, revoker)

	router := newTestRouter(caller)
	router.Use(func(c *gin.Context) {
		c.Set("auth_token", "raw-token")
		c.Set("auth_claims", &util.Claims{
			UserID:    caller.userID,
			SessionID: caller.sessionID,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		c.Next()
	})
	router.POST("/session", ctrl.StartSession)
	router.DELETE("/session", ctrl.EndSession)
	return router, env
}

func TestSessionController_StartSession(t *testing.T) {
	router, env := setupSessionControllerTest(t, brokerCaller, nil)

	w := doJSON(t, router, http.MethodPost, "/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess-1", decodeBody(t, w)["session_id"])
	assert.Equal(t, "sess-1", env.sessions.Current())
}

func TestSessionController_StartSessionRequiresClaim(t *testing.T) {
	caller := brokerCaller
	caller.sessionID = ""
	router, _ := setupSessionControllerTest(t, caller, nil)

	w := doJSON(t, router, http.MethodPost, "/session", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.SessionRequired, decodeBody(t, w)["error"])
}

func TestSessionController_EndSessionClearsAndRevokes(t *testing.T) {
	revoker := &fakeRevoker{}
	router, env := setupSessionControllerTest(t, brokerCaller, revoker)

	_, err := env.lifecycle.CreateStore(service.StoreInput{StoreCode: "S1", FloorArea: 100}, "tester")
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodDelete, "/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["revoked"])

	require.Equal(t, []string{"raw-token"}, revoker.tokens)
	assert.InDelta(t, time.Hour.Seconds(), revoker.ttls[0].Seconds(), 5)

	stores, err := env.lifecycle.ListStores(repository.StoreFilter{})
	require.NoError(t, err)
	assert.Empty(t, stores)
}

func TestSessionController_EndSessionRevocationFailure(t *testing.T) {
	router, _ := setupSessionControllerTest(t, brokerCaller, &fakeRevoker{err: errors.New("redis down")})

	w := doJSON(t, router, http.MethodDelete, "/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["revoked"])
}

func TestSessionController_EndSessionWithoutRedis(t *testing.T) {
	router, _ := setupSessionControllerTest(t, brokerCaller, nil)

	w := doJSON(t, router, http.MethodDelete, "/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["revoked"])
}
