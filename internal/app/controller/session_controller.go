package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/service"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/internal/middleware"
)

// TokenRevoker blacklists a token until it would have expired anyway.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

type SessionController struct {
	sessions service.SessionService
	revoker  TokenRevoker // nil when redis is disabled
}

func NewSessionController(sessions service.SessionService, revoker TokenRevoker) *SessionController {
	return &SessionController{
		sessions: sessions,
		revoker:  revoker,
	}
}

// StartSession scopes all services to the session carried by the token
// POST /api/v1/session
func (ctrl *SessionController) StartSession(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	sessionID, ok := middleware.GetSessionID(c)
	if !ok {
		apperrors.ParseAndRespond(c, service.ErrSessionRequired, "session")
		return
	}

	if err := ctrl.sessions.InitSession(sessionID); err != nil {
		apperrors.ParseAndRespond(c, err, "session")
		return
	}

	log.Info("Session started", map[string]interface{}{
		"session_id": sessionID,
		"actor":      middleware.GetActor(c),
	})

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
	})
}

// EndSession drops all session data and revokes the caller's token
// DELETE /api/v1/session
func (ctrl *SessionController) EndSession(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	if err := ctrl.sessions.ClearSessionData(); err != nil {
		apperrors.ParseAndRespond(c, err, "session")
		return
	}

	revoked := false
	if ctrl.revoker != nil {
		token, hasToken := middleware.GetToken(c)
		claims, hasClaims := middleware.GetClaims(c)
		if hasToken && hasClaims {
			if err := ctrl.revoker.Revoke(c.Request.Context(), token, claims.TokenTTL()); err != nil {
				// session data is already gone; the token lapses on its own
				log.Error("Failed to revoke token", err)
			} else {
				revoked = true
			}
		}
	}

	log.Info("Session ended", map[string]interface{}{
		"session_id": ctrl.sessions.Current(),
		"revoked":    revoked,
	})

	c.JSON(http.StatusOK, gin.H{
		"message": "Session data cleared",
		"revoked": revoked,
	})
}
