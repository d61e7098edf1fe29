package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/model"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/pkg/util"
)

// Context keys for user information
const (
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
	UserRoleKey  = "user_role"
	SessionIDKey = "session_id"
	TokenKey     = "auth_token"
	ClaimsKey    = "auth_claims"
)

// TokenBlacklist reports whether a token was revoked before it expired.
type TokenBlacklist interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type AuthMiddleware struct {
	jwtSecret string
	blacklist TokenBlacklist
}

// NewAuthMiddleware builds the middleware. blacklist may be nil, in which case
// revocation is not checked.
func NewAuthMiddleware(jwtSecret string, blacklist TokenBlacklist) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
		blacklist: blacklist,
	}
}

// Authenticate validates the JWT (required)
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := GetLoggerFromContext(c)

		var token string

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				log.Warn("Invalid authorization header format", map[string]interface{}{
					"path": c.Request.URL.Path,
				})
				apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthTokenInvalid, "Authorization header must be Bearer <token>")
				c.Abort()
				return
			}
			token = parts[1]
		} else {
			// Browsers cannot set headers on WebSocket upgrades
			token = c.Query("token")
			if token == "" {
				log.Warn("Missing authorization header", map[string]interface{}{
					"path": c.Request.URL.Path,
				})
				apperrors.Unauthorized(c, "Authorization header is required")
				c.Abort()
				return
			}
			log.Debug("Using token from query parameter", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
		}

		claims, err := util.ValidateToken(token, m.jwtSecret)
		if err != nil {
			log.Warn("Token validation failed", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})

			if errors.Is(err, util.ErrExpiredToken) {
				apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthTokenExpired, "Token has expired")
			} else {
				apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthTokenInvalid, "Invalid token")
			}
			c.Abort()
			return
		}

		role := model.UserRole(claims.Role)
		if !role.Valid() {
			log.Warn("Token carries unknown role", map[string]interface{}{
				"user_id": claims.UserID,
				"role":    claims.Role,
			})
			apperrors.RespondWithError(c, http.StatusForbidden, apperrors.AuthzRoleNotFound, "Unknown role")
			c.Abort()
			return
		}

		if m.blacklist != nil {
			revoked, err := m.blacklist.IsRevoked(c.Request.Context(), token)
			if err != nil {
				// fail open
				log.Warn("Token blacklist unavailable", map[string]interface{}{
					"error": err.Error(),
				})
			} else if revoked {
				apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthTokenRevoked, "Token has been revoked")
				c.Abort()
				return
			}
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserEmailKey, claims.Email)
		c.Set(UserRoleKey, role)
		c.Set(SessionIDKey, claims.SessionID)
		c.Set(TokenKey, token)
		c.Set(ClaimsKey, claims)

		log.Debug("User authenticated successfully", map[string]interface{}{
			"user_id":    claims.UserID,
			"role":       claims.Role,
			"session_id": claims.SessionID,
		})

		c.Next()
	}
}

// RequireRole checks that the authenticated user holds one of roles.
func (m *AuthMiddleware) RequireRole(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := GetLoggerFromContext(c)

		role, exists := GetUserRole(c)
		if !exists {
			log.Warn("Role information not found in context", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
			apperrors.RespondWithError(c, http.StatusForbidden, apperrors.AuthzRoleNotFound, "Role information not found")
			c.Abort()
			return
		}

		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}

		userID, _ := GetUserID(c)
		log.Warn("Insufficient permissions", map[string]interface{}{
			"user_id":        userID,
			"user_role":      role,
			"required_roles": roles,
			"path":           c.Request.URL.Path,
		})
		apperrors.Forbidden(c, "Access denied")
		c.Abort()
	}
}

// GetUserID extracts the user ID from context
func GetUserID(c *gin.Context) (string, bool) {
	return getString(c, UserIDKey)
}

// GetUserEmail extracts the user email from context
func GetUserEmail(c *gin.Context) (string, bool) {
	return getString(c, UserEmailKey)
}

// GetSessionID extracts the session claim from context
func GetSessionID(c *gin.Context) (string, bool) {
	id, ok := getString(c, SessionIDKey)
	return id, ok && id != ""
}

// GetToken returns the raw bearer token of the request.
func GetToken(c *gin.Context) (string, bool) {
	return getString(c, TokenKey)
}

// GetUserRole extracts the user role from context
func GetUserRole(c *gin.Context) (model.UserRole, bool) {
	role, exists := c.Get(UserRoleKey)
	if !exists {
		return "", false
	}
	r, ok := role.(model.UserRole)
	return r, ok
}

func GetClaims(c *gin.Context) (*util.Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*util.Claims)
	return claims, ok
}

// GetActor names the caller for audit entries: email when present, else user id.
func GetActor(c *gin.Context) string {
	if email, ok := GetUserEmail(c); ok && email != "" {
		return email
	}
	if id, ok := GetUserID(c); ok && id != "" {
		return id
	}
	return "anonymous"
}

func getString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
