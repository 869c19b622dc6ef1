package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/internal/utils"
	"github.com/huangang/taskhub/pkg/response"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
	ContextTokenID  = "token_id"
)

// Identity is the caller as established by AuthRequired.
type Identity struct {
	UserID   uint
	Username string
	Role     string
	TokenID  string
}

// IsAdmin reports whether the caller holds the site admin role. Project
// permissions are never derived from it.
func (i Identity) IsAdmin() bool { return i.Role == models.UserRoleAdmin }

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(c *gin.Context) (string, bool) {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// AuthRequired is a middleware that checks for a valid JWT token
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		token, ok := BearerToken(c)
		if !ok {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(token)
		if errors.Is(err, utils.ErrTokenExpired) {
			response.TokenExpired(c)
			c.Abort()
			return
		}
		if err != nil {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextTokenID, claims.ID)

		c.Next()
	}
}

// AdminRequired is a middleware that checks for the site admin role
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentUser(c).IsAdmin() {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identity set by AuthRequired, or the zero Identity.
func CurrentUser(c *gin.Context) Identity {
	return Identity{
		UserID:   c.GetUint(ContextUserID),
		Username: c.GetString(ContextUsername),
		Role:     c.GetString(ContextRole),
		TokenID:  c.GetString(ContextTokenID),
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) uint {
	return c.GetUint(ContextUserID)
}

func GetUsername(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
