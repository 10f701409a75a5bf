package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
)

// Role is the caller kind a trusted upstream attaches to a request.
// Token issuance and verification are out of scope for this core (spec.md
// §1); this package only reads the identity an authenticated edge already
// established.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Header names the trusted edge is expected to set once it has verified the
// caller. No JWT parsing happens in this repo.
const (
	UserIDHeader   = "X-User-Id"
	UserRoleHeader = "X-User-Role"
)

// TrustedIdentity reads the caller identity from headers an authenticating
// proxy is expected to set, and stores it in the gin context the way the
// teacher's JWT middleware did after validating a token.
func TrustedIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		idHeader := c.GetHeader(UserIDHeader)
		if idHeader == "" {
			common.ErrorResponse(c, http.StatusUnauthorized, "missing caller identity")
			c.Abort()
			return
		}
		userID, err := uuid.Parse(idHeader)
		if err != nil {
			common.ErrorResponse(c, http.StatusUnauthorized, "invalid caller identity")
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		if role := c.GetHeader(UserRoleHeader); role != "" {
			c.Set("user_role", Role(role))
		}
		c.Next()
	}
}

// RequireRole rejects the request unless the trusted identity's role is one
// of the allowed roles.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exists := c.Get("user_role")
		if !exists {
			common.ErrorResponse(c, http.StatusUnauthorized, "caller role not found")
			c.Abort()
			return
		}
		role, _ := raw.(Role)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		common.ErrorResponse(c, http.StatusForbidden, "insufficient permissions")
		c.Abort()
	}
}

// GetUserID extracts the caller's ID set by TrustedIdentity.
func GetUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, common.ErrUnauthorized
	}
	id, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, common.ErrUnauthorized
	}
	return id, nil
}

// GetUserRole extracts the caller's role set by TrustedIdentity.
func GetUserRole(c *gin.Context) (Role, error) {
	raw, exists := c.Get("user_role")
	if !exists {
		return "", common.ErrUnauthorized
	}
	role, ok := raw.(Role)
	if !ok {
		return "", common.ErrUnauthorized
	}
	return role, nil
}
