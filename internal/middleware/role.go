package middleware

import (
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classlive/backend/pkg/response"
)

// RequireRole rejects callers whose token role is not one of roles. It runs
// after JWT and is only a coarse gate: services still check that the caller
// is an instructor of the specific course.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if role, _ := v.(string); !slices.Contains(roles, role) {
			response.Forbidden(c, "this action requires role "+strings.Join(roles, " or "))
			c.Abort()
			return
		}
		c.Next()
	}
}
