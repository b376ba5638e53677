package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classlive/backend/internal/auth"
	"github.com/classlive/backend/pkg/response"
)

const (
	// ContextUserID is the key for the caller's uuid.UUID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for the caller's token role in gin context.
	ContextUserRole = "user_role"
)

// ClaimsValidator turns a bearer token into claims.
type ClaimsValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that requires a valid bearer token and stores the
// caller's id and role in the context.
func JWT(validator ClaimsValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			response.Unauthorized(c, msg)
			c.Abort()
			return
		}
		claims, err := validator.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// bearerToken extracts the token from an Authorization header, or returns a
// message describing what is wrong with the header.
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", "invalid authorization header"
	}
	return strings.TrimSpace(token), ""
}
