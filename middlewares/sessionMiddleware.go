package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/utils"
)

const sessionKeyPrefix = "Token:"

// SessionKey is the redis key holding the staff username for token.
func SessionKey(token string) string {
	return sessionKeyPrefix + token
}

// TokenLookup resolves a session token to a staff username.
type TokenLookup func(ctx context.Context, token string) (username string, ok bool, err error)

// RedisTokenLookup reads the global redis client on every call; redis may
// connect after the router is built.
func RedisTokenLookup() TokenLookup {
	return func(ctx context.Context, token string) (string, bool, error) {
		return config.GetRedisValue(ctx, config.GetRedisDB(), SessionKey(token))
	}
}

// SessionMiddleware attaches the staff username for a "token" header. Requests
// without the header pass through anonymously; unknown tokens are rejected.
func SessionMiddleware(lookup TokenLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := lookup(c.Request.Context(), token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireStaff rejects requests that did not carry a valid session token.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if username, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
