package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/config"
)

const (
	AccountIDKey = "account_id"
	TokenKey     = "token"
)

// SessionKey is the cache key marking a login token as live.
func SessionKey(token string) string { return "session:" + token }

// StoreSession records a freshly issued token so Auth accepts it until ttl.
func StoreSession(ctx context.Context, c cache.Cache, token string, accountID int64, ttl time.Duration) error {
	return c.Set(ctx, SessionKey(token), strconv.FormatInt(accountID, 10), ttl)
}

// RevokeSession logs a token out.
func RevokeSession(ctx context.Context, c cache.Cache, token string) error {
	return c.Del(ctx, SessionKey(token))
}

// BearerToken extracts the login token from the Authorization header, or from the
// token query parameter for WebSocket and SSE clients that cannot set headers.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// Auth validates the JWT and checks that its session has not been revoked.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := BearerToken(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(AccountIDKey, claims.AccountID)
		ctx.Set(TokenKey, tokenStr)
		ctx.Next()
	}
}

// GetAccountID retrieves the authenticated account ID from the Gin context.
func GetAccountID(c *gin.Context) int64 {
	if v, exists := c.Get(AccountIDKey); exists {
		return v.(int64)
	}
	return 0
}
