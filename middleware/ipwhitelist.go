package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminKeyHeader carries the operator key on admin requests.
const AdminKeyHeader = "X-Admin-Key"

// IPWhitelist returns a middleware that only allows requests from specified IPs.
// If the whitelist is empty, all IPs are allowed.
func IPWhitelist(ips []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(ips))
	for _, ip := range ips {
		allowed[ip] = true
	}
	return func(c *gin.Context) {
		if len(allowed) > 0 && !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}

// AdminKey rejects requests whose X-Admin-Key header does not match key.
// An empty key disables the admin surface entirely.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}
