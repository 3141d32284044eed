package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CodeInternal is the error code a recovered panic answers with. It matches
// the catch-all code quest operations report.
const CodeInternal = "UNKNOWN_ERROR"

// Recovery catches handler panics. The panic is logged with the request's trace
// id and caller, and the client gets a 500 carrying the same trace id so a
// failed accept or deposit can be matched to its log line.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}
			traceID := GetTraceID(c)
			log.Error("handler panic",
				zap.Any("panic", r),
				zap.String("trace_id", traceID),
				zap.Int64("account_id", GetAccountID(c)),
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Stack("stack"),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":    "internal server error",
				"code":     CodeInternal,
				"trace_id": traceID,
			})
		}()
		c.Next()
	}
}
