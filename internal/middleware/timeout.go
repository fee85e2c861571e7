// Package middleware holds the gin middleware shared by every route.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Timeout bounds each request's context by d and runs the chain
// synchronously. A request whose deadline fired without a response gets a
// 503 carrying the request ID, when one was assigned. d <= 0 disables the
// deadline.
//
// A handler that blocks without watching its context is not interrupted.
// Engine and storage calls take the request context and unblock when the
// deadline fires; route requests dispatched by a tap are not bound to it.
func Timeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() == nil || c.Writer.Written() {
			return
		}
		body := gin.H{"error": "request timed out"}
		if id := GetRequestID(c); id != "" {
			body["request_id"] = id
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, body)
	}
}
