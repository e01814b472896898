// Package middleware holds gin middleware shared by the agent's HTTP
// surface: panic recovery and request logging.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngyygm/temporal-memory-agent/common/logger"
)

// Recovery turns a panicking handler into a 500 response instead of
// crashing the process, logging the recovered value with the request's
// trace-bound fields.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(c.Request.Context(), "httpapi: recovered from panic",
					"error", r, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// Logger stamps every request's context with a Component log field and
// emits a structured access log line on completion.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Component: "httpapi"})
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		slog.InfoContext(ctx, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
