// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"serial-mux/internal/utils"
)

// LoggingMiddleware logs every request once it has been served. Routes listed
// in quiet (liveness probes) are not logged unless they fail.
func LoggingMiddleware(logger *utils.ServiceLogger, quiet ...string) gin.HandlerFunc {
	quietRoutes := make(map[string]bool, len(quiet))
	for _, route := range quiet {
		quietRoutes[route] = true
	}

	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		status := c.Writer.Status()
		if quietRoutes[c.FullPath()] && status < 400 {
			return
		}

		// the handler returns as soon as a session channel is upgraded
		path := c.Request.URL.Path
		if c.IsWebsocket() {
			path = "ws:" + path
		}

		logger.LogAPIRequest(
			c.Request.Method,
			path,
			c.Request.UserAgent(),
			c.ClientIP(),
			utils.GetRequestID(c),
			status,
			time.Since(startTime),
		)
	}
}
