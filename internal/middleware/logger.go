package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoggerMiddleware writes one access log line per request. Socket.IO long
// polling and metrics scrapes are logged at debug level to keep the log readable.
func LoggerMiddleware(zapLogger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		if strings.HasPrefix(path, "/socket.io/") || path == "/metrics" {
			zapLogger.Debug("HTTP request", fields...)
			return
		}
		zapLogger.Info("HTTP request", fields...)
	}
}
