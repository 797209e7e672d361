package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mazen160/go-random"
)

const (
	requestIdHeader = "X-Request-ID"
	requestIdKey    = "request_id"
)

// RequestId tags each request with an id, reusing the caller's when given.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIdHeader)
		if id == "" {
			generated, err := random.String(16)
			if err != nil {
				generated = fmt.Sprintf("fallback-%d", time.Now().UnixNano())
			}
			id = generated
		}
		c.Set(requestIdKey, id)
		c.Writer.Header().Set(requestIdHeader, id)
		c.Next()
	}
}

func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		slog.Log(
			c.Request.Context(),
			level,
			"request",
			"id", c.GetString(requestIdKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
