package middleware

import (
	"strconv"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"stockhunter/internal/pkg/metrics"
)

// RequestLogger logs HTTP request/response metadata.
// 探活与指标抓取请求降级为 Debug，避免刷屏。
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// 未命中路由模板的请求统一归入 unmatched，保持标签基数有界。
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()

		if logger == nil {
			return
		}

		path := c.Request.URL.Path
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("bytes", c.Writer.Size()),
			slog.String("client_ip", c.ClientIP()),
			slog.String("latency", time.Since(start).String()),
		}
		if path == "/healthz" || path == "/metrics" {
			logger.Debug("http request", attrs...)
			return
		}
		logger.Info("http request", attrs...)
	}
}
