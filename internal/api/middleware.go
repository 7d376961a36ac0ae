// internal/api/middleware.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"

	corsAllowMethods = "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT"
	corsMaxAge       = "600"
)

// RequestIDMiddleware 为每个请求分配ID，沿用客户端传入的ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// LoggingMiddleware 请求日志与请求指标
func LoggingMiddleware(logger *utils.Logger, metrics *utils.APIMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if metrics != nil {
			metrics.RecordAPIRequest(route, c.Request.Method, status, duration)
		}

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       route,
			"status":      status,
			"latency_ms":  duration.Milliseconds(),
			"request_id":  c.GetString(requestIDKey),
			"client_addr": c.ClientIP(),
		}
		switch {
		case status >= 500:
			logger.Error("HTTP请求", fields)
		case status >= 400:
			logger.Warn("HTTP请求", fields)
		default:
			logger.Debug("HTTP请求", fields)
		}
	}
}

// CORSMiddleware 只允许一个配置的来源，允许所有方法和头，允许携带凭证
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if origin == "" {
			c.Next()
			return
		}

		allowed := origin == allowedOrigin
		if preflight {
			if !allowed {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Disallowed CORS origin"})
				return
			}
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			if reqHeaders := c.GetHeader("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", corsMaxAge)
			h.Add("Vary", "Origin")
			c.AbortWithStatus(http.StatusOK)
			return
		}

		if allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", requestIDHeader)
			h.Add("Vary", "Origin")
		}
		c.Next()
	}
}

// checkOrigin WebSocket 握手与 CORS 使用同一条精确匹配规则，没有 Origin 头的非浏览器客户端放行
func checkOrigin(allowedOrigin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == allowedOrigin
	}
}
