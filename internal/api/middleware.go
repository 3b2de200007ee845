package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/bootstrap"
)

// Recovery returns a middleware that recovers from panics, logs the stack
// trace, and returns a 500 so the server keeps serving.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					"panic", r,
					"stack", string(debug.Stack()),
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"status": "error",
					"error":  "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// Tracing injects OTEL trace context into each request via otelgin.
func Tracing(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// RequestLogger emits one structured log line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// ReadinessGate rejects application traffic until the coordinator reports
// Ready. The process never silently serves requests from a non-Ready state;
// health and readiness endpoints stay outside the gate.
func ReadinessGate(coord coordinatorStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch coord.State() {
		case bootstrap.StateReady:
			c.Next()
		case bootstrap.StateFailed:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "failed"})
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		}
	}
}
