package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter builds the full route table. Middleware order: Recovery first so
// panics in later middleware are caught, then trace context, then request
// logging. The readiness gate applies only to the application routes —
// health and readiness endpoints must answer while bootstrap is still
// running or has failed.
func NewRouter(serviceName string, coord coordinatorStatus, messages messageStore, cache messageCache, probes []Prober) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(slog.Default()))
	engine.Use(Tracing(serviceName))
	engine.Use(RequestLogger(slog.Default()))

	h := &Handler{
		coord:    coord,
		messages: messages,
		cache:    cache,
		probes:   probes,
	}

	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/ready", h.Ready)

	v1 := engine.Group("/api/v1")
	v1.Use(ReadinessGate(coord))
	v1.GET("/messages", h.ListMessages)
	v1.POST("/messages", h.CreateMessage)

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
