package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/bootstrap"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/store"
)

// messagesCacheKey is the single cache entry fronting the message list.
const messagesCacheKey = "messages:v1"

// coordinatorStatus is the subset of *bootstrap.Coordinator used by the
// handlers. An interface so test doubles can be injected.
type coordinatorStatus interface {
	State() bootstrap.State
	Err() error
}

// messageStore is satisfied by *store.Messages.
type messageStore interface {
	List(ctx context.Context) ([]store.Message, error)
	Insert(ctx context.Context, body string) (store.Message, error)
}

// messageCache is satisfied by *clients.RedisCache. May be nil (cache
// disabled).
type messageCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, payload string)
	Invalidate(ctx context.Context, key string)
}

// Prober is implemented by each backing-service client that participates in
// deep health.
type Prober interface {
	Probe(ctx context.Context) bootstrap.ProbeResult
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	coord    coordinatorStatus
	messages messageStore
	cache    messageCache
	probes   []Prober
}

// Health handles GET /health — the liveness probe. Always 200: the process
// is up even while bootstrap is still running.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready handles GET /ready — the readiness surface. The three outcomes are
// distinct so external orchestration can tell "still starting" (keep
// waiting) from "permanently failed" (stop routing, restart the process).
func (h *Handler) Ready(c *gin.Context) {
	switch state := h.coord.State(); state {
	case bootstrap.StateReady:
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	case bootstrap.StateFailed:
		resp := gin.H{
			"status":   "failed",
			"category": bootstrap.Category(h.coord.Err()),
		}
		if err := h.coord.Err(); err != nil {
			resp["error"] = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, resp)
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "starting",
			"stage":  state.String(),
		})
	}
}

// DeepHealth handles GET /health/deep. It probes every backing service
// concurrently and returns 200 only when all probes pass.
func (h *Handler) DeepHealth(c *gin.Context) {
	results := make(map[string]bootstrap.ProbeResult, len(h.probes))
	var mu sync.Mutex
	var g errgroup.Group

	for _, p := range h.probes {
		g.Go(func() error {
			res := p.Probe(c.Request.Context())
			mu.Lock()
			results[res.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := "healthy"
	code := http.StatusOK
	for _, res := range results {
		if !res.OK {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": results,
	})
}

// ListMessages handles GET /api/v1/messages, serving from the cache when a
// fresh entry exists.
func (h *Handler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()

	if h.cache != nil {
		if payload, ok := h.cache.Get(ctx, messagesCacheKey); ok {
			c.Data(http.StatusOK, "application/json", []byte(payload))
			return
		}
	}

	msgs, err := h.messages.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing messages failed"})
		return
	}

	if h.cache != nil {
		if payload, err := json.Marshal(msgs); err == nil {
			h.cache.Set(ctx, messagesCacheKey, string(payload))
		}
	}

	c.JSON(http.StatusOK, msgs)
}

type createMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// CreateMessage handles POST /api/v1/messages.
func (h *Handler) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	msg, err := h.messages.Insert(c.Request.Context(), req.Message)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storing message failed"})
		return
	}

	if h.cache != nil {
		h.cache.Invalidate(c.Request.Context(), messagesCacheKey)
	}

	c.JSON(http.StatusCreated, msg)
}
