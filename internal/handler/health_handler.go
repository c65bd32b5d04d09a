package handler

import (
	"context"
	"net/http"
	"time"

	"seawatch/internal/repository"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// OutboxMonitor is satisfied by the outbox worker when event publishing is
// enabled.
type OutboxMonitor interface {
	Stats(ctx context.Context) (repository.OutboxStats, error)
}

type HealthHandler struct {
	store  Pinger
	outbox OutboxMonitor
	driver string
}

// NewHealthHandler builds the health endpoints. outbox may be nil.
func NewHealthHandler(store Pinger, outbox OutboxMonitor, driver string) *HealthHandler {
	return &HealthHandler{store: store, outbox: outbox, driver: driver}
}

// Liveness check.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Handles GET /health/detailed - checks storage and reports outbox backlog.
func (h *HealthHandler) Detailed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{
		"status":  "healthy",
		"storage": gin.H{"driver": h.driver, "status": "up"},
	}

	if err := h.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["storage"] = gin.H{"driver": h.driver, "status": "down"}
	}

	if h.outbox != nil {
		stats, err := h.outbox.Stats(ctx)
		if err != nil {
			body["outbox"] = gin.H{"status": "unknown"}
		} else {
			body["outbox"] = stats
		}
	}

	c.JSON(status, body)
}
