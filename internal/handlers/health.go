package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the database and the sync queue.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
	cache *services.LookupCache
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, cache *services.LookupCache) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, cache: cache}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := 200

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}
	if overall != "healthy" {
		status = 503
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	cached := 0
	if h.cache != nil {
		cached = h.cache.Len()
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "taskhub",
		"components": gin.H{
			"database":       dbStatus,
			"search_queue":   queueMode,
			"lookup_entries": cached,
		},
	})
}
