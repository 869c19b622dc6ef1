package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/logger"
	"gorm.io/gorm"
)

var startTime = time.Now()

type MetricsHandler struct {
	db        *gorm.DB
	dashboard *services.DashboardService
	hub       *services.SSEHub
	queue     services.TaskQueue
	worker    *services.Worker
	cache     *services.LookupCache
}

// NewMetricsHandler creates a metrics handler.
// The worker is nil when search sync runs in process.
func NewMetricsHandler(db *gorm.DB, dashboard *services.DashboardService, hub *services.SSEHub, queue services.TaskQueue, worker *services.Worker, cache *services.LookupCache) *MetricsHandler {
	return &MetricsHandler{db: db, dashboard: dashboard, hub: hub, queue: queue, worker: worker, cache: cache}
}

// Metrics returns Prometheus-compatible text format metrics.
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "taskhub_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "taskhub_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "taskhub_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "taskhub_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	// -- Database metrics --
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			stats := sqlDB.Stats()
			writeGauge(&b, "taskhub_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
			writeGauge(&b, "taskhub_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
			writeGauge(&b, "taskhub_db_idle_connections", "Number of idle DB connections", float64(stats.Idle))
		}
	}

	if h.hub != nil {
		writeGauge(&b, "taskhub_sse_active_clients", "Number of open notification streams", float64(h.hub.ClientCount()))
	}
	if h.cache != nil {
		writeGauge(&b, "taskhub_lookup_cache_entries", "Entries in the in-process permission cache", float64(h.cache.Len()))
	}

	queueAsync := 0.0
	if h.queue != nil && h.queue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "taskhub_queue_async_enabled", "Whether search sync runs through Redis (1=yes, 0=no)", queueAsync)
	if h.worker != nil {
		ws := h.worker.Stats()
		writeCounter(&b, "taskhub_search_tasks_applied_total", "Search tasks applied by the worker", float64(ws.Applied))
		writeCounter(&b, "taskhub_search_tasks_failed_total", "Search tasks that failed and will be retried", float64(ws.Failed))
		writeCounter(&b, "taskhub_search_tasks_rejected_total", "Search tasks dropped as malformed", float64(ws.Rejected))
	}

	// -- Domain metrics --
	if h.dashboard != nil {
		site, err := h.dashboard.GetSiteStats(c.Request.Context())
		if err != nil {
			logger.Warn().Err(err).Msg("[Metrics] site stats failed")
		} else {
			writeGauge(&b, "taskhub_projects_total", "Number of live projects", float64(site.Projects))
			writeGauge(&b, "taskhub_projects_public", "Number of public projects", float64(site.PublicProjects))
			writeGauge(&b, "taskhub_users_active", "Number of active users", float64(site.ActiveUsers))
			writeGauge(&b, "taskhub_tasks_total", "Number of tasks", float64(site.Tasks))
			writeGauge(&b, "taskhub_invites_pending", "Pending email invites", float64(site.PendingInvites))
			writeGauge(&b, "taskhub_access_requests_pending", "Pending access requests", float64(site.PendingAccessRequests))
			writeGauge(&b, "taskhub_activity_24h", "Activity log entries in the last 24 hours", float64(site.ActivityLast24h))
		}
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeCounter(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
