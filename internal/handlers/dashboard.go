package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

type DashboardHandler struct {
	dashboardService *services.DashboardService
}

// NewDashboardHandler creates the dashboard handler.
func NewDashboardHandler(dashboardService *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// GetProjectStats returns board statistics for one project
// GET /api/projects/:id/dashboard
func (h *DashboardHandler) GetProjectStats(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	resp, err := h.dashboardService.GetProjectStats(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// GetSiteStats returns instance-wide counters
// GET /api/dashboard/stats
func (h *DashboardHandler) GetSiteStats(c *gin.Context) {
	resp, err := h.dashboardService.GetSiteStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}
