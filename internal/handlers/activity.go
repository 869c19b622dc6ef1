package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

type ActivityHandler struct {
	activityService *services.ActivityLogService
}

// NewActivityHandler creates the activity feed handler.
func NewActivityHandler(activityService *services.ActivityLogService) *ActivityHandler {
	return &ActivityHandler{activityService: activityService}
}

// List returns a project's activity feed
// GET /api/projects/:id/activity
func (h *ActivityHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.ActivityListRequest
	if !bindQuery(c, &req) {
		return
	}

	resp, err := h.activityService.List(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}
