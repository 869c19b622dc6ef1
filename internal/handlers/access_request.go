package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

type AccessRequestHandler struct {
	accessService *services.AccessRequestService
}

// NewAccessRequestHandler creates the access request handler.
func NewAccessRequestHandler(accessService *services.AccessRequestService) *AccessRequestHandler {
	return &AccessRequestHandler{accessService: accessService}
}

// Create
// POST /api/projects/:id/access-requests
func (h *AccessRequestHandler) Create(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.CreateAccessRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	request, err := h.accessService.Create(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// ListPending
// GET /api/projects/:id/access-requests
func (h *AccessRequestHandler) ListPending(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	requests, err := h.accessService.ListPending(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, requests)
}

// ListMine
// GET /api/access-requests
func (h *AccessRequestHandler) ListMine(c *gin.Context) {
	requests, err := h.accessService.ListMine(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, requests)
}

// Approve
// POST /api/access-requests/:request_id/approve
func (h *AccessRequestHandler) Approve(c *gin.Context) {
	requestID, ok := paramID(c, "request_id")
	if !ok {
		return
	}

	var req services.ApproveAccessRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	member, err := h.accessService.Approve(c.Request.Context(), requestID, middleware.GetUserID(c), req.RoleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, member)
}

// Reject
// POST /api/access-requests/:request_id/reject
func (h *AccessRequestHandler) Reject(c *gin.Context) {
	requestID, ok := paramID(c, "request_id")
	if !ok {
		return
	}

	var req services.RejectAccessRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	if err := h.accessService.Reject(c.Request.Context(), requestID, middleware.GetUserID(c), req.Reason); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Cancel
// DELETE /api/access-requests/:request_id
func (h *AccessRequestHandler) Cancel(c *gin.Context) {
	requestID, ok := paramID(c, "request_id")
	if !ok {
		return
	}

	if err := h.accessService.Cancel(c.Request.Context(), requestID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
