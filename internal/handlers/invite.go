package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

type InviteHandler struct {
	inviteService *services.InviteService
}

// NewInviteHandler creates a new invite handler.
func NewInviteHandler(inviteService *services.InviteService) *InviteHandler {
	return &InviteHandler{inviteService: inviteService}
}

type joinByTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// Create sends an email invite
// POST /api/projects/:id/invites
func (h *InviteHandler) Create(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.CreateInviteRequest
	if !bindJSON(c, &req) {
		return
	}

	invite, err := h.inviteService.CreateInvite(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invite)
}

// ListProject
// GET /api/projects/:id/invites
func (h *InviteHandler) ListProject(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	invites, err := h.inviteService.ListProjectInvites(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, invites)
}

// GetLink returns the permanent invite
// GET /api/projects/:id/invites/link
func (h *InviteHandler) GetLink(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	invite, err := h.inviteService.GetPermanentInvite(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, invite)
}

// RegenerateLink
// POST /api/projects/:id/invites/link/regenerate
func (h *InviteHandler) RegenerateLink(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	invite, err := h.inviteService.RegeneratePermanentToken(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, invite)
}

// Join redeems an invite link
// POST /api/invites/join
func (h *InviteHandler) Join(c *gin.Context) {
	var req joinByTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	member, err := h.inviteService.JoinByToken(c.Request.Context(), req.Token, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, member)
}

// ListMine
// GET /api/invites
func (h *InviteHandler) ListMine(c *gin.Context) {
	invites, err := h.inviteService.ListMyInvites(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, invites)
}

// Accept
// POST /api/invites/:invite_id/accept
func (h *InviteHandler) Accept(c *gin.Context) {
	inviteID, ok := paramID(c, "invite_id")
	if !ok {
		return
	}

	member, err := h.inviteService.AcceptInvite(c.Request.Context(), inviteID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, member)
}

// Reject
// POST /api/invites/:invite_id/reject
func (h *InviteHandler) Reject(c *gin.Context) {
	inviteID, ok := paramID(c, "invite_id")
	if !ok {
		return
	}

	if err := h.inviteService.RejectInvite(c.Request.Context(), inviteID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Cancel
// DELETE /api/invites/:invite_id
func (h *InviteHandler) Cancel(c *gin.Context) {
	inviteID, ok := paramID(c, "invite_id")
	if !ok {
		return
	}

	if err := h.inviteService.CancelInvite(c.Request.Context(), inviteID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
