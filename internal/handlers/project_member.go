package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

// ProjectMemberHandler exposes membership changes of a project.
type ProjectMemberHandler struct {
	membershipService *services.MembershipService
}

// NewProjectMemberHandler creates the member management handler.
func NewProjectMemberHandler(membershipService *services.MembershipService) *ProjectMemberHandler {
	return &ProjectMemberHandler{membershipService: membershipService}
}

// List returns all members of a project.
func (h *ProjectMemberHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	members, err := h.membershipService.ListMembers(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, members)
}

// Add adds a user to a project, with the member role unless role_id is given.
func (h *ProjectMemberHandler) Add(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.AddMemberRequest
	if !bindJSON(c, &req) {
		return
	}

	member, err := h.membershipService.AddMember(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, member)
}

// UpdateRoles applies a batch of role changes.
func (h *ProjectMemberHandler) UpdateRoles(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateMemberRolesRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.membershipService.UpdateMemberRoles(c.Request.Context(), projectID, middleware.GetUserID(c), &req); err != nil {
		response.Error(c, err)
		return
	}

	members, err := h.membershipService.ListMembers(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, members)
}

// Remove removes a member from a project.
func (h *ProjectMemberHandler) Remove(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := paramID(c, "user_id")
	if !ok {
		return
	}

	if err := h.membershipService.RemoveMember(c.Request.Context(), projectID, userID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// Leave removes the caller from a project.
func (h *ProjectMemberHandler) Leave(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.membershipService.Leave(c.Request.Context(), projectID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}
