package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

// RoleHandler serves project roles and the permission catalog.
type RoleHandler struct {
	roleService       *services.ProjectRoleService
	permissionService *services.PermissionService
}

// NewRoleHandler creates the project role and permission catalog handler.
func NewRoleHandler(roleService *services.ProjectRoleService, permissionService *services.PermissionService) *RoleHandler {
	return &RoleHandler{roleService: roleService, permissionService: permissionService}
}

// Catalog lists every permission
// GET /api/permissions
func (h *RoleHandler) Catalog(c *gin.Context) {
	perms, err := h.permissionService.ListCatalog(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, perms)
}

// MyPermissions lists the caller's effective permissions in a project
// GET /api/projects/:id/permissions/me
func (h *RoleHandler) MyPermissions(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	names, err := h.permissionService.MyPermissions(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, names)
}

// List
// GET /api/projects/:id/roles
func (h *RoleHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	roles, err := h.roleService.ListRoles(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, roles)
}

// Create adds a custom role
// POST /api/projects/:id/roles
func (h *RoleHandler) Create(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.CreateRoleRequest
	if !bindJSON(c, &req) {
		return
	}

	role, err := h.roleService.CreateCustomRole(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, role)
}

// UpdatePermissions replaces a role's permission set
// PUT /api/projects/:id/roles/:role_id/permissions
func (h *RoleHandler) UpdatePermissions(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	roleID, ok := paramID(c, "role_id")
	if !ok {
		return
	}

	var req services.UpdateRolePermissionsRequest
	if !bindJSON(c, &req) {
		return
	}

	role, err := h.roleService.UpdatePermissions(c.Request.Context(), projectID, roleID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, role)
}

// Delete removes an unused custom role
// DELETE /api/projects/:id/roles/:role_id
func (h *RoleHandler) Delete(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	roleID, ok := paramID(c, "role_id")
	if !ok {
		return
	}

	if err := h.roleService.DeleteCustomRole(c.Request.Context(), projectID, roleID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
