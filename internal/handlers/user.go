package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/logger"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

type UserHandler struct {
	db    *gorm.DB
	index *services.SearchIndex
}

// NewUserHandler creates the site user administration handler. index keeps
// user search documents in step with edits and deletes.
func NewUserHandler(db *gorm.DB, index *services.SearchIndex) *UserHandler {
	return &UserHandler{db: db, index: index}
}

// List is the user directory used to pick members to add.
func (h *UserHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	keyword := c.Query("keyword")
	role := c.Query("role")
	authType := c.Query("auth_type")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var users []models.User
	var total int64

	query := h.db.WithContext(c.Request.Context()).Model(&models.User{})

	if keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("username LIKE ? OR nickname LIKE ? OR email LIKE ?", like, like, like)
	}
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if authType != "" {
		query = query.Where("auth_type = ?", authType)
	}

	if err := query.Count(&total).Error; err != nil {
		response.Error(c, err)
		return
	}
	if err := query.Order("id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&users).Error; err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"items":     users,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type UpdateUserRequest struct {
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
	Nickname *string `json:"nickname"`
}

// Update changes a user's system role, status or nickname (admin).
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if id == middleware.GetUserID(c) {
		response.BadRequest(c, "cannot modify your own account")
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}

	var req UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	updates := make(map[string]interface{})
	if req.Role != nil {
		if *req.Role != models.UserRoleAdmin && *req.Role != models.UserRoleUser {
			response.BadRequest(c, "invalid role, must be 'admin' or 'user'")
			return
		}
		updates["role"] = *req.Role
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Nickname != nil {
		updates["nickname"] = *req.Nickname
	}

	if len(updates) == 0 {
		response.BadRequest(c, "no fields to update")
		return
	}

	if err := db.Model(&user).Updates(updates).Error; err != nil {
		response.Error(c, err)
		return
	}

	if err := db.First(&user, id).Error; err != nil {
		response.Error(c, err)
		return
	}
	if err := h.index.UpsertUser(c.Request.Context(), &user); err != nil {
		logger.Warn().Err(err).Uint("user_id", id).Msg("[User] search index not updated")
	}
	logger.Info().Uint("user_id", id).Uint("admin_id", middleware.GetUserID(c)).Msg("[User] updated")
	response.Success(c, user)
}

// Delete soft-deletes a user who owns no live project (admin).
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if id == middleware.GetUserID(c) {
		response.BadRequest(c, "cannot delete your own account")
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}

	var owned int64
	if err := db.Model(&models.ProjectMember{}).
		Joins("JOIN project_roles ON project_roles.id = project_members.project_role_id").
		Joins("JOIN projects ON projects.id = project_members.project_id").
		Where("project_members.user_id = ? AND project_roles.name = ? AND projects.destroyed = ?", id, models.RoleOwner, false).
		Count(&owned).Error; err != nil {
		response.Error(c, err)
		return
	}
	if owned > 0 {
		response.BadRequest(c, "user still owns projects")
		return
	}

	if err := db.Delete(&user).Error; err != nil {
		response.Error(c, err)
		return
	}
	if err := h.index.DeleteUser(c.Request.Context(), id); err != nil {
		logger.Warn().Err(err).Uint("user_id", id).Msg("[User] search index not updated")
	}

	response.Success(c, gin.H{"message": "user deleted"})
}
