package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

// PermissionService evaluates project permissions for a user.
type PermissionService struct {
	db    *gorm.DB
	cache *LookupCache
	store MembershipStore
}

// NewPermissionService creates a permission evaluator backed by cache for name lookups.
func NewPermissionService(db *gorm.DB, cache *LookupCache) *PermissionService {
	return &PermissionService{db: db, cache: cache}
}

func (s *PermissionService) handle(ctx context.Context, db *gorm.DB) *gorm.DB {
	if db == nil {
		db = s.db
	}
	return db.WithContext(ctx)
}

// HasPermission reports whether userID may use the named permission in projectID.
// Pass the open transaction as db when called from inside one; nil uses the service handle.
//
// Holders of the owner role pass every check. For everyone else the permission must be
// granted by a live role they hold, and edit_permission_role also requires free mode.
func (s *PermissionService) HasPermission(ctx context.Context, db *gorm.DB, projectID, userID uint, name string) (bool, error) {
	db = s.handle(ctx, db)

	project, err := findProject(db, projectID)
	if err != nil {
		return false, err
	}

	roleIDs, err := s.store.RolesOf(db, projectID, userID)
	if err != nil {
		return false, err
	}
	if len(roleIDs) == 0 {
		return false, nil
	}

	isOwner, err := holdsRoleNamed(db, roleIDs, models.RoleOwner)
	if err != nil {
		return false, err
	}
	if isOwner {
		return true, nil
	}

	if name == "" {
		return false, response.NewBadRequest("permission name is required")
	}

	permID, err := s.cache.PermissionID(ctx, db, name)
	if err != nil {
		if response.IsKind(err, response.KindNotFound) {
			return false, nil
		}
		return false, err
	}

	var granted int64
	err = db.Model(&models.ProjectRolePermission{}).
		Joins("JOIN project_roles ON project_roles.id = project_role_permissions.project_role_id").
		Where("project_role_permissions.project_role_id IN ? AND project_role_permissions.permission_id = ?", roleIDs, permID).
		Where("project_roles.destroyed = ?", false).
		Count(&granted).Error
	if err != nil {
		return false, err
	}
	if granted == 0 {
		return false, nil
	}

	if name == models.PermEditPermissionRole && !project.FreeMode {
		return false, nil
	}
	return true, nil
}

// Require is HasPermission with a denial mapped to Forbidden.
func (s *PermissionService) Require(ctx context.Context, db *gorm.DB, projectID, userID uint, name string) error {
	ok, err := s.HasPermission(ctx, db, projectID, userID, name)
	if err != nil {
		return err
	}
	if !ok {
		return response.NewForbidden(fmt.Sprintf("permission %s required", name))
	}
	return nil
}

// RequireMember fails with Forbidden unless userID holds any role in projectID.
func (s *PermissionService) RequireMember(ctx context.Context, db *gorm.DB, projectID, userID uint) error {
	db = s.handle(ctx, db)
	if _, err := findProject(db, projectID); err != nil {
		return err
	}
	ok, err := s.store.IsMember(db, projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return response.NewForbidden("not a member of this project")
	}
	return nil
}

// IsOwner reports whether userID holds the owner role in projectID.
func (s *PermissionService) IsOwner(ctx context.Context, db *gorm.DB, projectID, userID uint) (bool, error) {
	db = s.handle(ctx, db)
	roleIDs, err := s.store.RolesOf(db, projectID, userID)
	if err != nil || len(roleIDs) == 0 {
		return false, err
	}
	return holdsRoleNamed(db, roleIDs, models.RoleOwner)
}

// CanView reports whether userID may read projectID: members always, anyone for public projects.
func (s *PermissionService) CanView(ctx context.Context, db *gorm.DB, project *models.Project, userID uint) (bool, error) {
	if project.IsPublic() {
		return true, nil
	}
	return s.store.IsMember(s.handle(ctx, db), project.ID, userID)
}

// MyPermissions lists the permission names userID currently passes in projectID.
func (s *PermissionService) MyPermissions(ctx context.Context, projectID, userID uint) ([]string, error) {
	db := s.handle(ctx, nil)

	project, err := findProject(db, projectID)
	if err != nil {
		return nil, err
	}
	roleIDs, err := s.store.RolesOf(db, projectID, userID)
	if err != nil {
		return nil, err
	}
	if len(roleIDs) == 0 {
		return []string{}, nil
	}

	isOwner, err := holdsRoleNamed(db, roleIDs, models.RoleOwner)
	if err != nil {
		return nil, err
	}
	if isOwner {
		var names []string
		if err := db.Model(&models.Permission{}).Order("name").Pluck("name", &names).Error; err != nil {
			return nil, err
		}
		return names, nil
	}

	var names []string
	err = db.Model(&models.Permission{}).
		Distinct("permissions.name").
		Joins("JOIN project_role_permissions ON project_role_permissions.permission_id = permissions.id").
		Joins("JOIN project_roles ON project_roles.id = project_role_permissions.project_role_id").
		Where("project_roles.id IN ? AND project_roles.destroyed = ?", roleIDs, false).
		Pluck("permissions.name", &names).Error
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(names))
	for _, n := range names {
		if n == models.PermEditPermissionRole && !project.FreeMode {
			continue
		}
		result = append(result, n)
	}
	sort.Strings(result)
	return result, nil
}

// ListCatalog returns every live permission grouped by category order.
func (s *PermissionService) ListCatalog(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	if err := s.db.WithContext(ctx).Order("category, name").Find(&perms).Error; err != nil {
		return nil, err
	}
	return perms, nil
}

func holdsRoleNamed(db *gorm.DB, roleIDs []uint, name string) (bool, error) {
	var count int64
	err := db.Model(&models.ProjectRole{}).
		Where("id IN ? AND name = ?", roleIDs, name).
		Count(&count).Error
	return count > 0, err
}
