package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectRoleService manages the per-project role set.
type ProjectRoleService struct {
	db       *gorm.DB
	perms    *PermissionService
	activity ActivityLogger
}

// NewProjectRoleService creates a project role service.
func NewProjectRoleService(db *gorm.DB, perms *PermissionService, activity ActivityLogger) *ProjectRoleService {
	return &ProjectRoleService{db: db, perms: perms, activity: activity}
}

type CreateRoleRequest struct {
	Name          string `json:"name" binding:"required,max=50"`
	Description   string `json:"description" binding:"max=255"`
	PermissionIDs []uint `json:"permission_ids"`
}

type UpdateRolePermissionsRequest struct {
	PermissionIDs []uint `json:"permission_ids" binding:"required"`
}

// cloneDefaultRoles copies every role template into projectID and returns the
// clones keyed by name. Missing templates or soft deleted permissions mean the
// seed data is corrupt.
func cloneDefaultRoles(tx *gorm.DB, projectID uint) (map[string]*models.ProjectRole, error) {
	var templates []models.DefaultRole
	if err := tx.Order("id ASC").Find(&templates).Error; err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, response.NewInternalInconsistency("no default role templates configured")
	}
	hasOwner := false
	for _, t := range templates {
		if t.Name == models.RoleOwner {
			hasOwner = true
			break
		}
	}
	if !hasOwner {
		return nil, response.NewInternalInconsistency("default role template \"owner\" is missing")
	}

	var links []models.DefaultRolePermission
	if err := tx.Find(&links).Error; err != nil {
		return nil, err
	}

	referenced := make(map[uint]struct{})
	grants := make(map[uint][]uint, len(templates))
	for _, l := range links {
		referenced[l.PermissionID] = struct{}{}
		grants[l.DefaultRoleID] = append(grants[l.DefaultRoleID], l.PermissionID)
	}
	if missing, err := missingPermissions(tx, referenced); err != nil {
		return nil, err
	} else if len(missing) > 0 {
		return nil, response.NewInternalInconsistency(fmt.Sprintf("role templates reference missing permissions: %v", missing))
	}

	roles := make(map[string]*models.ProjectRole, len(templates))
	for i := range templates {
		t := templates[i]
		role := &models.ProjectRole{
			ProjectID:     projectID,
			DefaultRoleID: &t.ID,
			Name:          t.Name,
			Description:   t.Description,
		}
		if err := tx.Create(role).Error; err != nil {
			return nil, fmt.Errorf("clone role %s: %w", t.Name, err)
		}
		if err := setRolePermissions(tx, role.ID, grants[t.ID]); err != nil {
			return nil, err
		}
		role.PermissionIDs = grants[t.ID]
		roles[role.Name] = role
	}
	return roles, nil
}

// missingPermissions returns the referenced ids that are absent or soft deleted, sorted.
func missingPermissions(tx *gorm.DB, referenced map[uint]struct{}) ([]uint, error) {
	if len(referenced) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(referenced))
	for id := range referenced {
		ids = append(ids, id)
	}

	var live []uint
	if err := tx.Model(&models.Permission{}).Where("id IN ?", ids).Pluck("id", &live).Error; err != nil {
		return nil, err
	}
	found := make(map[uint]struct{}, len(live))
	for _, id := range live {
		found[id] = struct{}{}
	}

	var missing []uint
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, nil
}

func setRolePermissions(tx *gorm.DB, roleID uint, permissionIDs []uint) error {
	if err := tx.Where("project_role_id = ?", roleID).Delete(&models.ProjectRolePermission{}).Error; err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	links := make([]models.ProjectRolePermission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		links = append(links, models.ProjectRolePermission{ProjectRoleID: roleID, PermissionID: id})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

// roleByName returns the live role called name in projectID.
func roleByName(tx *gorm.DB, projectID uint, name string) (*models.ProjectRole, error) {
	var role models.ProjectRole
	err := tx.Where("project_id = ? AND name = ? AND destroyed = ?", projectID, name, false).
		Order("id ASC").First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NotFoundf("role %q not found in project %d", name, projectID)
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// memberRole resolves the role granted by invites and approvals. A project without
// one has lost part of its cloned role set.
func memberRole(tx *gorm.DB, projectID uint) (*models.ProjectRole, error) {
	role, err := roleByName(tx, projectID, models.RoleMember)
	if response.IsKind(err, response.KindNotFound) {
		return nil, response.NewInternalInconsistency(fmt.Sprintf("project %d has no member role", projectID))
	}
	return role, err
}

// deleteProjectRoles removes the custom roles of projectID. Roles cloned from
// templates stay, so a destroyed project still has its owner role.
func deleteProjectRoles(tx *gorm.DB, projectID uint) error {
	sub := tx.Model(&models.ProjectRole{}).Select("id").
		Where("project_id = ? AND default_role_id IS NULL", projectID)
	if err := tx.Where("project_role_id IN (?)", sub).Delete(&models.ProjectRolePermission{}).Error; err != nil {
		return err
	}
	return tx.Where("project_id = ? AND default_role_id IS NULL", projectID).Delete(&models.ProjectRole{}).Error
}

// rolesWithPermission returns the ids of live roles in projectID granting name,
// plus the owner role.
func rolesWithPermission(tx *gorm.DB, projectID uint, name string) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.ProjectRole{}).
		Where("project_roles.project_id = ? AND project_roles.destroyed = ?", projectID, false).
		Where("project_roles.name = ? OR project_roles.id IN (?)", models.RoleOwner,
			tx.Model(&models.ProjectRolePermission{}).
				Select("project_role_permissions.project_role_id").
				Joins("JOIN permissions ON permissions.id = project_role_permissions.permission_id").
				Where("permissions.name = ?", name)).
		Pluck("project_roles.id", &ids).Error
	return ids, err
}

func loadRolePermissions(tx *gorm.DB, roles []models.ProjectRole) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	var links []models.ProjectRolePermission
	if err := tx.Where("project_role_id IN ?", ids).Order("permission_id").Find(&links).Error; err != nil {
		return err
	}
	byRole := make(map[uint][]uint, len(roles))
	for _, l := range links {
		byRole[l.ProjectRoleID] = append(byRole[l.ProjectRoleID], l.PermissionID)
	}
	for i := range roles {
		roles[i].PermissionIDs = byRole[roles[i].ID]
		if roles[i].PermissionIDs == nil {
			roles[i].PermissionIDs = []uint{}
		}
	}
	return nil
}

// ListRoles returns the live roles of a project with their permission ids.
func (s *ProjectRoleService) ListRoles(ctx context.Context, projectID, userID uint) ([]models.ProjectRole, error) {
	if err := s.perms.RequireMember(ctx, nil, projectID, userID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var roles []models.ProjectRole
	if err := db.Where("project_id = ? AND destroyed = ?", projectID, false).Order("id ASC").Find(&roles).Error; err != nil {
		return nil, err
	}
	if err := loadRolePermissions(db, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// UpdatePermissions replaces the permission set of a role. The owner role is fixed.
func (s *ProjectRoleService) UpdatePermissions(ctx context.Context, projectID, roleID, requesterID uint, req *UpdateRolePermissionsRequest) (*models.ProjectRole, error) {
	var role models.ProjectRole
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, requesterID, models.PermEditPermissionRole); err != nil {
			return err
		}
		if err := tx.Where("id = ? AND project_id = ? AND destroyed = ?", roleID, projectID, false).First(&role).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return response.NotFoundf("role %d not found", roleID)
			}
			return err
		}
		if role.Name == models.RoleOwner {
			return response.NewBadRequest("the owner role always has every permission")
		}

		ids := uniqueIDs(req.PermissionIDs)
		if err := requirePermissions(tx, ids); err != nil {
			return err
		}
		if err := setRolePermissions(tx, role.ID, ids); err != nil {
			return err
		}
		role.PermissionIDs = ids
		return nil
	})
	if err != nil {
		return nil, err
	}

	appendActivity(ctx, s.activity, requesterID, projectID, fmt.Sprintf("updated permissions of role %s", role.Name),
		map[string]interface{}{"action": "role.update_permissions", "role_id": role.ID, "permission_ids": role.PermissionIDs})
	return &role, nil
}

// CreateCustomRole adds a project-only role with no template origin.
func (s *ProjectRoleService) CreateCustomRole(ctx context.Context, projectID, requesterID uint, req *CreateRoleRequest) (*models.ProjectRole, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, response.NewBadRequest("role name is required")
	}
	switch name {
	case models.RoleOwner, models.RoleLead, models.RoleMember, models.RoleViewer:
		return nil, response.NewConflict(fmt.Sprintf("role name %q is reserved", name))
	}

	role := models.ProjectRole{ProjectID: projectID, Name: name, Description: req.Description}
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, requesterID, models.PermEditPermissionRole); err != nil {
			return err
		}
		var dup int64
		if err := tx.Model(&models.ProjectRole{}).
			Where("project_id = ? AND name = ? AND destroyed = ?", projectID, name, false).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return response.NewConflict(fmt.Sprintf("role %q already exists", name))
		}

		ids := uniqueIDs(req.PermissionIDs)
		if err := requirePermissions(tx, ids); err != nil {
			return err
		}
		if err := tx.Create(&role).Error; err != nil {
			return err
		}
		role.PermissionIDs = ids
		return setRolePermissions(tx, role.ID, ids)
	})
	if err != nil {
		return nil, err
	}

	appendActivity(ctx, s.activity, requesterID, projectID, fmt.Sprintf("created role %s", role.Name),
		map[string]interface{}{"action": "role.create", "role_id": role.ID})
	return &role, nil
}

// DeleteCustomRole marks an unused custom role destroyed.
func (s *ProjectRoleService) DeleteCustomRole(ctx context.Context, projectID, roleID, requesterID uint) error {
	var role models.ProjectRole
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, requesterID, models.PermEditPermissionRole); err != nil {
			return err
		}
		if err := tx.Where("id = ? AND project_id = ? AND destroyed = ?", roleID, projectID, false).First(&role).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return response.NotFoundf("role %d not found", roleID)
			}
			return err
		}
		if !role.IsCustom() {
			return response.NewBadRequest("only custom roles can be deleted")
		}

		var holders, invites int64
		if err := tx.Model(&models.ProjectMember{}).Where("project_role_id = ?", role.ID).Count(&holders).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Invite{}).Where("role_id = ? AND status = ?", role.ID, models.InviteStatusPending).Count(&invites).Error; err != nil {
			return err
		}
		if holders > 0 || invites > 0 {
			return response.NewConflict("role is still assigned to members or pending invites")
		}
		return tx.Model(&role).Update("destroyed", true).Error
	})
	if err != nil {
		return err
	}

	appendActivity(ctx, s.activity, requesterID, projectID, fmt.Sprintf("deleted role %s", role.Name),
		map[string]interface{}{"action": "role.delete", "role_id": role.ID})
	return nil
}

// requirePermissions fails with NotFound listing ids that are not live permissions.
func requirePermissions(tx *gorm.DB, ids []uint) error {
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	missing, err := missingPermissions(tx, set)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return response.NotFoundf("permissions not found: %v", missing)
	}
	return nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
