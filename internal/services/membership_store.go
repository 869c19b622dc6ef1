package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

// MembershipStore is the only writer of project_members. It owns the membership
// invariants: no duplicate (user, role) pair, at most one lead, the last owner
// stays owner, and member_count always equals the number of rows.
//
// Every method takes the caller's transaction handle.
type MembershipStore struct{}

// Members returns the project's memberships in join order.
func (MembershipStore) Members(tx *gorm.DB, projectID uint) ([]models.ProjectMember, error) {
	var members []models.ProjectMember
	err := tx.Preload("User").
		Where("project_id = ?", projectID).
		Order("joined_at ASC, id ASC").
		Find(&members).Error
	return members, err
}

// RolesOf returns every project role id held by userID.
func (MembershipStore) RolesOf(tx *gorm.DB, projectID, userID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Pluck("project_role_id", &ids).Error
	return ids, err
}

func (MembershipStore) IsMember(tx *gorm.DB, projectID, userID uint) (bool, error) {
	var count int64
	err := tx.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	return count > 0, err
}

// HoldersOf returns the users holding roleID.
func (MembershipStore) HoldersOf(tx *gorm.DB, projectID, roleID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.ProjectMember{}).
		Where("project_id = ? AND project_role_id = ?", projectID, roleID).
		Order("joined_at ASC, id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// UserIDs returns the distinct member user ids.
func (MembershipStore) UserIDs(tx *gorm.DB, projectID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.ProjectMember{}).
		Where("project_id = ?", projectID).
		Distinct("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// Add inserts a membership after checking the role and the invariants.
func (s MembershipStore) Add(tx *gorm.DB, projectID, userID, roleID uint, joinedAt time.Time) (*models.ProjectMember, error) {
	role, err := s.role(tx, projectID, roleID)
	if err != nil {
		return nil, err
	}

	var dup int64
	if err := tx.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ? AND project_role_id = ?", projectID, userID, roleID).
		Count(&dup).Error; err != nil {
		return nil, err
	}
	if dup > 0 {
		return nil, response.NewConflict(fmt.Sprintf("user %d already holds role %s", userID, role.Name))
	}

	if err := s.checkSingleLead(tx, projectID, userID, role); err != nil {
		return nil, err
	}

	member := models.ProjectMember{
		ProjectID:     projectID,
		UserID:        userID,
		ProjectRoleID: roleID,
		JoinedAt:      joinedAt,
	}
	if err := tx.Create(&member).Error; err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}
	if err := s.recount(tx, projectID); err != nil {
		return nil, err
	}
	return &member, nil
}

// SetRole replaces every role userID holds with roleID, keeping the original join time.
func (s MembershipStore) SetRole(tx *gorm.DB, projectID, userID, roleID uint) error {
	var rows []models.ProjectMember
	if err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).
		Order("joined_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return response.NotFoundf("user %d is not a member of project %d", userID, projectID)
	}

	role, err := s.role(tx, projectID, roleID)
	if err != nil {
		return err
	}
	if len(rows) == 1 && rows[0].ProjectRoleID == roleID {
		return nil
	}

	if err := s.checkSingleLead(tx, projectID, userID, role); err != nil {
		return err
	}
	if role.Name != models.RoleOwner {
		if err := s.checkKeepsOwner(tx, projectID, userID); err != nil {
			return err
		}
	}

	if len(rows) > 1 {
		extra := make([]uint, 0, len(rows)-1)
		for _, r := range rows[1:] {
			extra = append(extra, r.ID)
		}
		if err := tx.Delete(&models.ProjectMember{}, extra).Error; err != nil {
			return err
		}
	}
	if err := tx.Model(&models.ProjectMember{}).
		Where("id = ?", rows[0].ID).
		Update("project_role_id", roleID).Error; err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	return s.recount(tx, projectID)
}

// Remove deletes every membership of userID. Owners cannot be removed.
func (s MembershipStore) Remove(tx *gorm.DB, projectID, userID uint) error {
	roleIDs, err := s.RolesOf(tx, projectID, userID)
	if err != nil {
		return err
	}
	if len(roleIDs) == 0 {
		return response.NotFoundf("user %d is not a member of project %d", userID, projectID)
	}
	isOwner, err := holdsRoleNamed(tx, roleIDs, models.RoleOwner)
	if err != nil {
		return err
	}
	if isOwner {
		return response.NewBadRequest("the project owner cannot be removed")
	}

	if err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&models.ProjectMember{}).Error; err != nil {
		return err
	}
	return s.recount(tx, projectID)
}

// RemoveAll drops every membership of a project being deleted.
func (s MembershipStore) RemoveAll(tx *gorm.DB, projectID uint) error {
	if err := tx.Where("project_id = ?", projectID).Delete(&models.ProjectMember{}).Error; err != nil {
		return err
	}
	return s.recount(tx, projectID)
}

func (MembershipStore) role(tx *gorm.DB, projectID, roleID uint) (*models.ProjectRole, error) {
	var role models.ProjectRole
	err := tx.Where("id = ? AND project_id = ? AND destroyed = ?", roleID, projectID, false).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NotFoundf("role %d not found in project %d", roleID, projectID)
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s MembershipStore) checkSingleLead(tx *gorm.DB, projectID, userID uint, role *models.ProjectRole) error {
	if role.Name != models.RoleLead {
		return nil
	}
	var others int64
	if err := tx.Model(&models.ProjectMember{}).
		Where("project_id = ? AND project_role_id = ? AND user_id <> ?", projectID, role.ID, userID).
		Count(&others).Error; err != nil {
		return err
	}
	if others > 0 {
		return response.NewConflict("project already has a lead")
	}
	return nil
}

func (s MembershipStore) checkKeepsOwner(tx *gorm.DB, projectID, userID uint) error {
	var ownerRole models.ProjectRole
	err := tx.Where("project_id = ? AND name = ?", projectID, models.RoleOwner).First(&ownerRole).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	holders, err := s.HoldersOf(tx, projectID, ownerRole.ID)
	if err != nil {
		return err
	}
	if len(holders) == 1 && holders[0] == userID {
		return response.NewBadRequest("the only owner cannot change role")
	}
	return nil
}

func (MembershipStore) recount(tx *gorm.DB, projectID uint) error {
	var count int64
	if err := tx.Model(&models.ProjectMember{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return err
	}
	return tx.Model(&models.Project{}).Where("id = ?", projectID).UpdateColumn("member_count", count).Error
}
