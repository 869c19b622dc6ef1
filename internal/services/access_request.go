package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

// AccessRequestService handles requests to join private projects.
type AccessRequestService struct {
	db       *gorm.DB
	perms    *PermissionService
	store    MembershipStore
	notifier Notifier
	activity ActivityLogger
}

// NewAccessRequestService creates an access request service.
func NewAccessRequestService(db *gorm.DB, perms *PermissionService, notifier Notifier, activity ActivityLogger) *AccessRequestService {
	return &AccessRequestService{db: db, perms: perms, notifier: notifier, activity: activity}
}

type CreateAccessRequest struct {
	Message string `json:"message" binding:"max=1000"`
}

type ApproveAccessRequest struct {
	RoleID *uint `json:"role_id"`
}

type RejectAccessRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// Create files a pending request. Public projects are joined directly instead.
func (s *AccessRequestService) Create(ctx context.Context, projectID, userID uint, req *CreateAccessRequest) (*models.AccessRequest, error) {
	var (
		request models.AccessRequest
		project *models.Project
		user    *models.User
		holders []uint
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if project, err = lockProject(tx, projectID); err != nil {
			return err
		}
		if project.IsPublic() {
			return response.NewBadRequest("project is public, join it directly")
		}
		if user, err = findUser(tx, userID); err != nil {
			return err
		}
		member, err := s.store.IsMember(tx, projectID, userID)
		if err != nil {
			return err
		}
		if member {
			return response.NewConflict("you are already a member of this project")
		}

		var pending int64
		if err := tx.Model(&models.AccessRequest{}).
			Where("project_id = ? AND user_id = ? AND status = ?", projectID, userID, models.AccessRequestPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return response.NewConflict("an access request is already pending")
		}

		request = models.AccessRequest{
			ProjectID: projectID,
			UserID:    userID,
			Message:   req.Message,
			Status:    models.AccessRequestPending,
		}
		if err := tx.Create(&request).Error; err != nil {
			return err
		}

		approverRoles, err := rolesWithPermission(tx, projectID, models.PermAddMember)
		if err != nil {
			return err
		}
		if len(approverRoles) > 0 {
			return tx.Model(&models.ProjectMember{}).
				Where("project_id = ? AND project_role_id IN ?", projectID, approverRoles).
				Distinct("user_id").
				Pluck("user_id", &holders).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inputs := make([]NotificationInput, 0, len(holders))
	for _, uid := range holders {
		inputs = append(inputs, NotificationInput{
			UserID:    uid,
			ProjectID: uintPtr(projectID),
			Type:      models.NotifyAccessRequested,
			Title:     "Access requested",
			Content:   fmt.Sprintf("%s asked to join %s", user.DisplayName(), project.Name),
			Link:      fmt.Sprintf("/projects/%d/access-requests", projectID),
			RelatedID: uintPtr(request.ID),
		})
	}
	notifyAll(ctx, s.notifier, inputs...)
	return &request, nil
}

func (s *AccessRequestService) loadPending(tx *gorm.DB, requestID uint) (*models.AccessRequest, error) {
	var request models.AccessRequest
	err := tx.Where("id = ? AND status = ?", requestID, models.AccessRequestPending).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NotFoundf("access request %d not found", requestID)
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// Approve adds the requester with roleID, or the project's member role when nil,
// and deletes the request.
func (s *AccessRequestService) Approve(ctx context.Context, requestID, reviewerID uint, roleID *uint) (*models.ProjectMember, error) {
	var (
		request *models.AccessRequest
		member  *models.ProjectMember
		project *models.Project
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if request, err = s.loadPending(tx, requestID); err != nil {
			return err
		}
		if project, err = lockProject(tx, request.ProjectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, request.ProjectID, reviewerID, models.PermAddMember); err != nil {
			return err
		}

		var role *models.ProjectRole
		if roleID != nil {
			if role, err = s.store.role(tx, request.ProjectID, *roleID); err != nil {
				return err
			}
			if role.Name == models.RoleOwner {
				return response.NewBadRequest("the owner role cannot be granted through an access request")
			}
		} else if role, err = memberRole(tx, request.ProjectID); err != nil {
			return err
		}

		if member, err = addMember(tx, s.store, request.ProjectID, request.UserID, role.ID); err != nil {
			return err
		}
		return tx.Delete(&models.AccessRequest{}, request.ID).Error
	})
	if err != nil {
		return nil, err
	}

	notifyAll(ctx, s.notifier, NotificationInput{
		UserID:    request.UserID,
		ProjectID: uintPtr(request.ProjectID),
		Type:      models.NotifyAccessRequestApproved,
		Title:     "Access approved",
		Content:   fmt.Sprintf("Your request to join %s was approved", project.Name),
		Link:      projectLink(request.ProjectID),
	})
	appendActivity(ctx, s.activity, reviewerID, request.ProjectID, fmt.Sprintf("approved access for user %d", request.UserID),
		map[string]interface{}{"action": "access_request.approve", "user_id": request.UserID, "role_id": member.ProjectRoleID})
	return member, nil
}

func (s *AccessRequestService) Reject(ctx context.Context, requestID, reviewerID uint, reason string) error {
	var (
		request *models.AccessRequest
		project *models.Project
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if request, err = s.loadPending(tx, requestID); err != nil {
			return err
		}
		if project, err = lockProject(tx, request.ProjectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, request.ProjectID, reviewerID, models.PermAddMember); err != nil {
			return err
		}
		return tx.Delete(&models.AccessRequest{}, request.ID).Error
	})
	if err != nil {
		return err
	}

	content := fmt.Sprintf("Your request to join %s was rejected", project.Name)
	if reason != "" {
		content += ": " + reason
	}
	notifyAll(ctx, s.notifier, NotificationInput{
		UserID:    request.UserID,
		ProjectID: uintPtr(request.ProjectID),
		Type:      models.NotifyAccessRequestRejected,
		Title:     "Access rejected",
		Content:   content,
	})
	appendActivity(ctx, s.activity, reviewerID, request.ProjectID, fmt.Sprintf("rejected access for user %d", request.UserID),
		map[string]interface{}{"action": "access_request.reject", "user_id": request.UserID, "reason": reason})
	return nil
}

// Cancel withdraws the caller's own pending request.
func (s *AccessRequestService) Cancel(ctx context.Context, requestID, userID uint) error {
	return inTx(ctx, s.db, func(tx *gorm.DB) error {
		request, err := s.loadPending(tx, requestID)
		if err != nil {
			return err
		}
		if request.UserID != userID {
			return response.NewForbidden("only the requester can cancel this request")
		}
		return tx.Delete(&models.AccessRequest{}, request.ID).Error
	})
}

func (s *AccessRequestService) ListPending(ctx context.Context, projectID, userID uint) ([]models.AccessRequest, error) {
	db := s.db.WithContext(ctx)
	if _, err := findProject(db, projectID); err != nil {
		return nil, err
	}
	if err := s.perms.Require(ctx, db, projectID, userID, models.PermAddMember); err != nil {
		return nil, err
	}

	var requests []models.AccessRequest
	err := db.Preload("User").
		Where("project_id = ? AND status = ?", projectID, models.AccessRequestPending).
		Order("created_at ASC").
		Find(&requests).Error
	return requests, err
}

func (s *AccessRequestService) ListMine(ctx context.Context, userID uint) ([]models.AccessRequest, error) {
	var requests []models.AccessRequest
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.AccessRequestPending).
		Order("created_at DESC").
		Find(&requests).Error
	return requests, err
}
