package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/logger"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

// InviteService runs the email and token invite flows. Accepting ends in the
// shared addMember path inside the same transaction.
type InviteService struct {
	db       *gorm.DB
	perms    *PermissionService
	store    MembershipStore
	notifier Notifier
	mailer   Mailer
	activity ActivityLogger
	ttl      time.Duration
}

// NewInviteService creates an invite service; email invites expire after ttl.
func NewInviteService(db *gorm.DB, perms *PermissionService, notifier Notifier, mailer Mailer, activity ActivityLogger, ttl time.Duration) *InviteService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &InviteService{
		db:       db,
		perms:    perms,
		notifier: notifier,
		mailer:   mailer,
		activity: activity,
		ttl:      ttl,
	}
}

type CreateInviteRequest struct {
	Email  string `json:"email" binding:"required,email"`
	RoleID *uint  `json:"role_id"`
}

// createPermanentInvite issues the project's token invite and reads it back through tx.
func createPermanentInvite(tx *gorm.DB, projectID, inviterID, roleID uint) (*models.Invite, error) {
	token := uuid.NewString()
	invite := models.Invite{
		ProjectID:   projectID,
		InviteToken: &token,
		InvitedBy:   inviterID,
		Status:      models.InviteStatusPending,
		RoleID:      roleID,
		IsPermanent: true,
	}
	if err := tx.Create(&invite).Error; err != nil {
		return nil, fmt.Errorf("create permanent invite: %w", err)
	}

	var stored models.Invite
	if err := tx.First(&stored, invite.ID).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateInvite invites an email address. A pending invite for the same address is
// reused with a fresh expiry and inviter instead of being duplicated.
func (s *InviteService) CreateInvite(ctx context.Context, projectID, inviterID uint, req *CreateInviteRequest) (*models.Invite, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, response.NewBadRequest("email is required")
	}

	var (
		invite  models.Invite
		project *models.Project
		inviter *models.User
		invitee *models.User
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if project, err = lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, inviterID, models.PermCreateInvite); err != nil {
			return err
		}
		if inviter, err = findUser(tx, inviterID); err != nil {
			return err
		}

		var role *models.ProjectRole
		if req.RoleID != nil {
			if role, err = s.store.role(tx, projectID, *req.RoleID); err != nil {
				return err
			}
		} else if role, err = memberRole(tx, projectID); err != nil {
			return err
		}
		if role.Name == models.RoleOwner {
			return response.NewBadRequest("the owner role cannot be granted by invite")
		}

		var existing models.User
		err = tx.Where("LOWER(email) = ?", email).First(&existing).Error
		switch {
		case err == nil:
			invitee = &existing
			member, err := s.store.IsMember(tx, projectID, existing.ID)
			if err != nil {
				return err
			}
			if member {
				return response.NewConflict(fmt.Sprintf("%s is already a member", email))
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		expires := time.Now().Add(s.ttl)
		err = tx.Where("project_id = ? AND email = ? AND status = ? AND is_permanent = ?",
			projectID, email, models.InviteStatusPending, false).
			First(&invite).Error
		if err == nil {
			return tx.Model(&invite).Updates(map[string]interface{}{
				"expires_at": expires,
				"invited_by": inviterID,
				"role_id":    role.ID,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		invite = models.Invite{
			ProjectID: projectID,
			Email:     &email,
			InvitedBy: inviterID,
			Status:    models.InviteStatusPending,
			RoleID:    role.ID,
			ExpiresAt: &expires,
		}
		return tx.Create(&invite).Error
	})
	if err != nil {
		return nil, err
	}

	if s.mailer != nil {
		if err := s.mailer.SendInvite(email, invite.ID, project.Name, inviter.DisplayName()); err != nil {
			logger.ForProject(ctx, projectID, inviterID).Warn().Err(err).Uint("invite_id", invite.ID).Msg("[Invite] mail not sent")
		}
	}
	if invitee != nil {
		notifyAll(ctx, s.notifier, NotificationInput{
			UserID:    invitee.ID,
			ProjectID: uintPtr(projectID),
			Type:      models.NotifyInviteReceived,
			Title:     "Project invitation",
			Content:   fmt.Sprintf("%s invited you to %s", inviter.DisplayName(), project.Name),
			Link:      "/invites",
			RelatedID: uintPtr(invite.ID),
		})
	}
	appendActivity(ctx, s.activity, inviterID, projectID, fmt.Sprintf("invited %s", email),
		map[string]interface{}{"action": "invite.create", "invite_id": invite.ID})
	return &invite, nil
}

func (s *InviteService) GetPermanentInvite(ctx context.Context, projectID, userID uint) (*models.Invite, error) {
	db := s.db.WithContext(ctx)
	if _, err := findProject(db, projectID); err != nil {
		return nil, err
	}
	if err := s.perms.Require(ctx, db, projectID, userID, models.PermViewInvite); err != nil {
		return nil, err
	}
	return s.permanentInvite(db, projectID)
}

func (s *InviteService) permanentInvite(tx *gorm.DB, projectID uint) (*models.Invite, error) {
	var invite models.Invite
	err := tx.Where("project_id = ? AND is_permanent = ?", projectID, true).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NewInternalInconsistency(fmt.Sprintf("project %d has no permanent invite", projectID))
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

// RegeneratePermanentToken replaces the permanent invite token, invalidating shared links.
func (s *InviteService) RegeneratePermanentToken(ctx context.Context, projectID, userID uint) (*models.Invite, error) {
	var invite *models.Invite
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermCreateInvite); err != nil {
			return err
		}
		current, err := s.permanentInvite(tx, projectID)
		if err != nil {
			return err
		}
		token := uuid.NewString()
		if err := tx.Model(current).Updates(map[string]interface{}{
			"invite_token": token,
			"invited_by":   userID,
		}).Error; err != nil {
			return err
		}
		invite, err = s.permanentInvite(tx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	appendActivity(ctx, s.activity, userID, projectID, "regenerated the invite link",
		map[string]interface{}{"action": "invite.regenerate"})
	return invite, nil
}

// JoinByToken redeems a permanent invite. The invite stays in place for the next user.
func (s *InviteService) JoinByToken(ctx context.Context, token string, userID uint) (*models.ProjectMember, error) {
	if token == "" {
		return nil, response.NewBadRequest("invite token is required")
	}

	var (
		member *models.ProjectMember
		invite models.Invite
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		err := tx.Where("invite_token = ? AND is_permanent = ? AND status = ?", token, true, models.InviteStatusPending).
			First(&invite).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NewNotFound("invite link is invalid")
		}
		if err != nil {
			return err
		}
		member, err = addMember(tx, s.store, invite.ProjectID, userID, invite.RoleID)
		return err
	})
	if err != nil {
		return nil, err
	}

	appendActivity(ctx, s.activity, userID, invite.ProjectID, "joined through the invite link",
		map[string]interface{}{"action": "invite.join_link"})
	return member, nil
}

// loadEmailInvite fetches a pending email invite and checks it is addressed to userID.
func (s *InviteService) loadEmailInvite(tx *gorm.DB, inviteID, userID uint) (*models.Invite, *models.User, error) {
	var invite models.Invite
	err := tx.Preload("Project").
		Where("id = ? AND is_permanent = ? AND status = ?", inviteID, false, models.InviteStatusPending).
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, response.NotFoundf("invite %d not found", inviteID)
	}
	if err != nil {
		return nil, nil, err
	}
	user, err := findUser(tx, userID)
	if err != nil {
		return nil, nil, err
	}
	if invite.Email == nil || normalizeEmail(user.Email) != *invite.Email {
		return nil, nil, response.NewForbidden("this invite was sent to a different email address")
	}
	return &invite, user, nil
}

// AcceptInvite adds the invitee with the invite's role and deletes the invite.
// An expired invite is deleted and reported as BadRequest.
func (s *InviteService) AcceptInvite(ctx context.Context, inviteID, userID uint) (*models.ProjectMember, error) {
	var (
		member  *models.ProjectMember
		invite  *models.Invite
		user    *models.User
		expired bool
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if invite, user, err = s.loadEmailInvite(tx, inviteID, userID); err != nil {
			return err
		}
		if invite.Expired(time.Now()) {
			expired = true
			return tx.Delete(&models.Invite{}, invite.ID).Error
		}
		if member, err = addMember(tx, s.store, invite.ProjectID, userID, invite.RoleID); err != nil {
			return err
		}
		return tx.Delete(&models.Invite{}, invite.ID).Error
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, response.NewBadRequest("invite has expired")
	}

	projectName := ""
	if invite.Project != nil {
		projectName = invite.Project.Name
	}
	notifyAll(ctx, s.notifier, NotificationInput{
		UserID:    invite.InvitedBy,
		ProjectID: uintPtr(invite.ProjectID),
		Type:      models.NotifyInviteAccepted,
		Title:     "Invitation accepted",
		Content:   fmt.Sprintf("%s joined %s", user.DisplayName(), projectName),
		Link:      projectLink(invite.ProjectID),
		RelatedID: uintPtr(userID),
	})
	appendActivity(ctx, s.activity, userID, invite.ProjectID, "accepted an invitation",
		map[string]interface{}{"action": "invite.accept", "invite_id": invite.ID})
	return member, nil
}

func (s *InviteService) RejectInvite(ctx context.Context, inviteID, userID uint) error {
	var (
		invite *models.Invite
		user   *models.User
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if invite, user, err = s.loadEmailInvite(tx, inviteID, userID); err != nil {
			return err
		}
		return tx.Delete(&models.Invite{}, invite.ID).Error
	})
	if err != nil {
		return err
	}

	projectName := ""
	if invite.Project != nil {
		projectName = invite.Project.Name
	}
	notifyAll(ctx, s.notifier, NotificationInput{
		UserID:    invite.InvitedBy,
		ProjectID: uintPtr(invite.ProjectID),
		Type:      models.NotifyInviteRejected,
		Title:     "Invitation declined",
		Content:   fmt.Sprintf("%s declined the invitation to %s", user.DisplayName(), projectName),
		RelatedID: uintPtr(userID),
	})
	return nil
}

// CancelInvite withdraws an email invite. Allowed for the inviter and holders of add_member.
func (s *InviteService) CancelInvite(ctx context.Context, inviteID, requesterID uint) error {
	var invite models.Invite
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND is_permanent = ?", inviteID, false).First(&invite).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFoundf("invite %d not found", inviteID)
		}
		if err != nil {
			return err
		}
		if invite.InvitedBy != requesterID {
			if err := s.perms.Require(ctx, tx, invite.ProjectID, requesterID, models.PermAddMember); err != nil {
				return err
			}
		}
		return tx.Delete(&models.Invite{}, invite.ID).Error
	})
	if err != nil {
		return err
	}

	appendActivity(ctx, s.activity, requesterID, invite.ProjectID, "cancelled an invitation",
		map[string]interface{}{"action": "invite.cancel", "invite_id": invite.ID})
	return nil
}

// ListProjectInvites returns the pending email invites of a project.
func (s *InviteService) ListProjectInvites(ctx context.Context, projectID, userID uint) ([]models.Invite, error) {
	db := s.db.WithContext(ctx)
	if _, err := findProject(db, projectID); err != nil {
		return nil, err
	}
	if err := s.perms.Require(ctx, db, projectID, userID, models.PermViewInvite); err != nil {
		return nil, err
	}

	var invites []models.Invite
	err := db.Where("project_id = ? AND is_permanent = ? AND status = ?", projectID, false, models.InviteStatusPending).
		Order("created_at DESC").
		Find(&invites).Error
	return invites, err
}

// ListMyInvites returns unexpired invites addressed to the user's email.
func (s *InviteService) ListMyInvites(ctx context.Context, userID uint) ([]models.Invite, error) {
	db := s.db.WithContext(ctx)
	user, err := findUser(db, userID)
	if err != nil {
		return nil, err
	}
	email := normalizeEmail(user.Email)
	if email == "" {
		return []models.Invite{}, nil
	}

	var invites []models.Invite
	err = db.Preload("Project").
		Where("email = ? AND is_permanent = ? AND status = ?", email, false, models.InviteStatusPending).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Order("created_at DESC").
		Find(&invites).Error
	return invites, err
}

// ExpireStale deletes pending email invites whose expiry is before now.
func (s *InviteService) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("is_permanent = ? AND status = ? AND expires_at IS NOT NULL AND expires_at < ?",
			false, models.InviteStatusPending, now).
		Delete(&models.Invite{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		logger.Info().Int64("count", result.RowsAffected).Msg("[Invite] expired invites removed")
	}
	return result.RowsAffected, nil
}
