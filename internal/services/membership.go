package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

// MembershipService coordinates member changes. All writes go through
// MembershipStore inside one transaction per call.
type MembershipService struct {
	db       *gorm.DB
	perms    *PermissionService
	store    MembershipStore
	search   SearchSync
	notifier Notifier
	activity ActivityLogger
}

// NewMembershipService creates the membership lifecycle service.
func NewMembershipService(db *gorm.DB, perms *PermissionService, search SearchSync, notifier Notifier, activity ActivityLogger) *MembershipService {
	return &MembershipService{
		db:       db,
		perms:    perms,
		search:   search,
		notifier: notifier,
		activity: activity,
	}
}

type AddMemberRequest struct {
	UserID uint  `json:"user_id" binding:"required"`
	RoleID *uint `json:"role_id"`
}

type RoleChange struct {
	UserID        uint `json:"user_id" binding:"required"`
	ProjectRoleID uint `json:"project_role_id" binding:"required"`
}

type UpdateMemberRolesRequest struct {
	Changes []RoleChange `json:"changes" binding:"required,min=1,dive"`
}

type MemberView struct {
	UserID        uint      `json:"user_id"`
	Username      string    `json:"username"`
	Nickname      string    `json:"nickname"`
	Email         string    `json:"email"`
	Avatar        string    `json:"avatar"`
	ProjectRoleID uint      `json:"project_role_id"`
	RoleName      string    `json:"role_name"`
	JoinedAt      time.Time `json:"joined_at"`
}

// addMember is the shared add path for direct adds, invites and access requests.
func addMember(tx *gorm.DB, store MembershipStore, projectID, userID, roleID uint) (*models.ProjectMember, error) {
	if _, err := lockProject(tx, projectID); err != nil {
		return nil, err
	}
	already, err := store.IsMember(tx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, response.NewConflict(fmt.Sprintf("user %d is already a member", userID))
	}
	if _, err := findUser(tx, userID); err != nil {
		return nil, err
	}

	now := time.Now()
	member, err := store.Add(tx, projectID, userID, roleID, now)
	if err != nil {
		return nil, err
	}
	if err := touchProject(tx, projectID, now); err != nil {
		return nil, err
	}
	return member, nil
}

// AddMember adds userID directly. requesterID needs add_member, and only owners may hand out the owner role.
func (s *MembershipService) AddMember(ctx context.Context, projectID, requesterID uint, req *AddMemberRequest) (*models.ProjectMember, error) {
	var (
		member  *models.ProjectMember
		project *models.Project
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if project, err = lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, requesterID, models.PermAddMember); err != nil {
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
			if err := s.requireOwner(ctx, tx, projectID, requesterID); err != nil {
				return err
			}
		}

		member, err = addMember(tx, s.store, projectID, req.UserID, role.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	notifyAll(ctx, s.notifier, NotificationInput{
		UserID:    req.UserID,
		ProjectID: uintPtr(projectID),
		Type:      models.NotifyMemberAdded,
		Title:     "Added to project",
		Content:   fmt.Sprintf("You were added to project %s", project.Name),
		Link:      projectLink(projectID),
	})
	appendActivity(ctx, s.activity, requesterID, projectID, fmt.Sprintf("added user %d", req.UserID),
		map[string]interface{}{"action": "member.add", "user_id": req.UserID, "role_id": member.ProjectRoleID})
	return member, nil
}

// JoinPublic lets any user join a public project with the member role.
func (s *MembershipService) JoinPublic(ctx context.Context, projectID, userID uint) (*models.ProjectMember, error) {
	var member *models.ProjectMember
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		project, err := lockProject(tx, projectID)
		if err != nil {
			return err
		}
		if !project.IsPublic() {
			return response.NewForbidden("project is private, request access instead")
		}
		role, err := memberRole(tx, projectID)
		if err != nil {
			return err
		}
		member, err = addMember(tx, s.store, projectID, userID, role.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	appendActivity(ctx, s.activity, userID, projectID, "joined the project",
		map[string]interface{}{"action": "member.join"})
	return member, nil
}

// removeMemberTx unassigns the user's tasks, drops the invites they sent and their
// access requests, then removes the membership. It returns refreshed documents for
// the tasks whose assignee lists changed.
func (s *MembershipService) removeMemberTx(tx *gorm.DB, projectID, userID uint) ([]*TaskDocument, error) {
	ok, err := s.store.IsMember(tx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, response.NotFoundf("user %d is not a member of project %d", userID, projectID)
	}

	var taskIDs []uint
	if err := tx.Model(&models.TaskAssignee{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Pluck("task_id", &taskIDs).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).Delete(&models.TaskAssignee{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("project_id = ? AND invited_by = ? AND is_permanent = ?", projectID, userID, false).
		Delete(&models.Invite{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).Delete(&models.AccessRequest{}).Error; err != nil {
		return nil, err
	}
	if err := s.store.Remove(tx, projectID, userID); err != nil {
		return nil, err
	}
	if err := touchProject(tx, projectID, time.Now()); err != nil {
		return nil, err
	}

	var docs []*TaskDocument
	if len(taskIDs) > 0 {
		var tasks []models.Task
		if err := tx.Preload("Assignees").Where("id IN ?", taskIDs).Find(&tasks).Error; err != nil {
			return nil, err
		}
		for i := range tasks {
			docs = append(docs, taskDocument(&tasks[i]))
		}
	}
	return docs, nil
}

// RemoveMember removes userID on behalf of requesterID, who needs add_member.
// Removing someone who is no longer a member is NotFound.
func (s *MembershipService) RemoveMember(ctx context.Context, projectID, userID, requesterID uint) error {
	var (
		project *models.Project
		docs    []*TaskDocument
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if project, err = lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, requesterID, models.PermAddMember); err != nil {
			return err
		}
		docs, err = s.removeMemberTx(tx, projectID, userID)
		return err
	})
	if err != nil {
		return err
	}

	s.syncTasks(ctx, docs)
	notifyAll(ctx, s.notifier, NotificationInput{
		UserID:    userID,
		ProjectID: uintPtr(projectID),
		Type:      models.NotifyMemberRemoved,
		Title:     "Removed from project",
		Content:   fmt.Sprintf("You were removed from project %s", project.Name),
	})
	appendActivity(ctx, s.activity, requesterID, projectID, fmt.Sprintf("removed user %d", userID),
		map[string]interface{}{"action": "member.remove", "user_id": userID})
	return nil
}

// Leave removes the caller from a project. Owners cannot leave.
func (s *MembershipService) Leave(ctx context.Context, projectID, userID uint) error {
	var docs []*TaskDocument
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		var err error
		docs, err = s.removeMemberTx(tx, projectID, userID)
		return err
	})
	if err != nil {
		return err
	}

	s.syncTasks(ctx, docs)
	appendActivity(ctx, s.activity, userID, projectID, "left the project",
		map[string]interface{}{"action": "member.leave"})
	return nil
}

// UpdateMemberRoles applies a batch of role changes atomically.
//
// Unknown users and roles are collected into a single NotFound. More than one
// change to lead is rejected outright. When one change assigns lead, the current
// lead is demoted to member before the batch is applied.
func (s *MembershipService) UpdateMemberRoles(ctx context.Context, projectID, requesterID uint, req *UpdateMemberRolesRequest) error {
	if req == nil || len(req.Changes) == 0 {
		return response.NewBadRequest("no role changes given")
	}
	seen := make(map[uint]struct{}, len(req.Changes))
	for _, c := range req.Changes {
		if _, dup := seen[c.UserID]; dup {
			return response.BadRequestf("user %d appears more than once", c.UserID)
		}
		seen[c.UserID] = struct{}{}
	}

	var (
		project   *models.Project
		roleNames = map[uint]string{}
		demoted   []uint
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if project, err = lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, requesterID, models.PermEditMemberRole); err != nil {
			return err
		}

		var unknownUsers, unknownRoles []string
		roles := map[uint]*models.ProjectRole{}
		for _, c := range req.Changes {
			ok, err := s.store.IsMember(tx, projectID, c.UserID)
			if err != nil {
				return err
			}
			if !ok {
				unknownUsers = append(unknownUsers, fmt.Sprint(c.UserID))
			}
			if _, cached := roles[c.ProjectRoleID]; cached {
				continue
			}
			role, err := s.store.role(tx, projectID, c.ProjectRoleID)
			if response.IsKind(err, response.KindNotFound) {
				unknownRoles = append(unknownRoles, fmt.Sprint(c.ProjectRoleID))
				continue
			}
			if err != nil {
				return err
			}
			roles[role.ID] = role
			roleNames[role.ID] = role.Name
		}
		if len(unknownUsers) > 0 || len(unknownRoles) > 0 {
			var parts []string
			if len(unknownUsers) > 0 {
				parts = append(parts, "unknown members: "+strings.Join(unknownUsers, ", "))
			}
			if len(unknownRoles) > 0 {
				parts = append(parts, "unknown roles: "+strings.Join(unknownRoles, ", "))
			}
			return response.NewNotFound(strings.Join(parts, "; "))
		}

		if err := s.checkOwnerChanges(ctx, tx, projectID, requesterID, req.Changes, roles); err != nil {
			return err
		}

		var newLead uint
		for _, c := range req.Changes {
			if roles[c.ProjectRoleID].Name != models.RoleLead {
				continue
			}
			if newLead != 0 {
				return response.NewBadRequest("only one lead can be assigned per request")
			}
			newLead = c.UserID
		}

		if newLead != 0 {
			lead, err := roleByName(tx, projectID, models.RoleLead)
			if err != nil {
				return err
			}
			holders, err := s.store.HoldersOf(tx, projectID, lead.ID)
			if err != nil {
				return err
			}
			member, err := memberRole(tx, projectID)
			if err != nil {
				return err
			}
			roleNames[member.ID] = member.Name
			for _, h := range holders {
				if h == newLead {
					continue
				}
				if err := s.store.SetRole(tx, projectID, h, member.ID); err != nil {
					return err
				}
				demoted = append(demoted, h)
			}
		}

		for _, c := range req.Changes {
			if err := s.store.SetRole(tx, projectID, c.UserID, c.ProjectRoleID); err != nil {
				return err
			}
		}
		return touchProject(tx, projectID, time.Now())
	})
	if err != nil {
		return err
	}

	var inputs []NotificationInput
	for _, c := range req.Changes {
		inputs = append(inputs, roleChangedNotice(project, c.UserID, roleNames[c.ProjectRoleID]))
	}
	for _, uid := range demoted {
		if _, inBatch := seen[uid]; inBatch {
			continue
		}
		inputs = append(inputs, roleChangedNotice(project, uid, models.RoleMember))
	}
	notifyAll(ctx, s.notifier, inputs...)
	appendActivity(ctx, s.activity, requesterID, projectID, fmt.Sprintf("changed roles of %d members", len(req.Changes)),
		map[string]interface{}{"action": "member.update_roles", "changes": req.Changes, "demoted": demoted})
	return nil
}

// checkOwnerChanges reserves granting or taking away the owner role to owners.
func (s *MembershipService) checkOwnerChanges(ctx context.Context, tx *gorm.DB, projectID, requesterID uint, changes []RoleChange, roles map[uint]*models.ProjectRole) error {
	for _, c := range changes {
		touchesOwner := roles[c.ProjectRoleID].Name == models.RoleOwner
		if !touchesOwner {
			held, err := s.store.RolesOf(tx, projectID, c.UserID)
			if err != nil {
				return err
			}
			if touchesOwner, err = holdsRoleNamed(tx, held, models.RoleOwner); err != nil {
				return err
			}
		}
		if touchesOwner {
			return s.requireOwner(ctx, tx, projectID, requesterID)
		}
	}
	return nil
}

func (s *MembershipService) requireOwner(ctx context.Context, tx *gorm.DB, projectID, requesterID uint) error {
	owner, err := s.perms.IsOwner(ctx, tx, projectID, requesterID)
	if err != nil {
		return err
	}
	if !owner {
		return response.NewForbidden("only the project owner can grant or revoke ownership")
	}
	return nil
}

// ListMembers returns the project's members in join order.
func (s *MembershipService) ListMembers(ctx context.Context, projectID, userID uint) ([]MemberView, error) {
	db := s.db.WithContext(ctx)
	project, err := findProject(db, projectID)
	if err != nil {
		return nil, err
	}
	ok, err := s.perms.CanView(ctx, db, project, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, response.NewForbidden("project is private")
	}

	members, err := s.store.Members(db, projectID)
	if err != nil {
		return nil, err
	}

	var roles []models.ProjectRole
	if err := db.Where("project_id = ?", projectID).Find(&roles).Error; err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}

	views := make([]MemberView, 0, len(members))
	for _, m := range members {
		v := MemberView{
			UserID:        m.UserID,
			ProjectRoleID: m.ProjectRoleID,
			RoleName:      names[m.ProjectRoleID],
			JoinedAt:      m.JoinedAt,
		}
		if m.User != nil {
			v.Username = m.User.Username
			v.Nickname = m.User.Nickname
			v.Email = m.User.Email
			v.Avatar = m.User.Avatar
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *MembershipService) syncTasks(ctx context.Context, docs []*TaskDocument) {
	for _, doc := range docs {
		doc := doc
		syncBestEffort("upsert_task", doc.ID, func() error {
			return s.search.UpsertTask(ctx, doc)
		})
	}
}

func roleChangedNotice(project *models.Project, userID uint, roleName string) NotificationInput {
	return NotificationInput{
		UserID:    userID,
		ProjectID: uintPtr(project.ID),
		Type:      models.NotifyRoleChanged,
		Title:     "Role changed",
		Content:   fmt.Sprintf("Your role in %s is now %s", project.Name, roleName),
		Link:      projectLink(project.ID),
	}
}

func projectLink(projectID uint) string {
	return fmt.Sprintf("/projects/%d", projectID)
}
