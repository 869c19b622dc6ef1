package services

import (
	"context"
	"fmt"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/logger"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

// ProjectService owns the project lifecycle: creation with its role set, owner
// membership and permanent invite, updates, free mode and cascading deletion.
type ProjectService struct {
	db       *gorm.DB
	perms    *PermissionService
	store    MembershipStore
	search   SearchSync
	notifier Notifier
	activity ActivityLogger
}

// NewProjectService creates a project service.
func NewProjectService(db *gorm.DB, perms *PermissionService, search SearchSync, notifier Notifier, activity ActivityLogger) *ProjectService {
	return &ProjectService{
		db:       db,
		perms:    perms,
		search:   search,
		notifier: notifier,
		activity: activity,
	}
}

var defaultColumns = []string{"To Do", "In Progress", "Done"}

type ProjectListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Name     string `form:"name"`
	Status   string `form:"status"`
	Scope    string `form:"scope" binding:"omitempty,oneof=mine public all"`
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.Project `json:"items"`
}

type CreateProjectRequest struct {
	Name        string     `json:"name" binding:"required,max=200"`
	Description string     `json:"description"`
	Status      string     `json:"status" binding:"omitempty,oneof=active on_hold completed archived"`
	Priority    string     `json:"priority" binding:"omitempty,oneof=low medium high"`
	StartDate   *time.Time `json:"start_date"`
	DueDate     *time.Time `json:"due_date"`
	Visibility  string     `json:"visibility" binding:"omitempty,oneof=public private"`
}

type UpdateProjectRequest struct {
	Name        *string    `json:"name" binding:"omitempty,max=200"`
	Description *string    `json:"description"`
	Status      *string    `json:"status" binding:"omitempty,oneof=active on_hold completed archived"`
	Priority    *string    `json:"priority" binding:"omitempty,oneof=low medium high"`
	StartDate   *time.Time `json:"start_date"`
	DueDate     *time.Time `json:"due_date"`
	Visibility  *string    `json:"visibility" binding:"omitempty,oneof=public private"`
}

type FreeModeRequest struct {
	FreeMode *bool `json:"free_mode"`
}

type ProjectDetail struct {
	models.Project
	MyRoles []string `json:"my_roles"`
}

// Create provisions a project in one transaction: the row, a clone of every role
// template, the creator as owner, the permanent invite and the default board
// columns. The search index is updated after commit.
func (s *ProjectService) Create(ctx context.Context, creatorID uint, req *CreateProjectRequest) (*models.Project, error) {
	if req.StartDate != nil && req.DueDate != nil && req.DueDate.Before(*req.StartDate) {
		return nil, response.NewBadRequest("due date is before start date")
	}

	var project models.Project
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := findUser(tx, creatorID); err != nil {
			return err
		}

		now := time.Now()
		project = models.Project{
			Name:         req.Name,
			Description:  req.Description,
			Status:       orDefault(req.Status, models.ProjectStatusActive),
			Priority:     orDefault(req.Priority, "medium"),
			StartDate:    req.StartDate,
			DueDate:      req.DueDate,
			CreatedBy:    creatorID,
			Visibility:   orDefault(req.Visibility, models.ProjectVisibilityPrivate),
			LastActivity: now,
		}
		if err := tx.Create(&project).Error; err != nil {
			return fmt.Errorf("insert project: %w", err)
		}

		roles, err := cloneDefaultRoles(tx, project.ID)
		if err != nil {
			return err
		}
		if _, err := s.store.Add(tx, project.ID, creatorID, roles[models.RoleOwner].ID, now); err != nil {
			return err
		}
		if err := touchProject(tx, project.ID, now); err != nil {
			return err
		}

		member, err := memberRole(tx, project.ID)
		if err != nil {
			return err
		}
		if _, err := createPermanentInvite(tx, project.ID, creatorID, member.ID); err != nil {
			return err
		}
		if err := createColumns(tx, project.ID, defaultColumns); err != nil {
			return err
		}

		return tx.First(&project, project.ID).Error
	})
	if err != nil {
		return nil, err
	}

	syncBestEffort("upsert_project", project.ID, func() error {
		return s.search.UpsertProject(ctx, projectDocument(&project))
	})
	appendActivity(ctx, s.activity, creatorID, project.ID, fmt.Sprintf("created project %s", project.Name),
		map[string]interface{}{"action": "project.create"})
	logger.ForProject(ctx, project.ID, creatorID).Info().Msg("[Project] created")
	return &project, nil
}

// Get returns a project with its members. Private projects are visible to members only.
func (s *ProjectService) Get(ctx context.Context, projectID, userID uint) (*ProjectDetail, error) {
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
	project.Members = members

	detail := &ProjectDetail{Project: *project, MyRoles: []string{}}
	roleIDs, err := s.store.RolesOf(db, projectID, userID)
	if err != nil {
		return nil, err
	}
	if len(roleIDs) > 0 {
		if err := db.Model(&models.ProjectRole{}).Where("id IN ?", roleIDs).Pluck("name", &detail.MyRoles).Error; err != nil {
			return nil, err
		}
	}
	return detail, nil
}

// List returns projects for userID. Scope "mine" (default) lists memberships,
// "public" lists public projects and "all" lists both.
func (s *ProjectService) List(ctx context.Context, userID uint, req *ProjectListRequest) (*ProjectListResponse, error) {
	req.Page, req.PageSize = pageBounds(req.Page, req.PageSize, 10)

	db := s.db.WithContext(ctx)
	memberOf := db.Model(&models.ProjectMember{}).Select("project_id").Where("user_id = ?", userID)

	query := db.Model(&models.Project{}).Where("destroyed = ?", false)
	switch req.Scope {
	case "public":
		query = query.Where("visibility = ?", models.ProjectVisibilityPublic)
	case "all":
		query = query.Where("visibility = ? OR id IN (?)", models.ProjectVisibilityPublic, memberOf)
	default:
		query = query.Where("id IN (?)", memberOf)
	}
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var projects []models.Project
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("last_activity DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&projects).Error; err != nil {
		return nil, err
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    projects,
	}, nil
}

func (s *ProjectService) Update(ctx context.Context, projectID, requesterID uint, req *UpdateProjectRequest) (*models.Project, error) {
	var project *models.Project
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		current, err := lockProject(tx, projectID)
		if err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, requesterID, models.PermEditProject); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if req.Name != nil {
			if *req.Name == "" {
				return response.NewBadRequest("project name cannot be empty")
			}
			updates["name"] = *req.Name
		}
		if req.Description != nil {
			updates["description"] = *req.Description
		}
		if req.Status != nil {
			updates["status"] = *req.Status
		}
		if req.Priority != nil {
			updates["priority"] = *req.Priority
		}
		if req.Visibility != nil {
			updates["visibility"] = *req.Visibility
		}
		start, due := current.StartDate, current.DueDate
		if req.StartDate != nil {
			updates["start_date"] = *req.StartDate
			start = req.StartDate
		}
		if req.DueDate != nil {
			updates["due_date"] = *req.DueDate
			due = req.DueDate
		}
		if start != nil && due != nil && due.Before(*start) {
			return response.NewBadRequest("due date is before start date")
		}

		if len(updates) > 0 {
			if err := tx.Model(current).Updates(updates).Error; err != nil {
				return err
			}
		}
		if err := touchProject(tx, projectID, time.Now()); err != nil {
			return err
		}

		project, err = findProject(tx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	syncBestEffort("upsert_project", project.ID, func() error {
		return s.search.UpsertProject(ctx, projectDocument(project))
	})
	appendActivity(ctx, s.activity, requesterID, projectID, "updated project settings",
		map[string]interface{}{"action": "project.update"})
	return project, nil
}

// ToggleFreeMode sets the project's free mode flag. Only owners may change it.
func (s *ProjectService) ToggleFreeMode(ctx context.Context, projectID, requesterID uint, req *FreeModeRequest) (*models.Project, error) {
	if req == nil || req.FreeMode == nil {
		return nil, response.NewBadRequest("free_mode must be true or false")
	}

	var project *models.Project
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		owner, err := s.perms.IsOwner(ctx, tx, projectID, requesterID)
		if err != nil {
			return err
		}
		if !owner {
			return response.NewForbidden("only the project owner can change free mode")
		}
		if err := tx.Model(&models.Project{}).Where("id = ?", projectID).Update("free_mode", *req.FreeMode).Error; err != nil {
			return err
		}
		project, err = findProject(tx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	appendActivity(ctx, s.activity, requesterID, projectID, fmt.Sprintf("set free mode to %t", *req.FreeMode),
		map[string]interface{}{"action": "project.free_mode", "free_mode": *req.FreeMode})
	return project, nil
}

// Delete removes everything that belongs to the project and marks it destroyed,
// then drops it and its tasks from the search index.
func (s *ProjectService) Delete(ctx context.Context, projectID, requesterID uint) error {
	var (
		project   *models.Project
		taskIDs   []uint
		memberIDs []uint
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		project, err = lockProject(tx, projectID)
		if err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, requesterID, models.PermDeleteProject); err != nil {
			return err
		}

		if err := tx.Model(&models.Task{}).Where("project_id = ?", projectID).Pluck("id", &taskIDs).Error; err != nil {
			return err
		}
		if memberIDs, err = s.store.UserIDs(tx, projectID); err != nil {
			return err
		}

		cascade := []interface{}{
			&models.TaskAssignee{},
			&models.Task{},
			&models.Column{},
			&models.Invite{},
			&models.AccessRequest{},
			&models.Notification{},
		}
		for _, m := range cascade {
			if err := tx.Where("project_id = ?", projectID).Delete(m).Error; err != nil {
				return fmt.Errorf("cascade %T: %w", m, err)
			}
		}
		if err := s.store.RemoveAll(tx, projectID); err != nil {
			return err
		}
		if err := deleteProjectRoles(tx, projectID); err != nil {
			return err
		}
		return tx.Model(&models.Project{}).Where("id = ?", projectID).Update("destroyed", true).Error
	})
	if err != nil {
		return err
	}

	syncBestEffort("delete_project", projectID, func() error {
		return s.search.DeleteProject(ctx, projectID)
	})
	for _, id := range taskIDs {
		id := id
		syncBestEffort("delete_task", id, func() error {
			return s.search.DeleteTask(ctx, id)
		})
	}

	var inputs []NotificationInput
	for _, uid := range memberIDs {
		if uid == requesterID {
			continue
		}
		inputs = append(inputs, NotificationInput{
			UserID:  uid,
			Type:    models.NotifyProjectDeleted,
			Title:   "Project deleted",
			Content: fmt.Sprintf("Project %s was deleted", project.Name),
		})
	}
	notifyAll(ctx, s.notifier, inputs...)
	appendActivity(ctx, s.activity, requesterID, projectID, fmt.Sprintf("deleted project %s", project.Name),
		map[string]interface{}{"action": "project.delete", "tasks": len(taskIDs)})
	logger.ForProject(ctx, projectID, requesterID).Info().Int("tasks", len(taskIDs)).Msg("[Project] deleted")
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
