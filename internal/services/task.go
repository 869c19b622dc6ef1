package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskService manages tasks. Every mutation touches the project, records activity
// and updates the search index after commit.
type TaskService struct {
	db       *gorm.DB
	perms    *PermissionService
	store    MembershipStore
	search   SearchSync
	notifier Notifier
	activity ActivityLogger
}

// NewTaskService creates a task service.
func NewTaskService(db *gorm.DB, perms *PermissionService, search SearchSync, notifier Notifier, activity ActivityLogger) *TaskService {
	return &TaskService{
		db:       db,
		perms:    perms,
		search:   search,
		notifier: notifier,
		activity: activity,
	}
}

type CreateTaskRequest struct {
	Title       string     `json:"title" binding:"required,max=200"`
	Description string     `json:"description"`
	Status      string     `json:"status" binding:"omitempty,oneof=todo in_progress done"`
	Priority    string     `json:"priority" binding:"omitempty,oneof=low medium high"`
	ColumnID    *uint      `json:"column_id"`
	DueDate     *time.Time `json:"due_date"`
	AssigneeIDs []uint     `json:"assignee_ids"`
}

type UpdateTaskRequest struct {
	Title        *string    `json:"title" binding:"omitempty,max=200"`
	Description  *string    `json:"description"`
	Status       *string    `json:"status" binding:"omitempty,oneof=todo in_progress done"`
	Priority     *string    `json:"priority" binding:"omitempty,oneof=low medium high"`
	DueDate      *time.Time `json:"due_date"`
	ClearDueDate bool       `json:"clear_due_date"`
}

type MoveTaskRequest struct {
	ColumnID *uint `json:"column_id"`
	Position *int  `json:"position" binding:"omitempty,min=0"`
}

type AssignTaskRequest struct {
	UserIDs []uint `json:"user_ids" binding:"required,min=1"`
}

type TaskListRequest struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
	ColumnID   *uint  `form:"column_id"`
	Status     string `form:"status"`
	AssigneeID uint   `form:"assignee_id"`
	Keyword    string `form:"keyword"`
}

type TaskListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []models.Task `json:"items"`
}

func loadTask(tx *gorm.DB, projectID, taskID uint) (*models.Task, error) {
	var task models.Task
	err := tx.Preload("Assignees", func(db *gorm.DB) *gorm.DB {
		return db.Order("assigned_at ASC, user_id ASC")
	}).Where("id = ? AND project_id = ?", taskID, projectID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NotFoundf("task %d not found", taskID)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func nextTaskPosition(tx *gorm.DB, projectID uint, columnID *uint) (int, error) {
	query := tx.Model(&models.Task{}).Where("project_id = ?", projectID)
	if columnID != nil {
		query = query.Where("column_id = ?", *columnID)
	} else {
		query = query.Where("column_id IS NULL")
	}
	var position sql.NullInt64
	if err := query.Select("MAX(position)").Row().Scan(&position); err != nil {
		return 0, fmt.Errorf("select position: %w", err)
	}
	if position.Valid {
		return int(position.Int64) + 1, nil
	}
	return 0, nil
}

// requireMembers rejects user ids that are not members of the project.
func (s *TaskService) requireMembers(tx *gorm.DB, projectID uint, userIDs []uint) error {
	var outsiders []string
	for _, uid := range userIDs {
		ok, err := s.store.IsMember(tx, projectID, uid)
		if err != nil {
			return err
		}
		if !ok {
			outsiders = append(outsiders, fmt.Sprint(uid))
		}
	}
	if len(outsiders) > 0 {
		return response.BadRequestf("assignees must be project members: %s", strings.Join(outsiders, ", "))
	}
	return nil
}

// assign links userIDs to the task and returns the ones that were not linked before.
func assign(tx *gorm.DB, task *models.Task, userIDs []uint, at time.Time) ([]uint, error) {
	already := make(map[uint]bool, len(task.Assignees))
	for _, a := range task.Assignees {
		already[a.UserID] = true
	}
	var added []uint
	rows := make([]models.TaskAssignee, 0, len(userIDs))
	for _, uid := range uniqueIDs(userIDs) {
		if already[uid] {
			continue
		}
		added = append(added, uid)
		rows = append(rows, models.TaskAssignee{TaskID: task.ID, UserID: uid, ProjectID: task.ProjectID, AssignedAt: at})
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("assign task: %w", err)
	}
	return added, nil
}

func (s *TaskService) Create(ctx context.Context, projectID, userID uint, req *CreateTaskRequest) (*models.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, response.NewBadRequest("task title is required")
	}

	var (
		task  *models.Task
		added []uint
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermCreateTask); err != nil {
			return err
		}
		if req.ColumnID != nil {
			if _, err := findColumn(tx, projectID, *req.ColumnID); err != nil {
				return err
			}
		}
		if len(req.AssigneeIDs) > 0 {
			if err := s.perms.Require(ctx, tx, projectID, userID, models.PermAssignTask); err != nil {
				return err
			}
			if err := s.requireMembers(tx, projectID, req.AssigneeIDs); err != nil {
				return err
			}
		}

		pos, err := nextTaskPosition(tx, projectID, req.ColumnID)
		if err != nil {
			return err
		}
		now := time.Now()
		row := models.Task{
			ProjectID:   projectID,
			ColumnID:    req.ColumnID,
			Title:       title,
			Description: req.Description,
			Status:      orDefault(req.Status, models.TaskStatusTodo),
			Priority:    orDefault(req.Priority, "medium"),
			Position:    pos,
			DueDate:     req.DueDate,
			CreatedBy:   userID,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if added, err = assign(tx, &row, req.AssigneeIDs, now); err != nil {
			return err
		}
		if err := touchProject(tx, projectID, now); err != nil {
			return err
		}
		task, err = loadTask(tx, projectID, row.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, task)
	s.notifyAssigned(ctx, task, userID, added)
	appendActivity(ctx, s.activity, userID, projectID, fmt.Sprintf("created task %s", task.Title),
		map[string]interface{}{"action": "task.create", "task_id": task.ID})
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, projectID, taskID, userID uint) (*models.Task, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireView(ctx, db, projectID, userID); err != nil {
		return nil, err
	}
	return loadTask(db, projectID, taskID)
}

func (s *TaskService) requireView(ctx context.Context, db *gorm.DB, projectID, userID uint) error {
	project, err := findProject(db, projectID)
	if err != nil {
		return err
	}
	ok, err := s.perms.CanView(ctx, db, project, userID)
	if err != nil {
		return err
	}
	if !ok {
		return response.NewForbidden("project is private")
	}
	return nil
}

func (s *TaskService) List(ctx context.Context, projectID, userID uint, req *TaskListRequest) (*TaskListResponse, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireView(ctx, db, projectID, userID); err != nil {
		return nil, err
	}
	req.Page, req.PageSize = pageBounds(req.Page, req.PageSize, 50)

	query := db.Model(&models.Task{}).Where("project_id = ?", projectID)
	if req.ColumnID != nil {
		query = query.Where("column_id = ?", *req.ColumnID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.AssigneeID != 0 {
		query = query.Where("id IN (?)", db.Model(&models.TaskAssignee{}).Select("task_id").Where("user_id = ?", req.AssigneeID))
	}
	if req.Keyword != "" {
		like := "%" + req.Keyword + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var tasks []models.Task
	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Assignees").
		Order("column_id ASC, position ASC, id ASC").
		Offset(offset).Limit(req.PageSize).
		Find(&tasks).Error; err != nil {
		return nil, err
	}

	return &TaskListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: tasks}, nil
}

func (s *TaskService) Update(ctx context.Context, projectID, taskID, userID uint, req *UpdateTaskRequest) (*models.Task, error) {
	var task *models.Task
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermEditTask); err != nil {
			return err
		}
		current, err := loadTask(tx, projectID, taskID)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return response.NewBadRequest("task title cannot be empty")
			}
			updates["title"] = title
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
		if req.ClearDueDate {
			updates["due_date"] = nil
		} else if req.DueDate != nil {
			updates["due_date"] = *req.DueDate
		}
		if len(updates) > 0 {
			if err := tx.Model(current).Updates(updates).Error; err != nil {
				return err
			}
		}
		if err := touchProject(tx, projectID, time.Now()); err != nil {
			return err
		}
		task, err = loadTask(tx, projectID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, task)
	appendActivity(ctx, s.activity, userID, projectID, fmt.Sprintf("updated task %s", task.Title),
		map[string]interface{}{"action": "task.update", "task_id": task.ID})
	return task, nil
}

// Move places a task in a column at a position, shifting later tasks down.
// Without a position the task goes to the end of the column.
func (s *TaskService) Move(ctx context.Context, projectID, taskID, userID uint, req *MoveTaskRequest) (*models.Task, error) {
	var task *models.Task
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermEditTask); err != nil {
			return err
		}
		current, err := loadTask(tx, projectID, taskID)
		if err != nil {
			return err
		}
		if req.ColumnID != nil {
			if _, err := findColumn(tx, projectID, *req.ColumnID); err != nil {
				return err
			}
		}

		var pos int
		if req.Position != nil {
			pos = *req.Position
			shift := tx.Model(&models.Task{}).
				Where("project_id = ? AND id <> ? AND position >= ?", projectID, current.ID, pos)
			if req.ColumnID != nil {
				shift = shift.Where("column_id = ?", *req.ColumnID)
			} else {
				shift = shift.Where("column_id IS NULL")
			}
			if err := shift.UpdateColumn("position", gorm.Expr("position + 1")).Error; err != nil {
				return err
			}
		} else if pos, err = nextTaskPosition(tx, projectID, req.ColumnID); err != nil {
			return err
		}

		if err := tx.Model(&models.Task{}).Where("id = ?", current.ID).Updates(map[string]interface{}{
			"column_id": req.ColumnID,
			"position":  pos,
		}).Error; err != nil {
			return err
		}
		if err := touchProject(tx, projectID, time.Now()); err != nil {
			return err
		}
		task, err = loadTask(tx, projectID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, task)
	appendActivity(ctx, s.activity, userID, projectID, fmt.Sprintf("moved task %s", task.Title),
		map[string]interface{}{"action": "task.move", "task_id": task.ID})
	return task, nil
}

// Assign adds assignees. Every assignee must be a project member.
func (s *TaskService) Assign(ctx context.Context, projectID, taskID, userID uint, req *AssignTaskRequest) (*models.Task, error) {
	var (
		task  *models.Task
		added []uint
	)
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermAssignTask); err != nil {
			return err
		}
		current, err := loadTask(tx, projectID, taskID)
		if err != nil {
			return err
		}
		if err := s.requireMembers(tx, projectID, req.UserIDs); err != nil {
			return err
		}
		now := time.Now()
		if added, err = assign(tx, current, req.UserIDs, now); err != nil {
			return err
		}
		if err := touchProject(tx, projectID, now); err != nil {
			return err
		}
		task, err = loadTask(tx, projectID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, task)
	s.notifyAssigned(ctx, task, userID, added)
	if len(added) > 0 {
		appendActivity(ctx, s.activity, userID, projectID, fmt.Sprintf("assigned task %s", task.Title),
			map[string]interface{}{"action": "task.assign", "task_id": task.ID, "user_ids": added})
	}
	return task, nil
}

func (s *TaskService) Unassign(ctx context.Context, projectID, taskID, assigneeID, userID uint) (*models.Task, error) {
	var task *models.Task
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermAssignTask); err != nil {
			return err
		}
		if _, err := loadTask(tx, projectID, taskID); err != nil {
			return err
		}
		result := tx.Where("task_id = ? AND user_id = ?", taskID, assigneeID).Delete(&models.TaskAssignee{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return response.NotFoundf("user %d is not assigned to task %d", assigneeID, taskID)
		}
		if err := touchProject(tx, projectID, time.Now()); err != nil {
			return err
		}
		var err error
		task, err = loadTask(tx, projectID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, task)
	appendActivity(ctx, s.activity, userID, projectID, fmt.Sprintf("unassigned user %d from task %s", assigneeID, task.Title),
		map[string]interface{}{"action": "task.unassign", "task_id": task.ID, "user_id": assigneeID})
	return task, nil
}

func (s *TaskService) Delete(ctx context.Context, projectID, taskID, userID uint) error {
	var task *models.Task
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermDeleteTask); err != nil {
			return err
		}
		var err error
		if task, err = loadTask(tx, projectID, taskID); err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&models.TaskAssignee{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Task{}, taskID).Error; err != nil {
			return err
		}
		return touchProject(tx, projectID, time.Now())
	})
	if err != nil {
		return err
	}

	syncBestEffort("delete_task", taskID, func() error {
		return s.search.DeleteTask(ctx, taskID)
	})
	appendActivity(ctx, s.activity, userID, projectID, fmt.Sprintf("deleted task %s", task.Title),
		map[string]interface{}{"action": "task.delete", "task_id": taskID})
	return nil
}

func (s *TaskService) afterWrite(ctx context.Context, task *models.Task) {
	doc := taskDocument(task)
	syncBestEffort("upsert_task", task.ID, func() error {
		return s.search.UpsertTask(ctx, doc)
	})
}

func (s *TaskService) notifyAssigned(ctx context.Context, task *models.Task, actorID uint, userIDs []uint) {
	var inputs []NotificationInput
	for _, uid := range userIDs {
		if uid == actorID {
			continue
		}
		inputs = append(inputs, NotificationInput{
			UserID:    uid,
			ProjectID: uintPtr(task.ProjectID),
			Type:      models.NotifyTaskAssigned,
			Title:     "Task assigned",
			Content:   fmt.Sprintf("You were assigned to %s", task.Title),
			Link:      fmt.Sprintf("/projects/%d/tasks/%d", task.ProjectID, task.ID),
			RelatedID: uintPtr(task.ID),
		})
	}
	notifyAll(ctx, s.notifier, inputs...)
}
