package services

import (
	"context"
	"fmt"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/logger"
	"gorm.io/gorm"
)

type ProjectDocument struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Visibility  string    `json:"visibility"`
	CreatedBy   uint      `json:"created_by"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TaskDocument struct {
	ID          uint      `json:"id"`
	ProjectID   uint      `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	AssigneeIDs []uint    `json:"assignee_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SearchSync keeps the search index in step with committed data. Documents are
// built by the caller from reads inside its own transaction.
type SearchSync interface {
	UpsertProject(ctx context.Context, doc *ProjectDocument) error
	DeleteProject(ctx context.Context, id uint) error
	UpsertTask(ctx context.Context, doc *TaskDocument) error
	DeleteTask(ctx context.Context, id uint) error
}

func projectDocument(p *models.Project) *ProjectDocument {
	return &ProjectDocument{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		Visibility:  p.Visibility,
		CreatedBy:   p.CreatedBy,
		UpdatedAt:   p.UpdatedAt,
	}
}

func taskDocument(t *models.Task) *TaskDocument {
	return &TaskDocument{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		AssigneeIDs: t.AssigneeIDs(),
		UpdatedAt:   t.UpdatedAt,
	}
}

// syncBestEffort runs a post-commit index update and logs failure. A stale index
// is repaired by FullResync.
func syncBestEffort(what string, id uint, fn func() error) {
	if err := fn(); err != nil {
		logger.Warn().Err(err).Str("op", what).Uint("id", id).Msg("[SearchSync] sync failed, index may be stale")
	}
}

// QueuedSearchSync hands every index operation to the task queue so it is retried
// independently of the request.
type QueuedSearchSync struct {
	queue TaskQueue
}

// NewQueuedSearchSync creates a SearchSync that hands every change to queue.
func NewQueuedSearchSync(queue TaskQueue) *QueuedSearchSync {
	return &QueuedSearchSync{queue: queue}
}

func (q *QueuedSearchSync) UpsertProject(_ context.Context, doc *ProjectDocument) error {
	return q.queue.Enqueue(&SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocProject, ID: doc.ID, Project: doc})
}

func (q *QueuedSearchSync) DeleteProject(_ context.Context, id uint) error {
	return q.queue.Enqueue(&SearchTask{Op: SearchOpDelete, DocType: models.SearchDocProject, ID: id})
}

func (q *QueuedSearchSync) UpsertTask(_ context.Context, doc *TaskDocument) error {
	return q.queue.Enqueue(&SearchTask{Op: SearchOpUpsert, DocType: models.SearchDocTask, ID: doc.ID, Task: doc})
}

func (q *QueuedSearchSync) DeleteTask(_ context.Context, id uint) error {
	return q.queue.Enqueue(&SearchTask{Op: SearchOpDelete, DocType: models.SearchDocTask, ID: id})
}

type ResyncResult struct {
	Projects int `json:"projects"`
	Tasks    int `json:"tasks"`
	Users    int `json:"users"`
}

// SearchSyncService rebuilds the index from the database.
type SearchSyncService struct {
	db    *gorm.DB
	index *SearchIndex
}

// NewSearchSyncService creates the full resync service.
func NewSearchSyncService(db *gorm.DB, index *SearchIndex) *SearchSyncService {
	return &SearchSyncService{db: db, index: index}
}

// FullResync drops the index and re-adds every live project, its tasks and every active user.
func (s *SearchSyncService) FullResync(ctx context.Context) (*ResyncResult, error) {
	db := s.db.WithContext(ctx)
	result := &ResyncResult{}

	if err := s.index.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}

	var projects []models.Project
	err := db.Where("destroyed = ?", false).FindInBatches(&projects, 200, func(_ *gorm.DB, _ int) error {
		for i := range projects {
			if err := s.index.UpsertProject(ctx, projectDocument(&projects[i])); err != nil {
				return err
			}
			result.Projects++
		}
		return nil
	}).Error
	if err != nil {
		return nil, fmt.Errorf("resync projects: %w", err)
	}

	var tasks []models.Task
	err = db.Preload("Assignees").
		Where("project_id IN (?)", db.Model(&models.Project{}).Select("id").Where("destroyed = ?", false)).
		FindInBatches(&tasks, 200, func(_ *gorm.DB, _ int) error {
			for i := range tasks {
				if err := s.index.UpsertTask(ctx, taskDocument(&tasks[i])); err != nil {
					return err
				}
				result.Tasks++
			}
			return nil
		}).Error
	if err != nil {
		return nil, fmt.Errorf("resync tasks: %w", err)
	}

	var users []models.User
	err = db.Where("is_active = ?", true).FindInBatches(&users, 200, func(_ *gorm.DB, _ int) error {
		for i := range users {
			if err := s.index.UpsertUser(ctx, &users[i]); err != nil {
				return err
			}
			result.Users++
		}
		return nil
	}).Error
	if err != nil {
		return nil, fmt.Errorf("resync users: %w", err)
	}

	logger.Info().Int("projects", result.Projects).Int("tasks", result.Tasks).Int("users", result.Users).
		Msg("[SearchSync] full resync complete")
	return result, nil
}
