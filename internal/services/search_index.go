package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/huangang/taskhub/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SearchIndex is the database-backed search index. It implements SearchSync
// directly and is also the processor behind QueuedSearchSync.
type SearchIndex struct {
	db *gorm.DB
}

// NewSearchIndex creates a search index stored in search_documents.
func NewSearchIndex(db *gorm.DB) *SearchIndex {
	return &SearchIndex{db: db}
}

func (s *SearchIndex) upsert(ctx context.Context, doc *models.SearchDocument) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_type"}, {Name: "doc_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"project_id", "title", "body", "visibility", "updated_at"}),
	}).Create(doc).Error
}

func (s *SearchIndex) remove(ctx context.Context, docType string, id uint) error {
	return s.db.WithContext(ctx).
		Where("doc_type = ? AND doc_id = ?", docType, id).
		Delete(&models.SearchDocument{}).Error
}

func (s *SearchIndex) UpsertProject(ctx context.Context, doc *ProjectDocument) error {
	return s.upsert(ctx, &models.SearchDocument{
		DocType:    models.SearchDocProject,
		DocID:      doc.ID,
		ProjectID:  doc.ID,
		Title:      doc.Name,
		Body:       doc.Description,
		Visibility: doc.Visibility,
	})
}

func (s *SearchIndex) DeleteProject(ctx context.Context, id uint) error {
	return s.remove(ctx, models.SearchDocProject, id)
}

func (s *SearchIndex) UpsertTask(ctx context.Context, doc *TaskDocument) error {
	return s.upsert(ctx, &models.SearchDocument{
		DocType:   models.SearchDocTask,
		DocID:     doc.ID,
		ProjectID: doc.ProjectID,
		Title:     doc.Title,
		Body:      doc.Description,
	})
}

func (s *SearchIndex) DeleteTask(ctx context.Context, id uint) error {
	return s.remove(ctx, models.SearchDocTask, id)
}

func (s *SearchIndex) UpsertUser(ctx context.Context, u *models.User) error {
	return s.upsert(ctx, &models.SearchDocument{
		DocType: models.SearchDocUser,
		DocID:   u.ID,
		Title:   u.DisplayName(),
		Body:    strings.TrimSpace(u.Username + " " + u.Email),
	})
}

func (s *SearchIndex) DeleteUser(ctx context.Context, id uint) error {
	return s.remove(ctx, models.SearchDocUser, id)
}

// Reset removes every document.
func (s *SearchIndex) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.SearchDocument{}).Error
}

// Apply executes a queued search task.
func (s *SearchIndex) Apply(ctx context.Context, task *SearchTask) error {
	switch {
	case task.Op == SearchOpUpsert && task.DocType == models.SearchDocProject && task.Project != nil:
		return s.UpsertProject(ctx, task.Project)
	case task.Op == SearchOpUpsert && task.DocType == models.SearchDocTask && task.Task != nil:
		return s.UpsertTask(ctx, task.Task)
	case task.Op == SearchOpDelete && task.DocType == models.SearchDocProject:
		return s.DeleteProject(ctx, task.ID)
	case task.Op == SearchOpDelete && task.DocType == models.SearchDocTask:
		return s.DeleteTask(ctx, task.ID)
	}
	return fmt.Errorf("unsupported search task %s/%s", task.Op, task.DocType)
}

type SearchRequest struct {
	Query string `form:"q" binding:"required"`
	Type  string `form:"type" binding:"omitempty,oneof=project task user"`
	Limit int    `form:"limit"`
}

// Search matches title and body, returning only documents the user may see:
// users, public projects and their tasks, and anything in projects the user belongs to.
func (s *SearchIndex) Search(ctx context.Context, userID uint, req *SearchRequest) ([]models.SearchDocument, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	term := "%" + strings.ToLower(strings.TrimSpace(req.Query)) + "%"

	db := s.db.WithContext(ctx)
	memberOf := db.Model(&models.ProjectMember{}).Select("project_id").Where("user_id = ?", userID)

	query := db.Model(&models.SearchDocument{}).
		Select("search_documents.*").
		Joins("LEFT JOIN projects ON projects.id = search_documents.project_id").
		Where("LOWER(search_documents.title) LIKE ? OR LOWER(search_documents.body) LIKE ?", term, term).
		Where("search_documents.doc_type = ? OR (projects.destroyed = ? AND (projects.visibility = ? OR search_documents.project_id IN (?)))",
			models.SearchDocUser, false, models.ProjectVisibilityPublic, memberOf)
	if req.Type != "" {
		query = query.Where("search_documents.doc_type = ?", req.Type)
	}

	var docs []models.SearchDocument
	if err := query.Order("search_documents.updated_at DESC").Limit(limit).Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}
