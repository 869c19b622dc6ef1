package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/logger"
	"gorm.io/gorm"
)

// ActivityLogger records project activity. Failures never fail the mutation being logged.
type ActivityLogger interface {
	Append(ctx context.Context, actorID, projectID uint, message string, metadata map[string]interface{}) error
}

func appendActivity(ctx context.Context, l ActivityLogger, actorID, projectID uint, message string, metadata map[string]interface{}) {
	if l == nil {
		return
	}
	if err := l.Append(ctx, actorID, projectID, message, metadata); err != nil {
		logger.ForProject(ctx, projectID, actorID).Warn().Err(err).Msg("[ActivityLog] append failed")
	}
}

type ActivityLogService struct {
	db    *gorm.DB
	perms *PermissionService
}

// NewActivityLogService creates an activity log service.
func NewActivityLogService(db *gorm.DB, perms *PermissionService) *ActivityLogService {
	return &ActivityLogService{db: db, perms: perms}
}

// Append writes one entry. metadata["action"] and metadata["ip"] are lifted into columns.
func (s *ActivityLogService) Append(ctx context.Context, actorID, projectID uint, message string, metadata map[string]interface{}) error {
	entry := models.ActivityLog{
		ProjectID: projectID,
		ActorID:   actorID,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if action, ok := metadata["action"].(string); ok {
		entry.Action = action
	}
	if ip, ok := metadata["ip"].(string); ok {
		entry.IP = ip
	}
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			entry.Metadata = string(b)
		}
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

type ActivityListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Action   string `form:"action"`
	ActorID  uint   `form:"actor_id"`
}

type ActivityListResponse struct {
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Items    []models.ActivityLog `json:"items"`
}

// List returns a project's activity, newest first. Only members may read it.
func (s *ActivityLogService) List(ctx context.Context, projectID, userID uint, req *ActivityListRequest) (*ActivityListResponse, error) {
	if err := s.perms.RequireMember(ctx, nil, projectID, userID); err != nil {
		return nil, err
	}
	req.Page, req.PageSize = pageBounds(req.Page, req.PageSize, 20)

	query := s.db.WithContext(ctx).Model(&models.ActivityLog{}).Where("project_id = ?", projectID)
	if req.Action != "" {
		query = query.Where("action LIKE ?", req.Action+"%")
	}
	if req.ActorID != 0 {
		query = query.Where("actor_id = ?", req.ActorID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.ActivityLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Actor").Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &ActivityListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

// CleanupOldLogs deletes entries older than retentionDays and returns how many went.
func (s *ActivityLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ActivityLog{})
	return result.RowsAffected, result.Error
}
