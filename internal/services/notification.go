package services

import (
	"context"
	"errors"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/logger"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

type NotificationInput struct {
	UserID    uint
	ProjectID *uint
	Type      string
	Title     string
	Content   string
	Link      string
	RelatedID *uint
}

// Notifier receives in-app notifications. Callers treat delivery as best effort.
type Notifier interface {
	Notify(ctx context.Context, in NotificationInput) error
}

// notifyAll delivers every input and logs failures without returning them.
func notifyAll(ctx context.Context, n Notifier, inputs ...NotificationInput) {
	if n == nil {
		return
	}
	for _, in := range inputs {
		if err := n.Notify(ctx, in); err != nil {
			l := logger.ForUser(ctx, in.UserID)
			if in.ProjectID != nil {
				l = logger.ForProject(ctx, *in.ProjectID, in.UserID)
			}
			l.Warn().Err(err).Str("type", in.Type).Msg("[Notification] delivery failed")
		}
	}
}

func uintPtr(v uint) *uint { return &v }

type NotificationService struct {
	db  *gorm.DB
	hub *SSEHub
}

// NewNotificationService creates a notification service that stores rows only; see WithHub.
func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

// WithHub streams every stored notification to the recipient's open connections.
func (s *NotificationService) WithHub(hub *SSEHub) *NotificationService {
	s.hub = hub
	return s
}

func (s *NotificationService) Notify(ctx context.Context, in NotificationInput) error {
	n := models.Notification{
		UserID:    in.UserID,
		ProjectID: in.ProjectID,
		Type:      in.Type,
		Title:     in.Title,
		Content:   in.Content,
		Link:      in.Link,
		RelatedID: in.RelatedID,
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.Publish(NotificationEvent{
			ID:        n.ID,
			UserID:    n.UserID,
			ProjectID: n.ProjectID,
			Type:      n.Type,
			Title:     n.Title,
			Content:   n.Content,
			Link:      n.Link,
			CreatedAt: n.CreatedAt,
		})
	}
	return nil
}

type NotificationListRequest struct {
	Page       int  `form:"page"`
	PageSize   int  `form:"page_size"`
	UnreadOnly bool `form:"unread_only"`
}

type NotificationListResponse struct {
	Total    int64                 `json:"total"`
	Unread   int64                 `json:"unread"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Items    []models.Notification `json:"items"`
}

func (s *NotificationService) List(ctx context.Context, userID uint, req *NotificationListRequest) (*NotificationListResponse, error) {
	req.Page, req.PageSize = pageBounds(req.Page, req.PageSize, 20)

	db := s.db.WithContext(ctx)
	query := db.Model(&models.Notification{}).Where("user_id = ?", userID)
	if req.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var total, unread int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Notification{}).Where("user_id = ? AND is_read = ?", userID, false).Count(&unread).Error; err != nil {
		return nil, err
	}

	var items []models.Notification
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &NotificationListResponse{
		Total:    total,
		Unread:   unread,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID uint) error {
	var n models.Notification
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return response.NotFoundf("notification %d not found", id)
	}
	if err != nil {
		return err
	}
	if n.IsRead {
		return nil
	}
	now := time.Now()
	return s.db.WithContext(ctx).Model(&n).Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now()})
	return result.RowsAffected, result.Error
}

func (s *NotificationService) Delete(ctx context.Context, id, userID uint) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return response.NotFoundf("notification %d not found", id)
	}
	return nil
}
