package services

import (
	"context"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

type DashboardService struct {
	db    *gorm.DB
	perms *PermissionService
}

// NewDashboardService creates a dashboard service.
func NewDashboardService(db *gorm.DB, perms *PermissionService) *DashboardService {
	return &DashboardService{db: db, perms: perms}
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type ColumnCount struct {
	ColumnID *uint  `json:"column_id"`
	Name     string `json:"name"`
	Count    int64  `json:"count"`
}

type AssigneeCount struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

type ProjectDashboard struct {
	ProjectID             uint            `json:"project_id"`
	MemberCount           int64           `json:"member_count"`
	TaskCount             int64           `json:"task_count"`
	OverdueTasks          int64           `json:"overdue_tasks"`
	PendingInvites        int64           `json:"pending_invites"`
	PendingAccessRequests int64           `json:"pending_access_requests"`
	ByStatus              []StatusCount   `json:"by_status"`
	ByColumn              []ColumnCount   `json:"by_column"`
	ByAssignee            []AssigneeCount `json:"by_assignee"`
}

// GetProjectStats summarizes a board for anyone who can view the project.
// Invite and access request counts are only filled in for add_member holders.
func (s *DashboardService) GetProjectStats(ctx context.Context, projectID, userID uint) (*ProjectDashboard, error) {
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

	stats := &ProjectDashboard{ProjectID: projectID}

	if err := db.Model(&models.ProjectMember{}).Where("project_id = ?", projectID).
		Distinct("user_id").Count(&stats.MemberCount).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Task{}).Where("project_id = ?", projectID).Count(&stats.TaskCount).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Task{}).
		Where("project_id = ? AND due_date IS NOT NULL AND due_date < ? AND status <> ?", projectID, time.Now(), models.TaskStatusDone).
		Count(&stats.OverdueTasks).Error; err != nil {
		return nil, err
	}

	stats.ByStatus = []StatusCount{}
	if err := db.Model(&models.Task{}).Select("status, COUNT(*) as count").
		Where("project_id = ?", projectID).Group("status").Order("status").
		Scan(&stats.ByStatus).Error; err != nil {
		return nil, err
	}

	stats.ByColumn = []ColumnCount{}
	if err := db.Table("tasks").
		Select("tasks.column_id as column_id, COALESCE(bc.name, '') as name, COUNT(*) as count").
		Joins("LEFT JOIN columns bc ON bc.id = tasks.column_id").
		Where("tasks.project_id = ?", projectID).
		Group("tasks.column_id, bc.name, bc.position").
		Order("bc.position").
		Scan(&stats.ByColumn).Error; err != nil {
		return nil, err
	}

	stats.ByAssignee = []AssigneeCount{}
	if err := db.Table("task_assignees").
		Select("task_assignees.user_id as user_id, users.username as username, COUNT(*) as count").
		Joins("JOIN users ON users.id = task_assignees.user_id").
		Where("task_assignees.project_id = ?", projectID).
		Group("task_assignees.user_id, users.username").
		Order("count DESC, users.username").
		Scan(&stats.ByAssignee).Error; err != nil {
		return nil, err
	}

	canManage, err := s.perms.HasPermission(ctx, db, projectID, userID, models.PermAddMember)
	if err != nil {
		return nil, err
	}
	if canManage {
		if err := db.Model(&models.Invite{}).
			Where("project_id = ? AND status = ? AND is_permanent = ?", projectID, models.InviteStatusPending, false).
			Count(&stats.PendingInvites).Error; err != nil {
			return nil, err
		}
		if err := db.Model(&models.AccessRequest{}).
			Where("project_id = ? AND status = ?", projectID, models.AccessRequestPending).
			Count(&stats.PendingAccessRequests).Error; err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// SiteStats are the instance-wide counters shown to administrators and
// exported on /metrics.
type SiteStats struct {
	Projects              int64 `json:"projects"`
	PublicProjects        int64 `json:"public_projects"`
	ActiveUsers           int64 `json:"active_users"`
	Tasks                 int64 `json:"tasks"`
	PendingInvites        int64 `json:"pending_invites"`
	PendingAccessRequests int64 `json:"pending_access_requests"`
	ActivityLast24h       int64 `json:"activity_last_24h"`
}

// GetSiteStats counts live rows across the whole instance.
func (s *DashboardService) GetSiteStats(ctx context.Context) (*SiteStats, error) {
	db := s.db.WithContext(ctx)
	var stats SiteStats

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.Projects, db.Model(&models.Project{}).Where("destroyed = ?", false)},
		{&stats.PublicProjects, db.Model(&models.Project{}).Where("destroyed = ? AND visibility = ?", false, models.ProjectVisibilityPublic)},
		{&stats.ActiveUsers, db.Model(&models.User{}).Where("is_active = ?", true)},
		{&stats.Tasks, db.Model(&models.Task{})},
		{&stats.PendingInvites, db.Model(&models.Invite{}).Where("status = ? AND is_permanent = ?", models.InviteStatusPending, false)},
		{&stats.PendingAccessRequests, db.Model(&models.AccessRequest{}).Where("status = ?", models.AccessRequestPending)},
		{&stats.ActivityLast24h, db.Model(&models.ActivityLog{}).Where("created_at >= ?", time.Now().Add(-24*time.Hour))},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, err
		}
	}
	return &stats, nil
}
