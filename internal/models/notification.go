package models

import "time"

// Notification types
const (
	NotifyMemberAdded           = "member_added"
	NotifyMemberRemoved         = "member_removed"
	NotifyRoleChanged           = "role_changed"
	NotifyInviteReceived        = "invite_received"
	NotifyInviteAccepted        = "invite_accepted"
	NotifyInviteRejected        = "invite_rejected"
	NotifyAccessRequested       = "access_requested"
	NotifyAccessRequestApproved = "access_request_approved"
	NotifyAccessRequestRejected = "access_request_rejected"
	NotifyTaskAssigned          = "task_assigned"
	NotifyProjectDeleted        = "project_deleted"
)

type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	ProjectID *uint      `gorm:"index" json:"project_id"`
	Type      string     `gorm:"size:50;index" json:"type"`
	Title     string     `gorm:"size:200" json:"title"`
	Content   string     `gorm:"type:text" json:"content"`
	Link      string     `gorm:"size:500" json:"link"`
	RelatedID *uint      `json:"related_id"`
	IsRead    bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
