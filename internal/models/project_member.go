package models

import "time"

// ProjectMember binds a user to one project role. Rows are only written through the membership store.
type ProjectMember struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProjectID     uint      `gorm:"uniqueIndex:idx_project_user_role;not null" json:"project_id"`
	UserID        uint      `gorm:"uniqueIndex:idx_project_user_role;index;not null" json:"user_id"`
	ProjectRoleID uint      `gorm:"uniqueIndex:idx_project_user_role;index;not null" json:"project_role_id"`
	JoinedAt      time.Time `json:"joined_at"`
	User          *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (ProjectMember) TableName() string { return "project_members" }
