package models

import "time"

// ProjectRole is a per-project copy of a role template, or a custom role when DefaultRoleID is nil.
type ProjectRole struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProjectID     uint      `gorm:"index;not null" json:"project_id"`
	DefaultRoleID *uint     `gorm:"index" json:"default_role_id"`
	Name          string    `gorm:"size:50;not null" json:"name"`
	Description   string    `gorm:"size:255" json:"description"`
	Destroyed     bool      `gorm:"default:false;index" json:"destroyed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	PermissionIDs []uint `gorm:"-" json:"permission_ids"`
}

func (ProjectRole) TableName() string { return "project_roles" }

// IsCustom reports whether the role was created inside the project instead of cloned.
func (r *ProjectRole) IsCustom() bool { return r.DefaultRoleID == nil }

type ProjectRolePermission struct {
	ProjectRoleID uint `gorm:"primaryKey;autoIncrement:false"`
	PermissionID  uint `gorm:"primaryKey;autoIncrement:false;index"`
}

func (ProjectRolePermission) TableName() string { return "project_role_permissions" }
