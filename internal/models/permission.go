package models

import (
	"time"

	"gorm.io/gorm"
)

// Permission categories
const (
	PermissionCategoryProject      = "project"
	PermissionCategoryTask         = "task"
	PermissionCategoryMessage      = "message"
	PermissionCategoryAuth         = "auth"
	PermissionCategoryNotification = "notification"
)

// Permission names
const (
	PermViewProject        = "view_project"
	PermEditProject        = "edit_project"
	PermDeleteProject      = "delete_project"
	PermAddMember          = "add_member"
	PermEditMemberRole     = "edit_member_role"
	PermEditPermissionRole = "edit_permission_role"
	PermManageColumn       = "manage_column"

	PermCreateTask  = "create_task"
	PermEditTask    = "edit_task"
	PermDeleteTask  = "delete_task"
	PermAssignTask  = "assign_task"
	PermCommentTask = "comment_task"

	PermSendMessage   = "send_message"
	PermDeleteMessage = "delete_message"

	PermCreateInvite = "create_invite"
	PermViewInvite   = "view_invite"

	PermSendNotification = "send_notification"
	PermViewNotification = "view_notification"
)

// Role template names
const (
	RoleOwner  = "owner"
	RoleLead   = "lead"
	RoleMember = "member"
	// RoleViewer is kept for existing projects; new grants should use member.
	RoleViewer = "viewer"
)

// Permission is a named capability. Once referenced by a role it is only ever soft deleted.
type Permission struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Category    string         `gorm:"size:50;index;not null" json:"category"`
	Description string         `gorm:"size:255" json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Permission) TableName() string { return "permissions" }

// DefaultRole is a global role template cloned into every new project.
type DefaultRole struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:50;not null" json:"name"`
	Description string    `gorm:"size:255" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	PermissionIDs []uint `gorm:"-" json:"permission_ids"`
}

func (DefaultRole) TableName() string { return "default_roles" }

type DefaultRolePermission struct {
	DefaultRoleID uint `gorm:"primaryKey;autoIncrement:false"`
	PermissionID  uint `gorm:"primaryKey;autoIncrement:false;index"`
}

func (DefaultRolePermission) TableName() string { return "default_role_permissions" }

type permissionSeed struct {
	Name        string
	Category    string
	Description string
}

var permissionCatalog = []permissionSeed{
	{PermViewProject, PermissionCategoryProject, "View project details and board"},
	{PermEditProject, PermissionCategoryProject, "Edit project settings"},
	{PermDeleteProject, PermissionCategoryProject, "Delete the project"},
	{PermAddMember, PermissionCategoryProject, "Add, remove and approve members"},
	{PermEditMemberRole, PermissionCategoryProject, "Change member roles"},
	{PermEditPermissionRole, PermissionCategoryProject, "Edit role permissions (free mode only)"},
	{PermManageColumn, PermissionCategoryProject, "Create, rename and reorder board columns"},
	{PermCreateTask, PermissionCategoryTask, "Create tasks"},
	{PermEditTask, PermissionCategoryTask, "Edit and move tasks"},
	{PermDeleteTask, PermissionCategoryTask, "Delete tasks"},
	{PermAssignTask, PermissionCategoryTask, "Assign tasks to members"},
	{PermCommentTask, PermissionCategoryTask, "Comment on tasks"},
	{PermSendMessage, PermissionCategoryMessage, "Send project messages"},
	{PermDeleteMessage, PermissionCategoryMessage, "Delete project messages"},
	{PermCreateInvite, PermissionCategoryAuth, "Invite users by email"},
	{PermViewInvite, PermissionCategoryAuth, "View invites and the permanent invite link"},
	{PermSendNotification, PermissionCategoryNotification, "Send notifications to members"},
	{PermViewNotification, PermissionCategoryNotification, "Receive project notifications"},
}

type defaultRoleSeed struct {
	Name        string
	Description string
	Grants      []string // nil grants every catalog permission
}

var defaultRoleCatalog = []defaultRoleSeed{
	{RoleOwner, "Project owner", nil},
	{RoleLead, "Project lead", []string{
		PermViewProject, PermEditProject, PermAddMember, PermEditMemberRole, PermEditPermissionRole,
		PermManageColumn, PermCreateTask, PermEditTask, PermDeleteTask, PermAssignTask, PermCommentTask,
		PermSendMessage, PermDeleteMessage, PermCreateInvite, PermViewInvite,
		PermSendNotification, PermViewNotification,
	}},
	{RoleMember, "Project member", []string{
		PermViewProject, PermCreateTask, PermEditTask, PermCommentTask,
		PermSendMessage, PermViewNotification, PermViewInvite,
	}},
	{RoleViewer, "Read-only member (deprecated)", []string{
		PermViewProject, PermViewNotification,
	}},
}

// PermissionNames returns every permission name in the catalog.
func PermissionNames() []string {
	names := make([]string, 0, len(permissionCatalog))
	for _, p := range permissionCatalog {
		names = append(names, p.Name)
	}
	return names
}

// DefaultRoleGrants returns the permission names granted to a template.
func DefaultRoleGrants(role string) []string {
	for _, r := range defaultRoleCatalog {
		if r.Name != role {
			continue
		}
		if r.Grants == nil {
			return PermissionNames()
		}
		return append([]string(nil), r.Grants...)
	}
	return nil
}
