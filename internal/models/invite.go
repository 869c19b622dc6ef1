package models

import "time"

const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRejected = "rejected"
	InviteStatusExpired  = "expired"
)

// Invite is either an email invite with an expiry or the project's permanent token invite.
type Invite struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"index;not null" json:"project_id"`
	Email       *string    `gorm:"size:255;index" json:"email"`
	InviteToken *string    `gorm:"size:64;uniqueIndex" json:"invite_token,omitempty"`
	InvitedBy   uint       `gorm:"index;not null" json:"invited_by"`
	Status      string     `gorm:"size:20;default:pending;index" json:"status"`
	RoleID      uint       `gorm:"not null" json:"role_id"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at"`
	IsPermanent bool       `gorm:"default:false" json:"is_permanent"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

func (Invite) TableName() string { return "invites" }

func (i *Invite) Expired(now time.Time) bool {
	return !i.IsPermanent && i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}
