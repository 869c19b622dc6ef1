package models

import "time"

const (
	ProjectVisibilityPublic  = "public"
	ProjectVisibilityPrivate = "private"
)

const (
	ProjectStatusActive    = "active"
	ProjectStatusOnHold    = "on_hold"
	ProjectStatusCompleted = "completed"
	ProjectStatusArchived  = "archived"
)

// Project is a workspace of tasks shared by its members.
type Project struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"size:200;not null" json:"name"`
	Description  string     `gorm:"type:text" json:"description"`
	Status       string     `gorm:"size:20;default:active" json:"status"`
	Priority     string     `gorm:"size:20;default:medium" json:"priority"` // low, medium, high
	StartDate    *time.Time `json:"start_date"`
	DueDate      *time.Time `json:"due_date"`
	CreatedBy    uint       `gorm:"index" json:"created_by"`
	MemberCount  int        `gorm:"default:0" json:"member_count"`
	Visibility   string     `gorm:"size:20;default:private" json:"visibility"`
	FreeMode     bool       `gorm:"default:false" json:"free_mode"`
	LastActivity time.Time  `gorm:"index" json:"last_activity"`
	Destroyed    bool       `gorm:"default:false;index" json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Members []ProjectMember `gorm:"foreignKey:ProjectID" json:"members,omitempty"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) IsPublic() bool { return p.Visibility == ProjectVisibilityPublic }
