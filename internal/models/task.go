package models

import "time"

const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"index;not null" json:"project_id"`
	ColumnID    *uint      `gorm:"index" json:"column_id"`
	Title       string     `gorm:"size:200;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"size:20;default:todo;index" json:"status"`
	Priority    string     `gorm:"size:20;default:medium" json:"priority"`
	Position    int        `gorm:"default:0" json:"position"`
	DueDate     *time.Time `json:"due_date"`
	CreatedBy   uint       `gorm:"index" json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Assignees []TaskAssignee `gorm:"foreignKey:TaskID" json:"assignees,omitempty"`
}

func (Task) TableName() string { return "tasks" }

// TaskAssignee carries the project id so member removal can unassign without a join.
type TaskAssignee struct {
	TaskID     uint      `gorm:"primaryKey;autoIncrement:false" json:"task_id"`
	UserID     uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	ProjectID  uint      `gorm:"index;not null" json:"project_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

func (TaskAssignee) TableName() string { return "task_assignees" }

// AssigneeIDs returns the assigned user ids in stored order.
func (t *Task) AssigneeIDs() []uint {
	ids := make([]uint, 0, len(t.Assignees))
	for _, a := range t.Assignees {
		ids = append(ids, a.UserID)
	}
	return ids
}
