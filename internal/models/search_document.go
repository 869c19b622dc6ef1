package models

import "time"

const (
	SearchDocProject = "project"
	SearchDocTask    = "task"
	SearchDocUser    = "user"
)

// SearchDocument is one entry of the database-backed search index.
type SearchDocument struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocType    string    `gorm:"size:20;uniqueIndex:idx_search_doc;not null" json:"doc_type"`
	DocID      uint      `gorm:"uniqueIndex:idx_search_doc;not null" json:"doc_id"`
	ProjectID  uint      `gorm:"index" json:"project_id"`
	Title      string    `gorm:"size:255;index" json:"title"`
	Body       string    `gorm:"type:text" json:"body"`
	Visibility string    `gorm:"size:20" json:"visibility"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (SearchDocument) TableName() string { return "search_documents" }
