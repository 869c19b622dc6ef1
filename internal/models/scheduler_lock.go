package models

import "time"

// SchedulerLock is one claimed run of a maintenance job. The unique
// (lock_name, lock_key) pair lets exactly one replica own a slot; the row then
// records how that run ended.
type SchedulerLock struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	LockName   string     `gorm:"uniqueIndex:idx_lock_name_key;size:100;not null" json:"lock_name"`
	LockKey    string     `gorm:"uniqueIndex:idx_lock_name_key;size:100;not null" json:"lock_key"`
	LockedBy   string     `gorm:"size:100" json:"locked_by"`
	LockedAt   time.Time  `json:"locked_at"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Affected   int64      `json:"affected"`
	LastError  string     `gorm:"size:500" json:"last_error,omitempty"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }

// Finished reports whether the run completed, successfully or not.
func (l *SchedulerLock) Finished() bool { return l.FinishedAt != nil }

// Succeeded is true for a finished run without error.
func (l *SchedulerLock) Succeeded() bool { return l.Finished() && l.LastError == "" }
