package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockProject loads a live project row FOR UPDATE. It is the first statement of
// every membership transaction, so writers on the same project queue behind it.
func lockProject(tx *gorm.DB, projectID uint) (*models.Project, error) {
	var project models.Project
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND destroyed = ?", projectID, false).
		First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NotFoundf("project %d not found", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock project: %w", err)
	}
	return &project, nil
}

func findProject(db *gorm.DB, projectID uint) (*models.Project, error) {
	var project models.Project
	err := db.Where("id = ? AND destroyed = ?", projectID, false).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NotFoundf("project %d not found", projectID)
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func findUser(db *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	err := db.First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NotFoundf("user %d not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// touchProject moves last_activity forward. Older timestamps never overwrite newer ones.
func touchProject(tx *gorm.DB, projectID uint, at time.Time) error {
	return tx.Model(&models.Project{}).
		Where("id = ? AND last_activity < ?", projectID, at).
		UpdateColumn("last_activity", at).Error
}

// inTx runs fn in a transaction bound to ctx.
func inTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}

func pageBounds(page, pageSize, def int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = def
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
