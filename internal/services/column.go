package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

// ColumnService manages the kanban lanes of a project.
type ColumnService struct {
	db       *gorm.DB
	perms    *PermissionService
	activity ActivityLogger
}

// NewColumnService creates a column service.
func NewColumnService(db *gorm.DB, perms *PermissionService, activity ActivityLogger) *ColumnService {
	return &ColumnService{db: db, perms: perms, activity: activity}
}

type ColumnRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

type ReorderColumnsRequest struct {
	ColumnIDs []uint `json:"column_ids" binding:"required,min=1"`
}

func createColumns(tx *gorm.DB, projectID uint, names []string) error {
	if len(names) == 0 {
		return nil
	}
	columns := make([]models.Column, 0, len(names))
	for i, name := range names {
		columns = append(columns, models.Column{ProjectID: projectID, Name: name, Position: i})
	}
	if err := tx.Create(&columns).Error; err != nil {
		return fmt.Errorf("create columns: %w", err)
	}
	return nil
}

func nextColumnPosition(tx *gorm.DB, projectID uint) (int, error) {
	var position sql.NullInt64
	row := tx.Model(&models.Column{}).Where("project_id = ?", projectID).Select("MAX(position)").Row()
	if err := row.Scan(&position); err != nil {
		return 0, fmt.Errorf("select position: %w", err)
	}
	if position.Valid {
		return int(position.Int64) + 1, nil
	}
	return 0, nil
}

func findColumn(tx *gorm.DB, projectID, columnID uint) (*models.Column, error) {
	var column models.Column
	err := tx.Where("id = ? AND project_id = ?", columnID, projectID).First(&column).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NotFoundf("column %d not found", columnID)
	}
	if err != nil {
		return nil, err
	}
	return &column, nil
}

func (s *ColumnService) List(ctx context.Context, projectID, userID uint) ([]models.Column, error) {
	db := s.db.WithContext(ctx)
	project, err := findProject(db, projectID)
	if err != nil {
		return nil, err
	}
	ok, err := s.perms.CanView(ctx, db, project, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, response.NewForbidden("project is private")
	}

	var columns []models.Column
	err = db.Where("project_id = ?", projectID).Order("position ASC, id ASC").Find(&columns).Error
	return columns, err
}

func (s *ColumnService) Create(ctx context.Context, projectID, userID uint, req *ColumnRequest) (*models.Column, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, response.NewBadRequest("column name is required")
	}

	var column models.Column
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermManageColumn); err != nil {
			return err
		}
		pos, err := nextColumnPosition(tx, projectID)
		if err != nil {
			return err
		}
		column = models.Column{ProjectID: projectID, Name: name, Position: pos}
		if err := tx.Create(&column).Error; err != nil {
			return err
		}
		return touchProject(tx, projectID, time.Now())
	})
	if err != nil {
		return nil, err
	}

	appendActivity(ctx, s.activity, userID, projectID, fmt.Sprintf("added column %s", name),
		map[string]interface{}{"action": "column.create", "column_id": column.ID})
	return &column, nil
}

func (s *ColumnService) Rename(ctx context.Context, projectID, columnID, userID uint, req *ColumnRequest) (*models.Column, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, response.NewBadRequest("column name is required")
	}

	var column *models.Column
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermManageColumn); err != nil {
			return err
		}
		var err error
		if column, err = findColumn(tx, projectID, columnID); err != nil {
			return err
		}
		if err := tx.Model(column).Update("name", name).Error; err != nil {
			return err
		}
		column.Name = name
		return touchProject(tx, projectID, time.Now())
	})
	if err != nil {
		return nil, err
	}
	return column, nil
}

// Delete removes a column. Its tasks stay in the project without a column.
func (s *ColumnService) Delete(ctx context.Context, projectID, columnID, userID uint) error {
	var column *models.Column
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermManageColumn); err != nil {
			return err
		}
		var err error
		if column, err = findColumn(tx, projectID, columnID); err != nil {
			return err
		}
		if err := tx.Model(&models.Task{}).Where("column_id = ?", columnID).Update("column_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(column).Error; err != nil {
			return err
		}
		return touchProject(tx, projectID, time.Now())
	})
	if err != nil {
		return err
	}

	appendActivity(ctx, s.activity, userID, projectID, fmt.Sprintf("deleted column %s", column.Name),
		map[string]interface{}{"action": "column.delete", "column_id": columnID})
	return nil
}

// Reorder rewrites positions from the given order. Columns left out of the list
// keep their relative order after the listed ones.
func (s *ColumnService) Reorder(ctx context.Context, projectID, userID uint, req *ReorderColumnsRequest) ([]models.Column, error) {
	var columns []models.Column
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockProject(tx, projectID); err != nil {
			return err
		}
		if err := s.perms.Require(ctx, tx, projectID, userID, models.PermManageColumn); err != nil {
			return err
		}

		var current []models.Column
		if err := tx.Where("project_id = ?", projectID).Order("position ASC, id ASC").Find(&current).Error; err != nil {
			return err
		}
		known := make(map[uint]bool, len(current))
		for _, c := range current {
			known[c.ID] = true
		}

		var unknown []string
		listed := make(map[uint]bool, len(req.ColumnIDs))
		order := make([]uint, 0, len(current))
		for _, id := range req.ColumnIDs {
			if !known[id] {
				unknown = append(unknown, fmt.Sprint(id))
				continue
			}
			if listed[id] {
				continue
			}
			listed[id] = true
			order = append(order, id)
		}
		if len(unknown) > 0 {
			return response.BadRequestf("unknown columns: %s", strings.Join(unknown, ", "))
		}
		for _, c := range current {
			if !listed[c.ID] {
				order = append(order, c.ID)
			}
		}

		for pos, id := range order {
			if err := tx.Model(&models.Column{}).Where("id = ?", id).Update("position", pos).Error; err != nil {
				return err
			}
		}
		if err := touchProject(tx, projectID, time.Now()); err != nil {
			return err
		}
		return tx.Where("project_id = ?", projectID).Order("position ASC, id ASC").Find(&columns).Error
	})
	if err != nil {
		return nil, err
	}
	return columns, nil
}
