package models

import (
	"fmt"

	"github.com/huangang/taskhub/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate creates or updates every table on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&RefreshToken{},
		&PasswordReset{},
		&Permission{},
		&DefaultRole{},
		&DefaultRolePermission{},
		&Project{},
		&ProjectRole{},
		&ProjectRolePermission{},
		&ProjectMember{},
		&Invite{},
		&AccessRequest{},
		&Column{},
		&Task{},
		&TaskAssignee{},
		&Notification{},
		&ActivityLog{},
		&SearchDocument{},
		&SchedulerLock{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates default data if not exists
func SeedDefaultData() error {
	return Seed(DB)
}

// Seed inserts the permission catalog and the role templates. Existing rows are
// left alone, so a permission an operator soft deleted stays deleted.
func Seed(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		ids := make(map[string]uint, len(permissionCatalog))
		for _, seed := range permissionCatalog {
			var perm Permission
			err := tx.Unscoped().Where("name = ?", seed.Name).
				Attrs(Permission{Name: seed.Name, Category: seed.Category, Description: seed.Description}).
				FirstOrCreate(&perm).Error
			if err != nil {
				return fmt.Errorf("seed permission %s: %w", seed.Name, err)
			}
			ids[seed.Name] = perm.ID
		}

		for _, seed := range defaultRoleCatalog {
			var role DefaultRole
			err := tx.Where("name = ?", seed.Name).
				Attrs(DefaultRole{Name: seed.Name, Description: seed.Description}).
				FirstOrCreate(&role).Error
			if err != nil {
				return fmt.Errorf("seed role %s: %w", seed.Name, err)
			}

			var count int64
			if err := tx.Model(&DefaultRolePermission{}).Where("default_role_id = ?", role.ID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			grants := DefaultRoleGrants(seed.Name)
			links := make([]DefaultRolePermission, 0, len(grants))
			for _, name := range grants {
				links = append(links, DefaultRolePermission{DefaultRoleID: role.ID, PermissionID: ids[name]})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error; err != nil {
				return fmt.Errorf("seed grants for %s: %w", seed.Name, err)
			}
		}
		return nil
	})
}
