package db

import (
	"fmt"

	"github.com/zulandar/admitdesk/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Applicant{},
		&models.ConversationSession{},
		&models.ConversationMessage{},
		&models.Action{},
		&models.ActionExecution{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// OpenTest opens a migrated in-memory SQLite database. It is used by tests
// in other packages and by `desk chat --memory`.
func OpenTest() (*gorm.DB, error) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
