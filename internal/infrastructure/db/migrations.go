package db

import (
	"github.com/replforge/backend/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.TimelineEvent{}); err != nil {
		return err
	}
	return createCustomIndexes(db)
}

func createCustomIndexes(db *gorm.DB) error {
	// Timeline reads are always per task, newest first.
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_timeline_events_task
		ON timeline_events (task_id, created_at)
		WHERE deleted_at IS NULL
	`).Error
}
