package db

import (
	"context"
	"time"

	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

const taskTimelineLimit = 200

type timelineRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTimelineRepository(db *gorm.DB, log *logger.Logger) ports.TimelineRepository {
	return &timelineRepository{
		db:  db,
		log: log,
	}
}

func (r *timelineRepository) Create(ctx context.Context, event *domain.TimelineEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		r.log.Errorw("timeline_repo_create_failed", "task_id", event.TaskID, "type", event.Type, "error", err)
		return err
	}
	r.log.Debugw("timeline_repo_create_ok", "id", event.ID, "task_id", event.TaskID, "type", event.Type, "status", event.Status)
	return nil
}

// GetByTask returns a task's events in the order they happened.
func (r *timelineRepository) GetByTask(ctx context.Context, taskID string) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at asc, id asc").
		Limit(taskTimelineLimit).
		Find(&events).Error
	if err != nil {
		r.log.Errorw("timeline_repo_get_by_task_failed", "task_id", taskID, "error", err)
		return nil, err
	}
	return events, nil
}

func (r *timelineRepository) GetAll(ctx context.Context, limit int) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	err := r.db.WithContext(ctx).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		r.log.Errorw("timeline_repo_list_failed", "error", err)
		return nil, err
	}
	r.log.Infow("timeline_repo_list_ok", "count", len(events))
	return events, nil
}

// CleanupOld removes events older than the specified duration
func (r *timelineRepository) CleanupOld(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.TimelineEvent{})
	if result.Error != nil {
		r.log.Errorw("timeline_repo_cleanup_failed", "error", result.Error)
		return result.Error
	}
	r.log.Infow("timeline_repo_cleanup_ok", "deleted", result.RowsAffected)
	return nil
}
