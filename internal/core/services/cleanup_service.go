package services

import (
	"context"
	"time"

	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/infrastructure/logger"
)

const defaultCleanupInterval = time.Hour

// CleanupService prunes timeline events older than the retention window.
type CleanupService struct {
	timelineRepo ports.TimelineRepository
	logger       *logger.Logger
	retention    time.Duration
	interval     time.Duration
}

func NewCleanupService(repo ports.TimelineRepository, logger *logger.Logger, retention time.Duration) *CleanupService {
	return &CleanupService{
		timelineRepo: repo,
		logger:       logger,
		retention:    retention,
		interval:     defaultCleanupInterval,
	}
}

// SweepOnce deletes expired events a single time.
func (s *CleanupService) SweepOnce(ctx context.Context) error {
	if s.timelineRepo == nil || s.retention <= 0 {
		return nil
	}
	if err := s.timelineRepo.CleanupOld(ctx, s.retention); err != nil {
		s.logger.Warnw("timeline_cleanup_failed", "retention", s.retention.String(), "error", err)
		return err
	}
	return nil
}

// Run sweeps on every tick until ctx is done.
func (s *CleanupService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_ = s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.SweepOnce(ctx)
		}
	}
}
