package services

import (
	"sync"
	"time"

	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/domain"
)

// TaskStore maps task ids to their latest status record. Each id has a single
// writer (the run that owns it); any number of pollers may read.
type TaskStore struct {
	tasks map[string]domain.TaskRecord
	mu    sync.RWMutex
}

var _ ports.TaskStore = (*TaskStore)(nil)

func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]domain.TaskRecord),
	}
}

// Set overwrites the record for id.
func (s *TaskStore) Set(id string, status domain.TaskStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[id] = domain.TaskRecord{
		ID:        id,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}
}

// Get returns a copy of the record, or the not_found sentinel.
func (s *TaskStore) Get(id string) domain.TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.tasks[id]
	if !exists {
		return domain.NotFoundRecord(id)
	}
	return record
}

// Len reports how many tasks have been recorded.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
