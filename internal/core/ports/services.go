package ports

import (
	"context"
	"io"

	"github.com/replforge/backend/internal/domain"
)

type TaskStore interface {
	Set(id string, status domain.TaskStatus, message string)
	Get(id string) domain.TaskRecord
}

type InstallationService interface {
	Start(req domain.InstallRequest) (string, error)
	Cancel(taskID string) bool
	Status(taskID string) domain.TaskRecord
	Shutdown(ctx context.Context) error
}

type KeyFileStore interface {
	Save(filename string, r io.Reader) (string, error)
	Remove(path string) error
}
