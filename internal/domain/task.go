package domain

import "time"

type TaskStatus string

const (
	TaskStatusInstalling TaskStatus = "installing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
	TaskStatusNotFound   TaskStatus = "not_found"
)

// Terminal reports whether no further status change will follow.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// TaskRecord is the only state a poller sees for an installation run.
type TaskRecord struct {
	ID        string     `json:"-"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message"`
	UpdatedAt time.Time  `json:"-"`
}

func NotFoundRecord(id string) TaskRecord {
	return TaskRecord{
		ID:      id,
		Status:  TaskStatusNotFound,
		Message: "Installation task not found",
	}
}
