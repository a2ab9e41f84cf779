package services

import (
	"fmt"
	"sync"
	"testing"

	"github.com/replforge/backend/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestTaskStore(t *testing.T) {
	t.Run("unknown id returns not_found", func(t *testing.T) {
		store := NewTaskStore()
		record := store.Get("missing")
		assert.Equal(t, domain.TaskStatusNotFound, record.Status)
		assert.Equal(t, "Installation task not found", record.Message)
	})

	t.Run("set overwrites", func(t *testing.T) {
		store := NewTaskStore()
		store.Set("t1", domain.TaskStatusInstalling, "Starting installation...")
		store.Set("t1", domain.TaskStatusError, "Installation failed: boom")

		record := store.Get("t1")
		assert.Equal(t, domain.TaskStatusError, record.Status)
		assert.Equal(t, "Installation failed: boom", record.Message)
		assert.False(t, record.UpdatedAt.IsZero())
		assert.Equal(t, 1, store.Len())
	})

	t.Run("returned record is a snapshot", func(t *testing.T) {
		store := NewTaskStore()
		store.Set("t1", domain.TaskStatusInstalling, "first")
		snapshot := store.Get("t1")
		store.Set("t1", domain.TaskStatusCompleted, "second")
		assert.Equal(t, "first", snapshot.Message)
	})
}

func TestTaskStoreConcurrentDisjointWrites(t *testing.T) {
	store := NewTaskStore()
	const tasks = 64
	const writes = 50

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("task_%d", i)
			for w := 0; w < writes; w++ {
				store.Set(id, domain.TaskStatusInstalling, fmt.Sprintf("%s step %d", id, w))
				_ = store.Get(fmt.Sprintf("task_%d", (i+1)%tasks))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < tasks; i++ {
		id := fmt.Sprintf("task_%d", i)
		record := store.Get(id)
		assert.Equal(t, domain.TaskStatusInstalling, record.Status)
		assert.Equal(t, fmt.Sprintf("%s step %d", id, writes-1), record.Message)
	}
}
