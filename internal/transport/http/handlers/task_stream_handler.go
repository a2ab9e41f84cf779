package handlers

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
	"github.com/replforge/backend/internal/transport/http/dto"
)

// TaskStreamHandler pushes a task's status record over a websocket each time
// it changes and closes the socket once the task is terminal or unknown.
type TaskStreamHandler struct {
	service  ports.InstallationService
	logger   *logger.Logger
	interval time.Duration
}

func NewTaskStreamHandler(service ports.InstallationService, logger *logger.Logger, interval time.Duration) *TaskStreamHandler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &TaskStreamHandler{service: service, logger: logger, interval: interval}
}

func (h *TaskStreamHandler) Handle(c *websocket.Conn) {
	taskID := c.Params("id")
	defer c.Close()

	// Reader only exists to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Infow("task_stream_open", "task_id", taskID)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last dto.TaskStatusResponse
	sent := false
	for {
		current := dto.TaskToResponse(h.service.Status(taskID))
		if !sent || current != last {
			if err := c.WriteJSON(current); err != nil {
				h.logger.Debugw("task_stream_write_failed", "task_id", taskID, "error", err)
				return
			}
			last, sent = current, true
		}

		if current.Status.Terminal() || current.Status == domain.TaskStatusNotFound {
			_ = c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(current.Status)))
			h.logger.Infow("task_stream_closed", "task_id", taskID, "status", current.Status)
			return
		}

		select {
		case <-gone:
			h.logger.Debugw("task_stream_client_gone", "task_id", taskID)
			return
		case <-ticker.C:
		}
	}
}
