package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/replforge/backend/internal/config"
	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
	"github.com/replforge/backend/internal/transport/http/handlers"
	httpmw "github.com/replforge/backend/internal/transport/http/middleware"
)

type RouterConfig struct {
	Logger         *logger.Logger
	Config         *config.Config
	Installer      ports.InstallationService
	KeyFiles       ports.KeyFileStore
	Catalog        domain.Catalog
	TimelineRepo   ports.TimelineRepository
	StreamInterval time.Duration
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	installationHandler := handlers.NewInstallationHandler(cfg.Installer, cfg.KeyFiles, cfg.Catalog, cfg.Logger)
	streamHandler := handlers.NewTaskStreamHandler(cfg.Installer, cfg.Logger, cfg.StreamInterval)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Task status stream
	app.Use("/ws", httpmw.AdminAuth(cfg.Config), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/tasks/:id", websocket.New(streamHandler.Handle))

	// API v1 routes
	api := app.Group("/api/v1", httpmw.AdminAuth(cfg.Config))

	api.Get("/catalog", installationHandler.GetCatalog)
	api.Post("/installations", installationHandler.StartInstallation)

	tasks := api.Group("/tasks")
	tasks.Get("/:id", installationHandler.GetTaskStatus)
	tasks.Delete("/:id", installationHandler.CancelTask)

	// Timeline routes only exist when the audit database is enabled.
	if cfg.TimelineRepo != nil {
		timelineHandler := handlers.NewTimelineHandler(cfg.TimelineRepo)
		tasks.Get("/:id/timeline", timelineHandler.GetTaskEvents)
		api.Get("/timeline", timelineHandler.GetEvents)
	}
}
