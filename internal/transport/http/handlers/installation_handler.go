package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/core/services"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
	"github.com/replforge/backend/internal/transport/http/dto"
)

const keyFileField = "key_file"

type InstallationHandler struct {
	service  ports.InstallationService
	keyFiles ports.KeyFileStore
	catalog  domain.Catalog
	logger   *logger.Logger
}

func NewInstallationHandler(service ports.InstallationService, keyFiles ports.KeyFileStore, catalog domain.Catalog, logger *logger.Logger) *InstallationHandler {
	return &InstallationHandler{
		service:  service,
		keyFiles: keyFiles,
		catalog:  catalog,
		logger:   logger,
	}
}

// StartInstallation accepts the form, stores the key and dispatches the run.
// It answers before any remote work starts.
func (h *InstallationHandler) StartInstallation(c *fiber.Ctx) error {
	var req dto.InstallationRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("installation_invalid_body", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid form body",
		})
	}

	if errs := req.Validate(h.catalog); len(errs) > 0 {
		h.logger.Warnw("installation_validation_failed", "errors", errs)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Details: errs,
		})
	}

	fileHeader, err := c.FormFile(keyFileField)
	if err != nil {
		h.logger.Warnw("installation_missing_key_file")
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: services.ErrKeyFileMissing.Error(),
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Errorw("installation_key_open_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to read key file"})
	}
	defer file.Close()

	keyPath, err := h.keyFiles.Save(fileHeader.Filename, file)
	if err != nil {
		if errors.Is(err, services.ErrKeyFileInvalid) || errors.Is(err, services.ErrKeyFileMissing) || errors.Is(err, services.ErrKeyFileTooLarge) {
			h.logger.Warnw("installation_key_rejected", "filename", fileHeader.Filename, "error", err)
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.logger.Errorw("installation_key_save_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to store key file"})
	}

	taskID, err := h.service.Start(req.ToDomain(services.NewTaskID(), keyPath))
	if err != nil {
		if rmErr := h.keyFiles.Remove(keyPath); rmErr != nil {
			h.logger.Warnw("installation_key_remove_failed", "path", keyPath, "error", rmErr)
		}
		if errors.Is(err, services.ErrInvalidRequest) {
			h.logger.Warnw("installation_bad_request", "error", err)
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		if errors.Is(err, services.ErrShuttingDown) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.logger.Errorw("installation_start_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("installation_started", "task_id", taskID, "primary", req.PrimaryIP, "secondary", req.SecondaryIP)
	return c.Status(fiber.StatusAccepted).JSON(dto.InstallationResponse{
		TaskID:  taskID,
		Message: "Installation started",
	})
}

// GetTaskStatus always answers 200; unknown ids carry the not_found status.
func (h *InstallationHandler) GetTaskStatus(c *fiber.Ctx) error {
	taskID := c.Params("id")
	return c.JSON(dto.TaskToResponse(h.service.Status(taskID)))
}

func (h *InstallationHandler) CancelTask(c *fiber.Ctx) error {
	taskID := c.Params("id")
	if !h.service.Cancel(taskID) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: "task is not running",
		})
	}
	h.logger.Infow("installation_cancelled", "task_id", taskID)
	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{
		Message: "Cancellation requested",
	})
}

func (h *InstallationHandler) GetCatalog(c *fiber.Ctx) error {
	return c.JSON(dto.CatalogResponse{
		OSTypes:       h.catalog.OSTypes,
		MongoVersions: h.catalog.MongoVersions,
	})
}
