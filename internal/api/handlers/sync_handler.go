package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/indexsync"
	"github.com/trackbot/backend/pkg/logger"
)

type Syncer interface {
	RunNow(ctx context.Context) (int, error)
	Schedule()
	Status() indexsync.Status
}

type SyncHandler struct {
	syncer Syncer
}

func NewSyncHandler(syncer Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

// HandleSync rebuilds the vector index synchronously.
func (h *SyncHandler) HandleSync(c *fiber.Ctx) error {
	n, err := h.syncer.RunNow(c.UserContext())
	if errors.Is(err, indexsync.ErrSyncInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "Index sync already running",
			"details": err.Error(),
		})
	}
	if err != nil {
		logger.Error("Index sync failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Index sync failed",
			"details": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Index synchronized",
		"synced":  n,
	})
}

func (h *SyncHandler) HandleSchedule(c *fiber.Ctx) error {
	h.syncer.Schedule()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Index sync scheduled",
	})
}

func (h *SyncHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.syncer.Status())
}
