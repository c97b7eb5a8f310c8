package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/middleware/validation"
	"github.com/trackbot/backend/internal/query"
	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/pkg/logger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req query.ChatRequest) (*query.ChatResponse, error)
}

type HistoryReader interface {
	GetChatHistory(ctx context.Context, limit int) ([]models.ChatRecord, error)
}

type ChatHandler struct {
	processor MessageProcessor
	history   HistoryReader
}

func NewChatHandler(processor MessageProcessor, history HistoryReader) *ChatHandler {
	return &ChatHandler{
		processor: processor,
		history:   history,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	body, ok := c.Locals(validation.LocalsKey).(validation.ChatBody)
	if !ok {
		if err := c.BodyParser(&body); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
		}
	}

	if body.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	resp, err := h.processor.ProcessMessage(c.UserContext(), query.ChatRequest{
		Message:        body.Message,
		ProjectContext: body.ProjectContext,
		UserID:         c.Get("X-User-ID"),
	})
	if err != nil {
		logger.Error("Failed to process message", zap.Error(err))
		details := err.Error()
		if errors.Is(err, query.ErrInternal) {
			details = query.InternalErrorReply
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to process message",
			"details": details,
		})
	}

	return c.JSON(fiber.Map{
		"id":         resp.ID,
		"reply":      resp.Reply,
		"intent":     resp.Intent,
		"latency_ms": resp.LatencyMS,
	})
}

func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.GetChatHistory(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to load chat history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to load chat history",
			"details": err.Error(),
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":         r.ID,
			"user_id":    r.UserID,
			"message":    r.Message,
			"intent":     r.Intent,
			"reply":      r.Reply,
			"latency_ms": r.LatencyMS,
			"created_at": r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}
