package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/middleware/validation"
	"github.com/trackbot/backend/internal/query"
	"github.com/trackbot/backend/pkg/logger"
)

type WebSocketHandler struct {
	processor        MessageProcessor
	maxMessageLength int
}

func NewWebSocketHandler(processor MessageProcessor, maxMessageLength int) *WebSocketHandler {
	return &WebSocketHandler{
		processor:        processor,
		maxMessageLength: maxMessageLength,
	}
}

type wsMessage struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ProjectContext string `json:"projectContext,omitempty"`
	UserID         string `json:"user_id"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "chat" {
			continue
		}

		msg, err := h.checkMessage(msg)
		if err != nil {
			logger.Warn("Rejected WebSocket chat message", zap.Error(err))
			h.sendError(c, validation.Reply(err))
			continue
		}

		if err := h.streamReply(c, msg); err != nil {
			logger.Error("Failed to stream reply", zap.Error(err))
			h.sendError(c, query.InternalErrorReply)
		}
	}
}

// checkMessage applies the same body rules as the HTTP chat endpoint.
func (h *WebSocketHandler) checkMessage(msg wsMessage) (wsMessage, error) {
	body, err := validation.Check(validation.ChatBody{
		Message:        msg.Message,
		ProjectContext: msg.ProjectContext,
	}, h.maxMessageLength)
	if err != nil {
		return msg, err
	}
	msg.Message, msg.ProjectContext = body.Message, body.ProjectContext
	return msg, nil
}

func (h *WebSocketHandler) streamReply(c *websocket.Conn, msg wsMessage) error {
	if err := h.send(c, map[string]any{"type": "status", "content": "Thinking..."}); err != nil {
		return err
	}

	resp, err := h.processor.ProcessMessage(context.Background(), query.ChatRequest{
		Message:        msg.Message,
		ProjectContext: msg.ProjectContext,
		UserID:         msg.UserID,
	})
	if err != nil {
		return err
	}

	for _, chunk := range splitIntoChunks(resp.Reply) {
		if err := h.send(c, map[string]any{"type": "chunk", "content": chunk}); err != nil {
			return err
		}
	}

	return h.send(c, map[string]any{
		"type":       "complete",
		"message_id": resp.ID,
		"intent":     resp.Intent,
		"latency_ms": resp.LatencyMS,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msg map[string]any) error {
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(map[string]any{"type": "error", "error": errorMsg}); err != nil {
		logger.Debug("Failed to send WebSocket error", zap.Error(err))
	}
}

// splitIntoChunks splits text into words keeping their trailing space, with
// newlines emitted as their own chunk. Concatenating the chunks gives back the
// text with runs of spaces collapsed.
func splitIntoChunks(text string) []string {
	var chunks []string
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		words := strings.Fields(line)
		for j, w := range words {
			if j < len(words)-1 {
				w += " "
			}
			chunks = append(chunks, w)
		}
		if i < len(lines)-1 {
			chunks = append(chunks, "\n")
		}
	}
	return chunks
}
