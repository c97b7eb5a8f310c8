package validation

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LocalsKey is where the validated chat body is stored for the handler.
const LocalsKey = "chat_request"

const DefaultMaxMessageLength = 2000

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	ErrUnsafeContent  = errors.New("invalid message content")
)

var errorReplies = map[error]string{
	ErrEmptyMessage:   "Message is required",
	ErrMessageTooLong: "Message exceeds maximum length",
	ErrUnsafeContent:  "Invalid message content",
}

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

// ChatBody is the inbound chat message.
type ChatBody struct {
	Message        string `json:"message"`
	ProjectContext string `json:"projectContext,omitempty"`
}

type Config struct {
	MaxMessageLength int
	Logger           *zap.Logger
}

// ChatMiddleware validates POST chat bodies and stores a sanitized ChatBody in Locals.
func ChatMiddleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.Contains(ct, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var body ChatBody
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "Invalid JSON format",
				"details": err.Error(),
			})
		}

		body, err := Check(body, cfg.MaxMessageLength)
		if err != nil {
			if errors.Is(err, ErrUnsafeContent) {
				cfg.Logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()))
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": Reply(err),
			})
		}

		c.Locals(LocalsKey, body)
		return c.Next()
	}
}

// Check sanitizes a chat body and reports the first rule it breaks.
func Check(body ChatBody, maxLength int) (ChatBody, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}

	body.Message = sanitizeString(body.Message)
	body.ProjectContext = sanitizeString(body.ProjectContext)

	switch {
	case body.Message == "":
		return body, ErrEmptyMessage
	case utf8.RuneCountInString(body.Message) > maxLength:
		return body, ErrMessageTooLong
	case containsXSS(body.Message) || containsXSS(body.ProjectContext):
		return body, ErrUnsafeContent
	}
	return body, nil
}

// Reply is the client-facing text for an error returned by Check.
func Reply(err error) string {
	if msg, ok := errorReplies[err]; ok {
		return msg
	}
	return "Invalid message"
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
