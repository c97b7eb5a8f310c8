package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/query"
	"github.com/trackbot/backend/pkg/logger"
)

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req query.ChatRequest) (*query.ChatResponse, error)
}

type Scheduler interface {
	Schedule()
}

type Config struct {
	URL            string
	Name           string
	ChangeSubject  string
	RequestSubject string
	QueueGroup     string
	RequestTimeout time.Duration
}

// ChatRequest is the request/reply payload on the request subject.
type ChatRequest struct {
	Message        string `json:"message"`
	ProjectContext string `json:"projectContext,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

type ChatReply struct {
	ID      string `json:"id,omitempty"`
	Reply   string `json:"reply,omitempty"`
	Intent  string `json:"intent,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// NATSTransport schedules index syncs on tracker change notifications and
// answers chat requests from other services.
type NATSTransport struct {
	conn      *nats.Conn
	cfg       Config
	processor MessageProcessor
	scheduler Scheduler
	subs      []*nats.Subscription
}

func NewNATSTransport(cfg Config, processor MessageProcessor, scheduler Scheduler) (*NATSTransport, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.URL))

	return &NATSTransport{
		conn:      conn,
		cfg:       cfg,
		processor: processor,
		scheduler: scheduler,
	}, nil
}

func (t *NATSTransport) Start() error {
	if t.cfg.ChangeSubject != "" {
		sub, err := t.conn.Subscribe(t.cfg.ChangeSubject, func(*nats.Msg) {
			t.scheduler.Schedule()
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", t.cfg.ChangeSubject, err)
		}
		t.subs = append(t.subs, sub)
		logger.Info("Subscribed to change notifications", zap.String("subject", t.cfg.ChangeSubject))
	}

	if t.cfg.RequestSubject != "" {
		sub, err := t.conn.QueueSubscribe(t.cfg.RequestSubject, t.cfg.QueueGroup, t.handleChatRequest)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", t.cfg.RequestSubject, err)
		}
		t.subs = append(t.subs, sub)
		logger.Info("Subscribed to chat requests",
			zap.String("subject", t.cfg.RequestSubject),
			zap.String("queue", t.cfg.QueueGroup),
		)
	}

	return nil
}

func (t *NATSTransport) handleChatRequest(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
	defer cancel()

	data, err := json.Marshal(answer(ctx, t.processor, msg.Data))
	if err != nil {
		logger.Error("Failed to marshal chat reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		logger.Error("Failed to send chat reply", zap.Error(err))
	}
}

func answer(ctx context.Context, processor MessageProcessor, data []byte) ChatReply {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ChatReply{Error: "Invalid request format", Details: err.Error()}
	}
	if req.Message == "" {
		return ChatReply{Error: "Message is required"}
	}

	resp, err := processor.ProcessMessage(ctx, query.ChatRequest{
		Message:        req.Message,
		ProjectContext: req.ProjectContext,
		UserID:         req.UserID,
	})
	if err != nil {
		logger.Error("Failed to process NATS chat request", zap.Error(err))
		details := err.Error()
		if errors.Is(err, query.ErrInternal) {
			details = query.InternalErrorReply
		}
		return ChatReply{Error: "Failed to process message", Details: details}
	}

	return ChatReply{ID: resp.ID, Reply: resp.Reply, Intent: resp.Intent}
}

func (t *NATSTransport) Close() error {
	for _, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	if t.conn != nil {
		if err := t.conn.Drain(); err != nil {
			t.conn.Close()
		}
		logger.Info("NATS connection closed")
	}
	return nil
}
