package query

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/intent"
	"github.com/trackbot/backend/internal/metrics"
	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/pkg/logger"
)

// ErrInternal marks an unexpected failure while handling a message.
var ErrInternal = errors.New("internal error while processing message")

// InternalErrorReply is what callers show the user for ErrInternal.
const InternalErrorReply = "I encountered an error while processing your message. Please try again."

type Resolver interface {
	Resolve(ctx context.Context, msg intent.Message) (*intent.Resolution, error)
}

type History interface {
	InsertChatRecord(ctx context.Context, record *models.ChatRecord) error
}

type Engine struct {
	resolver Resolver
	executor *Executor
	history  History
}

type ChatRequest struct {
	Message        string
	ProjectContext string
	UserID         string
}

type ChatResponse struct {
	ID        string
	Reply     string
	Intent    string
	LatencyMS int
}

func NewEngine(resolver Resolver, executor *Executor, history History) *Engine {
	return &Engine{
		resolver: resolver,
		executor: executor,
		history:  history,
	}
}

// ProcessMessage resolves and executes one chat message. Expected failures are
// part of the reply; only a panic yields an error, wrapping ErrInternal.
func (e *Engine) ProcessMessage(ctx context.Context, req ChatRequest) (resp *ChatResponse, err error) {
	start := time.Now()
	id := uuid.New().String()
	label := "unresolved"

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while processing message",
				zap.String("message_id", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			metrics.MessagesTotal.WithLabelValues(label, "error").Inc()
			resp, err = nil, fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	logger.Info("Processing message",
		zap.String("message_id", id),
		zap.String("user_id", req.UserID),
		zap.String("project_context", req.ProjectContext),
	)

	msg := intent.Message{Text: req.Message, ProjectContext: req.ProjectContext}

	var reply string
	res, rerr := e.resolver.Resolve(ctx, msg)
	var cerr *intent.ClassifierError
	switch {
	case errors.As(rerr, &cerr):
		label = "classifier_" + string(cerr.Kind)
		reply = cerr.Reply()
	case rerr != nil:
		label = "classifier_other"
		logger.Error("Intent resolution failed", zap.Error(rerr))
		reply = (&intent.ClassifierError{Kind: intent.KindOther, Err: rerr}).Reply()
	default:
		label = string(res.Intent)
		if res.Answered() {
			label = "canned"
		}
		reply = e.executor.Execute(ctx, msg, res)
	}

	latency := time.Since(start)
	metrics.MessageDuration.WithLabelValues(label).Observe(latency.Seconds())
	metrics.MessagesTotal.WithLabelValues(label, "ok").Inc()

	resp = &ChatResponse{
		ID:        id,
		Reply:     reply,
		Intent:    label,
		LatencyMS: int(latency.Milliseconds()),
	}
	e.record(ctx, req, resp)

	logger.Info("Message processed",
		zap.String("message_id", id),
		zap.String("intent", label),
		zap.Int("latency_ms", resp.LatencyMS),
	)
	return resp, nil
}

func (e *Engine) record(ctx context.Context, req ChatRequest, resp *ChatResponse) {
	if e.history == nil {
		return
	}
	err := e.history.InsertChatRecord(ctx, &models.ChatRecord{
		ID:        resp.ID,
		UserID:    req.UserID,
		Message:   req.Message,
		Intent:    resp.Intent,
		Reply:     resp.Reply,
		LatencyMS: resp.LatencyMS,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to store chat record", zap.String("message_id", resp.ID), zap.Error(err))
	}
}
