package llm

import (
	"context"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/metrics"
	"github.com/trackbot/backend/pkg/circuitbreaker"
	"github.com/trackbot/backend/pkg/logger"
	"github.com/trackbot/backend/pkg/retry"
)

const assistantSystemPrompt = `You are a project-tracking assistant. You answer questions about requirements,
defects, releases, notes and retrospective items of software projects.

Rules:
1. Answer ONLY from the records provided in the context
2. Mention item identifiers (e.g. REQ-1A2B3C4D, DEF-9F8E7D6C) when you refer to an item
3. If the context does not contain the answer, say so plainly
4. Be concise; use short bullet lists for several items`

type Options struct {
	APIKey          string
	BaseURL         string
	Model           string
	ClassifierModel string
	EmbeddingModel  string
	Temperature     float32
	MaxTokens       int
	Timeout         time.Duration
}

type Client struct {
	client          *openai.Client
	model           string
	classifierModel string
	embeddingModel  string
	temperature     float32
	maxTokens       int
	timeout         time.Duration
	chatBreaker     *circuitbreaker.CircuitBreaker
	embedBreaker    *circuitbreaker.CircuitBreaker
	retryConfig     retry.Config
}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.ClassifierModel == "" {
		opts.ClassifierModel = opts.Model
	}

	breakerConfig := circuitbreaker.Config{
		MaxRequests:      2,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        tripsBreaker,
		Logger:           logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", opts.Model),
		zap.String("classifier_model", opts.ClassifierModel),
		zap.String("embedding_model", opts.EmbeddingModel),
	)

	return &Client{
		client:          openai.NewClientWithConfig(cfg),
		model:           opts.Model,
		classifierModel: opts.ClassifierModel,
		embeddingModel:  opts.EmbeddingModel,
		temperature:     opts.Temperature,
		maxTokens:       opts.MaxTokens,
		timeout:         opts.Timeout,
		chatBreaker:     circuitbreaker.NewCircuitBreaker("llm-chat", breakerConfig),
		embedBreaker:    circuitbreaker.NewCircuitBreaker("llm-embeddings", breakerConfig),
		retryConfig: retry.Config{
			MaxAttempts:     3,
			InitialDelay:    500 * time.Millisecond,
			MaxDelay:        5 * time.Second,
			Multiplier:      2.0,
			JitterFraction:  0.1,
			RetryableErrors: []error{ErrUnavailable},
			Logger:          logger.GetLogger(),
		},
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
	}

	var result *CompletionResponse

	err := c.chatBreaker.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return classifyError("failed to create completion", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))

		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		return nil
	})
	if err != nil {
		return nil, classifyError("completion", err)
	}

	logger.Debug("LLM completion generated",
		zap.String("model", model),
		zap.Int("total_tokens", result.Usage.TotalTokens),
	)
	return result, nil
}

// Classify sends the taxonomy prompt to the classifier model. Failures are not
// retried: a rate limit is surfaced to the user instead.
func (c *Client) Classify(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		Model:        c.classifierModel,
		SystemPrompt: "You classify messages for a project-tracking assistant. Reply with a single JSON object.",
		UserPrompt:   prompt,
		Temperature:  0.01,
		MaxTokens:    300,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Generate answers a prompt that already embeds the retrieved records.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var content string
	err := retry.Do(ctx, c.retryConfig, func() error {
		resp, err := c.Complete(ctx, CompletionRequest{
			SystemPrompt: assistantSystemPrompt,
			UserPrompt:   prompt,
		})
		if err != nil {
			return err
		}
		content = resp.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	logger.Info("Response generated", zap.Int("response_length", len(content)))
	return content, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request. Rate-limit responses come back as
// ErrRateLimited; retrying is left to the caller.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embeddings [][]float32
	err := c.embedBreaker.Execute(ctx, func() error {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		if err != nil {
			return classifyError("failed to generate embeddings", err)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
		}

		sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = data.Embedding
		}

		metrics.LLMTokensUsed.WithLabelValues(c.embeddingModel, "embedding").Add(float64(resp.Usage.TotalTokens))
		return nil
	})
	if err != nil {
		return nil, classifyError("embeddings", err)
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}
