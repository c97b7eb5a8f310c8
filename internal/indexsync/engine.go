// Package indexsync rebuilds the vector index from the relational store and
// schedules rebuilds after writes.
package indexsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trackbot/backend/internal/llm"
	"github.com/trackbot/backend/internal/metrics"
	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/internal/vector/zilliz"
	"github.com/trackbot/backend/pkg/logger"
	"github.com/trackbot/backend/pkg/retry"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 5
	DefaultDimension   = 1536
)

// Source reads every record kind that is indexed.
type Source interface {
	ListRequirements(ctx context.Context) ([]models.Requirement, error)
	ListDefects(ctx context.Context) ([]models.Defect, error)
	ListNotes(ctx context.Context) ([]models.Note, error)
	ListRetroItems(ctx context.Context) ([]models.RetroItem, error)
	ListReleases(ctx context.Context) ([]models.Release, error)
}

// Embedder embeds a batch of texts. Rate limiting is reported as llm.ErrRateLimited.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorIndex interface {
	DropCollection(ctx context.Context) error
	CreateCollection(ctx context.Context, dim int, metric zilliz.Metric) error
	CreatePayloadIndex(ctx context.Context, field string) error
	Load(ctx context.Context) error
	Upsert(ctx context.Context, docs []zilliz.Document) error
}

type Engine struct {
	source    Source
	embedder  Embedder
	index     VectorIndex
	dimension int
	metric    zilliz.Metric
	batchSize int
	retry     retry.Config
}

type Option func(*Engine)

func WithDimension(dim int) Option {
	return func(e *Engine) {
		if dim > 0 {
			e.dimension = dim
		}
	}
}

func WithMetric(m zilliz.Metric) Option {
	return func(e *Engine) { e.metric = m }
}

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retry.MaxAttempts = n
		}
	}
}

// WithBackoff replaces the wait between embedding attempts.
func WithBackoff(b retry.Backoff) Option {
	return func(e *Engine) { e.retry.Backoff = b }
}

func NewEngine(source Source, embedder Embedder, index VectorIndex, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		embedder:  embedder,
		index:     index,
		dimension: DefaultDimension,
		metric:    zilliz.MetricCosine,
		batchSize: DefaultBatchSize,
		retry: retry.Config{
			MaxAttempts:     DefaultMaxAttempts,
			RetryableErrors: []error{llm.ErrRateLimited},
			Backoff:         retry.PowerOfTwoBackoff(time.Second, time.Second),
			OnRetry: func(int, error) {
				metrics.EmbeddingRetries.Inc()
			},
			Logger: logger.GetLogger(),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rebuild recreates the collection and repopulates it from the source. It
// returns the number of documents written.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	start := time.Now()
	logger.Info("Index rebuild started")

	snap, err := e.readSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	docs := snap.Documents()

	if err := e.recreate(ctx); err != nil {
		return 0, err
	}

	written := 0
	for from := 0; from < len(docs); from += e.batchSize {
		to := min(from+e.batchSize, len(docs))
		batch := docs[from:to]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Text
		}

		vectors, err := e.embedWithRetry(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("failed to embed batch %d-%d: %w", from, to, err)
		}
		if len(vectors) != len(batch) {
			return written, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := e.index.Upsert(ctx, batch); err != nil {
			return written, fmt.Errorf("failed to upsert batch %d-%d: %w", from, to, err)
		}
		written += len(batch)

		logger.Debug("Batch indexed", zap.Int("from", from), zap.Int("to", to))
	}

	metrics.DocumentsIndexed.Set(float64(written))
	logger.Info("Index rebuild completed",
		zap.Int("documents", written),
		zap.Int("requirements", len(snap.Requirements)),
		zap.Int("defects", len(snap.Defects)),
		zap.Int("notes", len(snap.Notes)),
		zap.Int("retro_items", len(snap.RetroItems)),
		zap.Int("releases", len(snap.Releases)),
		zap.Duration("duration", time.Since(start)),
	)
	return written, nil
}

// readSnapshot reads the five record kinds concurrently.
func (e *Engine) readSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.Requirements, err = e.source.ListRequirements(gctx)
		return wrap("requirements", err)
	})
	g.Go(func() (err error) {
		snap.Defects, err = e.source.ListDefects(gctx)
		return wrap("defects", err)
	})
	g.Go(func() (err error) {
		snap.Notes, err = e.source.ListNotes(gctx)
		return wrap("notes", err)
	})
	g.Go(func() (err error) {
		snap.RetroItems, err = e.source.ListRetroItems(gctx)
		return wrap("retro items", err)
	})
	g.Go(func() (err error) {
		snap.Releases, err = e.source.ListReleases(gctx)
		return wrap("releases", err)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// recreate drops the collection, then creates, indexes and loads it, in that order.
func (e *Engine) recreate(ctx context.Context) error {
	if err := e.index.DropCollection(ctx); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	if err := e.index.CreateCollection(ctx, e.dimension, e.metric); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	for _, field := range zilliz.IndexedFields {
		if err := e.index.CreatePayloadIndex(ctx, field); err != nil {
			return fmt.Errorf("failed to index %s: %w", field, err)
		}
	}
	if err := e.index.Load(ctx); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// embedWithRetry retries only on rate limiting, waiting 2^n seconds plus jitter.
func (e *Engine) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.DoWithResult(ctx, e.retry, func() ([][]float32, error) {
		return e.embedder.EmbedBatch(ctx, texts)
	})
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", what, err)
	}
	return nil
}
