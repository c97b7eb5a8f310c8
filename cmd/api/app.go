package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/cache/redis"
	"github.com/trackbot/backend/internal/external"
	"github.com/trackbot/backend/internal/indexsync"
	"github.com/trackbot/backend/internal/intent"
	"github.com/trackbot/backend/internal/llm"
	"github.com/trackbot/backend/internal/query"
	"github.com/trackbot/backend/internal/storage/sqlite"
	"github.com/trackbot/backend/internal/vector/zilliz"
	"github.com/trackbot/backend/pkg/config"
	appLogger "github.com/trackbot/backend/pkg/logger"
)

// app holds the wired components and closes them in reverse order.
type app struct {
	cfg         *config.Config
	store       *sqlite.Client
	index       *zilliz.Client
	cache       *redis.Client
	llm         *llm.Client
	coordinator *indexsync.Coordinator
	engine      *query.Engine
	closers     []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if err := store.InitSchema(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	index, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create Zilliz client: %w", err)
	}
	a.index = index
	a.closers = append(a.closers, index.Close)

	a.llm = llm.NewClient(llm.Options{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		ClassifierModel: cfg.LLM.ClassifierModel,
		EmbeddingModel:  cfg.LLM.EmbeddingModel,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		Timeout:         time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	var queryEmbedder query.Embedder = a.llm
	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, query embeddings will not be cached", zap.Error(err))
		} else {
			a.cache = cache
			a.closers = append(a.closers, cache.Close)
			queryEmbedder = redis.NewCachedEmbedder(cache, a.llm, cfg.LLM.EmbeddingModel, cfg.Redis.TTL())
		}
	}

	syncEngine := indexsync.NewEngine(store, a.llm, index,
		indexsync.WithDimension(cfg.Zilliz.VectorDim),
		indexsync.WithMetric(zilliz.MetricCosine),
		indexsync.WithBatchSize(cfg.Sync.BatchSize),
		indexsync.WithMaxAttempts(cfg.Sync.MaxAttempts),
	)
	a.coordinator = indexsync.NewCoordinator(syncEngine, cfg.Sync.Debounce())
	a.closers = append(a.closers, func() error {
		a.coordinator.Stop()
		return nil
	})

	loc, err := time.LoadLocation(cfg.Assistant.Timezone)
	if err != nil {
		appLogger.Warn("Unknown timezone, using local time", zap.String("timezone", cfg.Assistant.Timezone), zap.Error(err))
		loc = time.Local
	}

	externalClient := external.NewClient(external.Options{
		GeocodingURL:   cfg.External.GeocodingURL,
		WeatherURL:     cfg.External.WeatherURL,
		NamedayURL:     cfg.External.NamedayURL,
		NamedayCountry: cfg.Assistant.NamedayCountry,
		Timezone:       cfg.Assistant.Timezone,
		Timeout:        time.Duration(cfg.External.TimeoutSec) * time.Second,
	})

	executor := query.NewExecutor(query.Deps{
		Store:     store,
		Index:     index,
		Embedder:  queryEmbedder,
		Generator: a.llm,
		External:  externalClient,
		Syncer:    a.coordinator,
	}, query.Options{
		PageSize:    cfg.Assistant.PageSize,
		TopK:        cfg.Assistant.SearchTopK,
		DefaultCity: cfg.Assistant.DefaultCity,
		CreateDelay: cfg.Sync.CreateDelay(),
	})

	resolver := intent.NewResolver(a.llm, intent.WithLocation(loc))
	a.engine = query.NewEngine(resolver, executor, store)

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			appLogger.Warn("Failed to close component", zap.Error(err))
		}
	}
	a.closers = nil
}
