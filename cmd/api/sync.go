package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appLogger "github.com/trackbot/backend/pkg/logger"
)

func runSync(ctx context.Context, flushCache bool) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.coordinator.RunNow(ctx)
	if err != nil {
		return fmt.Errorf("index sync failed: %w", err)
	}
	appLogger.Info("Index synchronized", zap.Int("synced", n))

	if flushCache {
		if a.cache == nil {
			appLogger.Warn("Embedding cache flush requested but Redis is not enabled")
			return nil
		}
		removed, err := a.cache.FlushEmbeddings(ctx)
		if err != nil {
			return fmt.Errorf("failed to flush embedding cache: %w", err)
		}
		appLogger.Info("Embedding cache flushed", zap.Int("removed", removed))
	}

	return nil
}
