package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/trackbot/backend/internal/metrics"
	"github.com/trackbot/backend/pkg/config"
	appLogger "github.com/trackbot/backend/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "trackbot",
		Short:         "Project-tracking chat assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(serveCMD(), syncCMD())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "trackbot: %v\n", err)
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and NATS chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func syncCMD() *cobra.Command {
	var flushCache bool
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the vector index once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), flushCache)
		},
	}
	sync.Flags().BoolVar(&flushCache, "flush-cache", false, "drop cached query embeddings after the rebuild")
	return sync
}

// bootstrap loads .env, config, logging and metrics shared by every command.
func bootstrap() (*config.Config, error) {
	// .env is optional outside development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	metrics.Init()
	return cfg, nil
}
