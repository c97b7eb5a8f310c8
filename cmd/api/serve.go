package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/api/handlers"
	"github.com/trackbot/backend/internal/metrics"
	"github.com/trackbot/backend/internal/middleware/ratelimit"
	"github.com/trackbot/backend/internal/middleware/security"
	"github.com/trackbot/backend/internal/middleware/validation"
	"github.com/trackbot/backend/internal/transport"
	appLogger "github.com/trackbot/backend/pkg/logger"
)

func runServe(ctx context.Context) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting trackbot API server")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Sync.OnStartup {
		a.coordinator.RunAfter(0)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.GetLogger(),
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	chatHandler := handlers.NewChatHandler(a.engine, a.store)
	syncHandler := handlers.NewSyncHandler(a.coordinator)
	wsHandler := handlers.NewWebSocketHandler(a.engine, cfg.Server.MaxMessageLength)

	api := app.Group("/api/v1")

	api.Post("/chat",
		limiter.Middleware(),
		validation.ChatMiddleware(validation.Config{
			MaxMessageLength: cfg.Server.MaxMessageLength,
			Logger:           appLogger.GetLogger(),
		}),
		chatHandler.HandleChat,
	)
	api.Get("/chat/history", chatHandler.GetHistory)

	api.Post("/sync", syncHandler.HandleSync)
	api.Post("/sync/schedule", syncHandler.HandleSchedule)
	api.Get("/sync/status", syncHandler.GetStatus)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
			"sync":   a.coordinator.Status(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", limiter.Middleware(), websocket.New(wsHandler.HandleConnection))

	if cfg.NATS.Enabled {
		nt, err := transport.NewNATSTransport(transport.Config{
			URL:            cfg.NATS.URL,
			Name:           "trackbot",
			ChangeSubject:  cfg.NATS.ChangeSubject,
			RequestSubject: cfg.NATS.RequestSubject,
			QueueGroup:     cfg.NATS.QueueGroup,
			RequestTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		}, a.engine, a.coordinator)
		if err != nil {
			return err
		}
		defer nt.Close()

		if err := nt.Start(); err != nil {
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
	return nil
}
