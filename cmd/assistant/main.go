package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/samber/do/v2"
	slogmulti "github.com/samber/slog-multi"

	"tg-assistant/internal/di"
	telegramInfra "tg-assistant/internal/infra/telegram"
	healthService "tg-assistant/internal/modules/health/service"
	"tg-assistant/internal/shared/config"
	httpServer "tg-assistant/internal/transport/http"
	telegramHandler "tg-assistant/internal/transport/telegram"
)

func main() {
	// Structured logging: text to stdout, errors as JSON to stderr.
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})
	logger := slog.New(slogmulti.Fanout(textHandler, jsonHandler))
	slog.SetDefault(logger)

	injector, err := di.Setup()
	if err != nil {
		slog.Error("Failed to setup dependency injection", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := di.Shutdown(injector); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		slog.Error("Assistant disabled: configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	platform := do.MustInvoke[*telegramInfra.Client](injector)
	platform.Start(ctx)

	b := do.MustInvoke[*bot.Bot](injector)
	handler := do.MustInvoke[*telegramHandler.Handler](injector)
	handler.RegisterMenu(ctx, b)

	health := do.MustInvoke[*healthService.Service](injector)
	go health.Run(ctx)

	server := do.MustInvoke[*httpServer.Server](injector)
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("Failed to start HTTP server", "error", err)
		}
	}()

	slog.Info("Assistant started",
		"chats", len(cfg.Chats), "http_port", cfg.HTTPPort)

	// Blocks polling for commands until the context is cancelled.
	b.Start(ctx)

	slog.Info("Shutting down...")
}
