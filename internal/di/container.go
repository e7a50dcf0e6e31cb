package di

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/samber/do/v2"
	"github.com/samber/oops"

	openaiInfra "tg-assistant/internal/infra/openai"
	telegramInfra "tg-assistant/internal/infra/telegram"
	collectorRepo "tg-assistant/internal/modules/collector/repository"
	collectorService "tg-assistant/internal/modules/collector/service"
	feedService "tg-assistant/internal/modules/feed/service"
	healthService "tg-assistant/internal/modules/health/service"
	summaryRepo "tg-assistant/internal/modules/summary/repository"
	summaryService "tg-assistant/internal/modules/summary/service"
	"tg-assistant/internal/shared/config"
	httpServer "tg-assistant/internal/transport/http"
	telegramHandler "tg-assistant/internal/transport/telegram"
)

// Setup initializes the dependency injection container.
func Setup() (do.Injector, error) {
	injector := do.New()

	// Config
	do.Provide(injector, func(i do.Injector) (*config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, oops.With("context", "failed to load config").Wrap(err)
		}
		return cfg, nil
	})

	// Checkpoint state repository
	do.Provide(injector, func(i do.Injector) (collectorRepo.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo, err := collectorRepo.NewFileStorage(cfg.DataDir)
		if err != nil {
			return nil, oops.With("data_dir", cfg.DataDir, "context", "failed to initialize state repository").Wrap(err)
		}
		return repo, nil
	})

	// Summary artifact repository
	do.Provide(injector, func(i do.Injector) (summaryRepo.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo, err := summaryRepo.NewFileStorage(cfg.DataDir)
		if err != nil {
			return nil, oops.With("data_dir", cfg.DataDir, "context", "failed to initialize summary repository").Wrap(err)
		}
		return repo, nil
	})

	// Platform client (gotd user client)
	do.Provide(injector, func(i do.Injector) (*telegramInfra.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return telegramInfra.New(cfg), nil
	})

	// Completion client
	do.Provide(injector, func(i do.Injector) (*openaiInfra.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client, err := openaiInfra.New(cfg)
		if err != nil {
			return nil, oops.With("context", "failed to create completion client").Wrap(err)
		}
		return client, nil
	})

	// Collector service
	do.Provide(injector, func(i do.Injector) (*collectorService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		platform := do.MustInvoke[*telegramInfra.Client](i)
		stateRepo := do.MustInvoke[collectorRepo.Repository](i)
		return collectorService.New(cfg, platform, stateRepo), nil
	})

	// Summarizer service
	do.Provide(injector, func(i do.Injector) (*summaryService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		completer := do.MustInvoke[*openaiInfra.Client](i)
		return summaryService.New(cfg, completer), nil
	})

	// Feed service
	do.Provide(injector, func(i do.Injector) (*feedService.Service, error) {
		repo := do.MustInvoke[summaryRepo.Repository](i)
		return feedService.New(repo), nil
	})

	// Command handler
	do.Provide(injector, func(i do.Injector) (*telegramHandler.Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		collector := do.MustInvoke[*collectorService.Service](i)
		summarizer := do.MustInvoke[*summaryService.Service](i)
		repo := do.MustInvoke[summaryRepo.Repository](i)
		return telegramHandler.New(cfg, collector, summarizer, repo), nil
	})

	// HTTP server
	do.Provide(injector, func(i do.Injector) (*httpServer.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		feeds := do.MustInvoke[*feedService.Service](i)
		return httpServer.New(cfg, feeds), nil
	})

	// Bot
	do.Provide(injector, func(i do.Injector) (*bot.Bot, error) {
		cfg := do.MustInvoke[*config.Config](i)
		handler := do.MustInvoke[*telegramHandler.Handler](i)

		b, err := bot.New(cfg.TelegramBotToken)
		if err != nil {
			return nil, oops.With("context", "failed to create telegram bot").Wrap(err)
		}
		handler.RegisterCommands(b)
		return b, nil
	})

	// Health monitor
	do.Provide(injector, func(i do.Injector) (*healthService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		platform := do.MustInvoke[*telegramInfra.Client](i)
		b := do.MustInvoke[*bot.Bot](i)
		notifier := telegramHandler.NewNotifier(b, cfg.AssistantChatID)
		interval := time.Duration(cfg.HealthCheckInterval) * time.Second
		return healthService.New(platform, notifier, interval), nil
	})

	return injector, nil
}

// Shutdown gracefully shuts down all services.
func Shutdown(injector do.Injector) error {
	ctx := context.Background()

	if b, err := do.Invoke[*bot.Bot](injector); err == nil && b != nil {
		b.Close(ctx)
	}
	return nil
}
