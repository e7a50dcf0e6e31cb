package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	collectorService "tg-assistant/internal/modules/collector/service"
	summaryRepo "tg-assistant/internal/modules/summary/repository"
	summaryService "tg-assistant/internal/modules/summary/service"
	"tg-assistant/internal/shared/config"
)

const maxMessageLength = 4096

// botAPI is the slice of the bot client the handler needs. *bot.Bot
// satisfies it; tests substitute a fake.
type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
}

// Handler routes bot commands to the collector and summarizer. Commands are
// serialized: one runs to completion before the next is considered.
type Handler struct {
	cfg         *config.Config
	collector   *collectorService.Service
	summarizer  *summaryService.Service
	summaryRepo summaryRepo.Repository
	logger      *slog.Logger

	mu sync.Mutex
}

// New creates a new command handler.
func New(cfg *config.Config, collector *collectorService.Service, summarizer *summaryService.Service, summaryRepo summaryRepo.Repository) *Handler {
	return &Handler{
		cfg:         cfg,
		collector:   collector,
		summarizer:  summarizer,
		summaryRepo: summaryRepo,
		logger:      slog.Default(),
	}
}

// RegisterCommands registers the command handlers on the bot. Handlers match
// in registration order, so the exact matchers go first: the /chat prefix
// would otherwise capture /chats.
func (h *Handler) RegisterCommands(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/summary", bot.MatchTypeExact, func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handleSummary(ctx, b, update)
	})
	b.RegisterHandler(bot.HandlerTypeMessageText, "/chats", bot.MatchTypeExact, func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handleListChats(ctx, b, update)
	})
	b.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handleHelp(ctx, b, update)
	})
	b.RegisterHandler(bot.HandlerTypeMessageText, "/chat", bot.MatchTypePrefix, func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handleChat(ctx, b, update)
	})
	b.RegisterHandler(bot.HandlerTypeMessageText, "/reset", bot.MatchTypePrefix, func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handleReset(ctx, b, update)
	})
}

// RegisterMenu publishes the command list to the Telegram client menu.
func (h *Handler) RegisterMenu(ctx context.Context, b *bot.Bot) {
	_, err := b.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: []models.BotCommand{
			{Command: "summary", Description: "Digest of unread messages"},
			{Command: "chat", Description: "Summary of one chat"},
			{Command: "chats", Description: "List monitored chats"},
			{Command: "reset", Description: "Reset checkpoint state"},
			{Command: "help", Description: "Command reference"},
		},
	})
	if err != nil {
		h.logger.Warn("Failed to register bot commands", "error", err)
	}
}

// authorized reports whether the update came from the configured chat.
// Everything else is silently ignored.
func (h *Handler) authorized(update *models.Update) bool {
	return update != nil && update.Message != nil &&
		update.Message.Chat.ID == h.cfg.AssistantChatID
}

func (h *Handler) handleSummary(ctx context.Context, b botAPI, update *models.Update) {
	if !h.authorized(update) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.send(ctx, b, "⏳ Collecting messages...", false)
	defer h.recoverTo(ctx, b, status)

	batches := h.collector.CollectAllUnread(ctx)
	if len(batches) == 0 {
		h.edit(ctx, b, status, "✅ No new messages", false)
		return
	}

	total := 0
	for _, batch := range batches {
		total += len(batch.Messages)
	}
	h.edit(ctx, b, status, fmt.Sprintf("🤖 Generating summary (%d messages)...", total), false)

	full := h.summarizer.GenerateFull(ctx, batches)
	h.edit(ctx, b, status, full.Aggregate, true)

	path, err := h.summaryRepo.Save(full)
	if err != nil {
		h.logger.Error("Failed to save summary", "error", err)
		return
	}
	h.logger.Info("Summary saved", "path", path)
}

func (h *Handler) handleChat(ctx context.Context, b botAPI, update *models.Update) {
	if !h.authorized(update) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		h.send(ctx, b,
			"Usage: /chat <name> [period]\n"+
				"Example: /chat Work 2d\n\n"+
				"Periods: 12h, 1d, 2d, 1w", false)
		return
	}

	name := parts[1]
	period := "1d"
	if len(parts) > 2 {
		period = parts[2]
	}

	chat, ok := h.cfg.GetChat(name)
	if !ok {
		var sb strings.Builder
		fmt.Fprintf(&sb, "❌ Chat %q not found.\n\nConfigured chats:\n", name)
		for _, n := range h.cfg.ChatNames() {
			fmt.Fprintf(&sb, "  • %s\n", n)
		}
		h.send(ctx, b, sb.String(), false)
		return
	}

	status := h.send(ctx, b,
		fmt.Sprintf("⏳ Collecting messages from %s for %s...", chat.DisplayName, period), false)
	defer h.recoverTo(ctx, b, status)

	messages := h.collector.FetchForPeriod(ctx, chat, period)
	if len(messages) == 0 {
		h.edit(ctx, b, status,
			fmt.Sprintf("✅ No messages in %s for %s", chat.DisplayName, period), false)
		return
	}

	h.edit(ctx, b, status, fmt.Sprintf("🤖 Generating summary (%d messages)...", len(messages)), false)

	summary := h.summarizer.SummarizeChat(ctx, chat, messages)
	h.edit(ctx, b, status,
		fmt.Sprintf("<b>%s</b> (%d msg)\n\n%s", summary.ChatName, summary.MessageCount, summary.Summary), true)
}

func (h *Handler) handleListChats(ctx context.Context, b botAPI, update *models.Update) {
	if !h.authorized(update) {
		return
	}

	if len(h.cfg.Chats) == 0 {
		h.send(ctx, b, "No chats configured. Edit the config file.", false)
		return
	}

	var sb strings.Builder
	sb.WriteString("<b>Monitored chats:</b>\n\n")
	for _, chat := range h.cfg.Chats {
		fmt.Fprintf(&sb, "%s <b>%s</b> (%s)\n", chat.Priority.Icon(), chat.DisplayName, chat.Label())
	}
	h.send(ctx, b, sb.String(), true)
}

func (h *Handler) handleReset(ctx context.Context, b botAPI, update *models.Update) {
	if !h.authorized(update) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	name := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/reset"))

	if err := h.collector.ResetState(name); err != nil {
		h.logger.Error("Failed to reset state", "chat", name, "error", err)
		h.send(ctx, b, "❌ Failed to reset state: "+shortError(err), false)
		return
	}

	if name != "" {
		h.send(ctx, b, "✅ State reset for: "+name, false)
	} else {
		h.send(ctx, b, "✅ State reset for all chats", false)
	}
}

func (h *Handler) handleHelp(ctx context.Context, b botAPI, update *models.Update) {
	if !h.authorized(update) {
		return
	}

	h.send(ctx, b,
		"<b>Personal Assistant Commands</b>\n\n"+
			"/summary - digest of unread messages\n"+
			"/chat <name> [period] - summary of one chat\n"+
			"/chats - list monitored chats\n"+
			"/reset [name] - reset checkpoint state\n"+
			"/help - this reference\n\n"+
			"<i>Period examples: 12h, 1d, 2d, 1w</i>", true)
}

// send posts a message to the configured chat and returns its id so a later
// edit can replace it. A send failure is logged and returns zero.
func (h *Handler) send(ctx context.Context, b botAPI, text string, html bool) int {
	params := &bot.SendMessageParams{
		ChatID:             h.cfg.AssistantChatID,
		Text:               truncate(text),
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	}
	if html {
		params.ParseMode = models.ParseModeHTML
	}

	msg, err := b.SendMessage(ctx, params)
	if err != nil {
		h.logger.Error("Failed to send message", "error", err)
		return 0
	}
	return msg.ID
}

// edit replaces a previously sent status message in place. When there is no
// status message to edit it degrades to sending a new one.
func (h *Handler) edit(ctx context.Context, b botAPI, messageID int, text string, html bool) {
	if messageID == 0 {
		h.send(ctx, b, text, html)
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:             h.cfg.AssistantChatID,
		MessageID:          messageID,
		Text:               truncate(text),
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	}
	if html {
		params.ParseMode = models.ParseModeHTML
	}

	if _, err := b.EditMessageText(ctx, params); err != nil {
		h.logger.Error("Failed to edit message", "message_id", messageID, "error", err)
	}
}

// recoverTo converts a panicking command handler into a short error edit on
// the status message, so the polling loop never dies with the command.
func (h *Handler) recoverTo(ctx context.Context, b botAPI, statusID int) {
	if r := recover(); r != nil {
		h.logger.Error("Command handler panicked", "panic", r)
		h.edit(ctx, b, statusID, fmt.Sprintf("❌ Error: %v", r), false)
	}
}

// truncate cuts text to the Telegram message limit on a rune boundary.
func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return text
	}
	return string([]rune(text)[:maxMessageLength])
}

func shortError(err error) string {
	msg := err.Error()
	if utf8.RuneCountInString(msg) > 200 {
		msg = string([]rune(msg)[:200]) + "..."
	}
	return msg
}
