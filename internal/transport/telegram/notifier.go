package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Notifier delivers out-of-band alerts (health transitions) to the
// configured chat, outside the command/status-message flow.
type Notifier struct {
	b      *bot.Bot
	chatID int64
}

// NewNotifier creates a notifier bound to the assistant chat.
func NewNotifier(b *bot.Bot, chatID int64) *Notifier {
	return &Notifier{b: b, chatID: chatID}
}

// Notify sends one HTML-formatted message.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	_, err := n.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      truncate(text),
		ParseMode: models.ParseModeHTML,
	})
	return err
}
