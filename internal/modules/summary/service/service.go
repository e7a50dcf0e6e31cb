package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	collectorDomain "tg-assistant/internal/modules/collector/domain"
	collectorService "tg-assistant/internal/modules/collector/service"
	"tg-assistant/internal/modules/summary/domain"
	"tg-assistant/internal/shared/config"
)

const (
	// promptMessageLimit bounds the number of formatted lines embedded in a
	// prompt. The reported message count still reflects the full batch.
	promptMessageLimit = 30
	// maxTextLength truncates very long messages inside the prompt body.
	maxTextLength = 500
	// maxActions caps the extracted action items per chat.
	maxActions = 5

	noNewMessages = "No new messages"
)

// Completer is the completion-API collaborator: one synchronous call.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Service turns message batches into chat summaries and aggregates them
// into a single priority-grouped digest.
type Service struct {
	cfg       *config.Config
	completer Completer
	clock     func() time.Time
	logger    *slog.Logger
}

// New creates a new summarizer service.
func New(cfg *config.Config, completer Completer) *Service {
	return &Service{
		cfg:       cfg,
		completer: completer,
		clock:     time.Now,
		logger:    slog.Default(),
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// SummarizeChat generates the summary of one chat's message batch. An empty
// batch short-circuits without calling the completion API. A completion
// failure degrades to an error summary while keeping the real message count
// and media references.
func (s *Service) SummarizeChat(ctx context.Context, chat *config.ChatConfig, messages []collectorDomain.CollectedMessage) *domain.ChatSummary {
	if len(messages) == 0 {
		return &domain.ChatSummary{
			ChatName: chat.DisplayName,
			Priority: chat.Priority,
			Summary:  noNewMessages,
		}
	}

	body, oldest, newest, mediaItems := s.formatMessages(messages)
	prompt := s.buildPrompt(chat, body, oldest, newest)

	response, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		s.logger.Error("Failed to summarize chat", "chat", chat.DisplayName, "error", err)
		return &domain.ChatSummary{
			ChatName:     chat.DisplayName,
			Priority:     chat.Priority,
			Summary:      fmt.Sprintf("⚠️ Summary unavailable: %s", shortError(err)),
			MessageCount: len(messages),
			MediaItems:   mediaItems,
		}
	}

	return &domain.ChatSummary{
		ChatName:     chat.DisplayName,
		Priority:     chat.Priority,
		Summary:      strings.TrimSpace(response),
		Actions:      extractActions(response),
		MessageCount: len(messages),
		MediaItems:   mediaItems,
	}
}

// GenerateFull summarizes every batch strictly one at a time, preserving
// the input order, and builds the aggregate digest.
func (s *Service) GenerateFull(ctx context.Context, batches []collectorService.ChatBatch) *domain.FullSummary {
	summaries := make([]*domain.ChatSummary, 0, len(batches))
	for _, batch := range batches {
		summaries = append(summaries, s.SummarizeChat(ctx, batch.Chat, batch.Messages))
	}

	return &domain.FullSummary{
		Chats:       summaries,
		Aggregate:   s.buildAggregate(summaries),
		GeneratedAt: s.clock(),
	}
}

func (s *Service) buildPrompt(chat *config.ChatConfig, body, oldest, newest string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chat: %s\n", chat.DisplayName)
	fmt.Fprintf(&b, "User goal: %s\n", chat.Goal)
	fmt.Fprintf(&b, "Message period: %s — %s\n", oldest, newest)
	fmt.Fprintf(&b, "Today: %s\n\n", s.clock().Format("02.01.2006"))
	fmt.Fprintf(&b, "Messages:\n%s\n\n---\n\n", body)

	b.WriteString("Summarize STRICTLY based on the messages above.\n\n")
	fmt.Fprintf(&b, "Respond in %s.\n\n", s.language())
	b.WriteString("OUTPUT FORMAT — Telegram HTML:\n")
	b.WriteString("- Headings: <b>Heading</b>\n")
	b.WriteString("- Links: <a href=\"URL\">text</a>\n")
	b.WriteString("- Do NOT use Markdown (**, [], #)\n\n")
	b.WriteString("<b>What is happening</b>\n")
	b.WriteString("Briefly describe the context (2-3 sentences). What important happened or is planned.\n\n")
	b.WriteString("<b>What to do</b>\n")
	b.WriteString("Format: • Action → why. Urgency\n")
	b.WriteString("- If the messages contain links (Zoom, calendar, etc.) you MUST include them as <a href=\"URL\">text</a>\n")
	b.WriteString("- Urgency: 🔴 today / 🟡 2-3 days / 🟢 a week+\n")
	b.WriteString("- If there is nothing to do — \"—\"\n\n")
	b.WriteString("IMPORTANT:\n")
	b.WriteString("- FOCUS on the last 2-3 days and the nearest deadlines\n")
	b.WriteString("- Mention older events (>3 days ago) ONLY if they affect current actions\n")
	b.WriteString("- Keep ALL links from the messages\n")
	b.WriteString("- Do NOT invent anything that is not in the messages")

	return b.String()
}

func (s *Service) language() string {
	if s.cfg.User.Language != "" {
		return s.cfg.User.Language
	}
	return "English"
}

// formatMessages renders the batch oldest-first for the prompt and collects
// media references. Only the most recent lines are kept in the prompt body.
func (s *Service) formatMessages(messages []collectorDomain.CollectedMessage) (body, oldest, newest string, mediaItems []domain.MediaItem) {
	lines := make([]string, 0, len(messages))
	var oldestDate, newestDate time.Time

	for _, msg := range messages {
		var text string
		switch msg.Kind {
		case collectorDomain.KindVoice:
			text = "[🎤 voice message]"
			mediaItems = append(mediaItems, mediaItem("🎤", "voice message", msg))
		case collectorDomain.KindVideoNote:
			text = "[🔵 video note]"
			mediaItems = append(mediaItems, mediaItem("🔵", "video note", msg))
		case collectorDomain.KindAudio:
			text = "[🎵 audio]"
			mediaItems = append(mediaItems, mediaItem("🎵", "audio", msg))
		case collectorDomain.KindText:
			text = msg.Text
			if utf8.RuneCountInString(text) > maxTextLength {
				text = string([]rune(text)[:maxTextLength]) + "..."
			}
		default:
			text = "[media]"
		}

		sender := msg.Sender
		if sender == "" {
			sender = "Unknown"
		}

		lines = append(lines, fmt.Sprintf("[%s] %s: %s", msg.Date.Format("02.01 15:04"), sender, text))

		if !msg.Date.IsZero() {
			if oldestDate.IsZero() || msg.Date.Before(oldestDate) {
				oldestDate = msg.Date
			}
			if msg.Date.After(newestDate) {
				newestDate = msg.Date
			}
		}
	}

	if len(lines) > promptMessageLimit {
		lines = lines[len(lines)-promptMessageLimit:]
	}

	oldest, newest = "?", "?"
	if !oldestDate.IsZero() {
		oldest = oldestDate.Format("02.01.2006")
		newest = newestDate.Format("02.01.2006")
	}

	return strings.Join(lines, "\n"), oldest, newest, mediaItems
}

func mediaItem(emoji, label string, msg collectorDomain.CollectedMessage) domain.MediaItem {
	return domain.MediaItem{
		Emoji:    emoji,
		Label:    label,
		Duration: formatDuration(msg.Duration),
		Link:     MessageLink(msg.ChatID, msg.ID),
		Sender:   msg.Sender,
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// MessageLink derives a best-effort permalink for a message. Supergroup and
// channel chat ids (negative, 100-prefixed) become t.me/c links; everything
// else falls back to a plain message reference.
func MessageLink(chatID, messageID int64) string {
	if chatID < 0 {
		id := strconv.FormatInt(-chatID, 10)
		id = strings.TrimPrefix(id, "100")
		return fmt.Sprintf("https://t.me/c/%s/%d", id, messageID)
	}
	return fmt.Sprintf("(message %d)", messageID)
}

// extractActions pulls bullet lines out of a summary, skipping trivially
// short ones, capped at maxActions.
func extractActions(text string) []string {
	var actions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "•") && !strings.HasPrefix(line, "*") {
			continue
		}
		action := strings.TrimSpace(strings.TrimLeft(line, "-•* "))
		if len(action) > 3 {
			actions = append(actions, action)
		}
		if len(actions) == maxActions {
			break
		}
	}
	return actions
}

// buildAggregate renders the digest grouped into fixed-order priority
// buckets. Within a bucket the original chat order is preserved.
func (s *Service) buildAggregate(summaries []*domain.ChatSummary) string {
	buckets := map[domain.Priority][]*domain.ChatSummary{}
	for _, summary := range summaries {
		priority := domain.ParsePriority(string(summary.Priority))
		buckets[priority] = append(buckets[priority], summary)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Digest for %s</b>\n", s.clock().Format("02.01.2006 15:04"))

	hasContent := false
	for _, priority := range []domain.Priority{domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow} {
		chats := buckets[priority]
		if len(chats) == 0 {
			continue
		}
		hasContent = true

		fmt.Fprintf(&b, "\n%s <b>%s</b>\n", priority.Icon(), priority.Label())

		for _, summary := range chats {
			fmt.Fprintf(&b, "\n<b>%s</b> (%d msg)\n", summary.ChatName, summary.MessageCount)
			b.WriteString(summary.Summary)
			b.WriteString("\n")

			if len(summary.MediaItems) > 0 {
				b.WriteString("\n<b>🎧 Audio/video</b>\n")
				for _, item := range summary.MediaItems {
					var suffix string
					if item.Duration != "" {
						suffix += fmt.Sprintf(" (%s)", item.Duration)
					}
					if item.Sender != "" {
						suffix += fmt.Sprintf(" — %s", item.Sender)
					}
					fmt.Fprintf(&b, "%s <a href=\"%s\">%s</a>%s\n", item.Emoji, item.Link, item.Label, suffix)
				}
			}
		}
	}

	if !hasContent {
		b.WriteString("\nNo new messages in monitored chats.")
	}

	return b.String()
}

func shortError(err error) string {
	msg := err.Error()
	if utf8.RuneCountInString(msg) > 200 {
		msg = string([]rune(msg)[:200]) + "..."
	}
	return msg
}
