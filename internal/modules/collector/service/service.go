package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samber/oops"

	"tg-assistant/internal/modules/collector/domain"
	"tg-assistant/internal/modules/collector/repository"
	"tg-assistant/internal/shared/config"
	"tg-assistant/internal/shared/errors"
)

// DefaultFetchDays bounds how far back an unread fetch ever reaches,
// regardless of how stale the checkpoint is.
const DefaultFetchDays = 14

// Platform is the messaging-platform collaborator the collector consumes.
// Connection lifecycle, authentication and session persistence belong to
// the implementation, not to this service.
type Platform interface {
	ResolveRef(ctx context.Context, ref string) (domain.Entity, error)
	ResolveID(ctx context.Context, id int64) (domain.Entity, error)
	Dialogs(ctx context.Context) ([]domain.Dialog, error)
	History(ctx context.Context, entity domain.Entity, opts domain.FetchOptions) ([]domain.PlatformMessage, error)
}

// ChatBatch pairs a configured chat with its collected messages.
type ChatBatch struct {
	Chat     *config.ChatConfig
	Messages []domain.CollectedMessage
}

// Service collects messages from monitored chats and maintains the
// per-chat checkpoint state.
type Service struct {
	cfg       *config.Config
	platform  Platform
	stateRepo repository.Repository
	clock     func() time.Time
	logger    *slog.Logger
}

// New creates a new collector service.
func New(cfg *config.Config, platform Platform, stateRepo repository.Repository) *Service {
	return &Service{
		cfg:       cfg,
		platform:  platform,
		stateRepo: stateRepo,
		clock:     time.Now,
		logger:    slog.Default(),
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// ResolveChat resolves a configured chat to a platform entity.
//
// A configured chat_id is returned directly without any platform lookup.
// An identifier that looks like a username or link resolves directly;
// anything else is matched case-insensitively against the dialog list
// titles, with direct resolution as a last resort.
func (s *Service) ResolveChat(ctx context.Context, chat *config.ChatConfig) (domain.Entity, error) {
	if chat.ChatID != 0 {
		return domain.Entity{ID: chat.ChatID, Kind: domain.EntityUnknown}, nil
	}

	identifier := strings.TrimSpace(chat.Identifier)
	if identifier == "" {
		return domain.Entity{}, oops.With("chat", chat.DisplayName).Wrap(errors.ErrChatUnresolved)
	}

	if looksLikeRef(identifier) {
		return s.platform.ResolveRef(ctx, identifier)
	}

	dialogs, err := s.platform.Dialogs(ctx)
	if err == nil {
		for _, dialog := range dialogs {
			if strings.EqualFold(dialog.Title, identifier) {
				s.logger.Info("Resolved chat by dialog title",
					"chat", chat.DisplayName, "chat_id", dialog.Entity.ID)
				return dialog.Entity, nil
			}
		}
	} else {
		s.logger.Warn("Dialog listing failed, falling back to direct resolution",
			"chat", chat.DisplayName, "error", err)
	}

	// Might be a username without the @ prefix.
	entity, err := s.platform.ResolveRef(ctx, identifier)
	if err != nil {
		return domain.Entity{}, oops.With("chat", chat.DisplayName, "identifier", identifier).
			Wrap(errors.ErrChatUnresolved)
	}
	return entity, nil
}

func looksLikeRef(identifier string) bool {
	return strings.HasPrefix(identifier, "@") ||
		strings.HasPrefix(identifier, "https://") ||
		strings.HasPrefix(identifier, "http://") ||
		strings.HasPrefix(identifier, "t.me/")
}

// FetchUnread returns the new messages of one chat since its checkpoint,
// oldest first, bounded by the fixed lookback window and the chat's message
// cap. The checkpoint advances only after a fully successful fetch; any
// failure is absorbed into an empty result and logged.
func (s *Service) FetchUnread(ctx context.Context, chat *config.ChatConfig) []domain.CollectedMessage {
	entity, err := s.ResolveChat(ctx, chat)
	if err != nil {
		s.logger.Error("Failed to resolve chat", "chat", chat.DisplayName, "error", err)
		return nil
	}

	chatKey := chat.Key()
	lastID := s.stateRepo.LastID(chatKey)
	since := s.clock().Add(-DefaultFetchDays * 24 * time.Hour)

	raw, err := s.platform.History(ctx, entity, domain.FetchOptions{
		MinID: lastID,
		Since: since,
		Limit: chat.MaxMessages,
	})
	if err != nil {
		s.logger.Error("Failed to fetch messages, checkpoint untouched",
			"chat", chat.DisplayName, "error", err)
		return nil
	}

	messages := s.classify(raw, entity.ID)
	s.logger.Info("Collected unread messages",
		"chat", chat.DisplayName, "count", len(messages),
		"since", since.Format("02.01.2006"), "min_id", lastID)

	if len(messages) > 0 {
		newest := messages[len(messages)-1].ID
		if err := s.stateRepo.SetLastID(chatKey, newest); err != nil {
			s.logger.Error("Failed to persist checkpoint",
				"chat", chat.DisplayName, "last_id", newest, "error", err)
		}
	}

	return messages
}

// FetchForPeriod returns one chat's text messages inside a trailing time
// window described by a period token ("12h", "2d", "1w"). Media is
// intentionally excluded from ad-hoc period queries, and the checkpoint is
// never touched.
func (s *Service) FetchForPeriod(ctx context.Context, chat *config.ChatConfig, period string) []domain.CollectedMessage {
	entity, err := s.ResolveChat(ctx, chat)
	if err != nil {
		s.logger.Error("Failed to resolve chat", "chat", chat.DisplayName, "error", err)
		return nil
	}

	since := s.clock().Add(-domain.ParsePeriod(period))

	raw, err := s.platform.History(ctx, entity, domain.FetchOptions{
		Since: since,
		Limit: chat.MaxMessages,
	})
	if err != nil {
		s.logger.Error("Failed to fetch messages",
			"chat", chat.DisplayName, "period", period, "error", err)
		return nil
	}

	all := s.classify(raw, entity.ID)
	messages := make([]domain.CollectedMessage, 0, len(all))
	for _, msg := range all {
		if msg.Kind == domain.KindText {
			messages = append(messages, msg)
		}
	}

	s.logger.Info("Collected messages for period",
		"chat", chat.DisplayName, "period", period, "count", len(messages))

	return messages
}

// CollectAllUnread fetches unread messages for every configured chat,
// sequentially and in config order. Chats yielding nothing are omitted;
// a single chat's failure never aborts the rest.
func (s *Service) CollectAllUnread(ctx context.Context) []ChatBatch {
	var batches []ChatBatch

	for i := range s.cfg.Chats {
		chat := &s.cfg.Chats[i]
		messages := s.FetchUnread(ctx, chat)
		if len(messages) == 0 {
			continue
		}
		batches = append(batches, ChatBatch{Chat: chat, Messages: messages})
	}

	total := 0
	for _, batch := range batches {
		total += len(batch.Messages)
	}
	s.logger.Info("Collected unread messages from all chats",
		"chats", len(batches), "messages", total)

	return batches
}

// ResetState clears the checkpoint of one chat, or of every chat when the
// name is empty. An unknown chat name is a deliberate no-op, not an error.
func (s *Service) ResetState(chatName string) error {
	if chatName == "" {
		if err := s.stateRepo.ResetAll(); err != nil {
			return err
		}
		s.logger.Info("State reset for all chats")
		return nil
	}

	if chat, ok := s.cfg.GetChat(chatName); ok {
		if err := s.stateRepo.Reset(chat.Key()); err != nil {
			return err
		}
	}
	s.logger.Info("State reset", "chat", chatName)
	return nil
}

// classify filters raw messages down to ones with readable or transcribable
// content and orders them oldest first.
func (s *Service) classify(raw []domain.PlatformMessage, chatID int64) []domain.CollectedMessage {
	messages := make([]domain.CollectedMessage, 0, len(raw))
	for _, r := range raw {
		if msg, ok := domain.Classify(r, chatID); ok {
			messages = append(messages, msg)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})
	return messages
}
