package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/samber/oops"

	"tg-assistant/internal/modules/collector/domain"
	"tg-assistant/internal/shared/config"
)

// botChannelOffset converts between raw MTProto channel ids and the
// Bot-API "-100"-prefixed convention used across the assistant.
const botChannelOffset int64 = 1_000_000_000_000

var (
	// ErrFloodWaitActive is returned while a FLOOD_WAIT restriction is in
	// effect.
	ErrFloodWaitActive = errors.New("client is in flood wait")

	floodWaitRegex = regexp.MustCompile(`FLOOD_WAIT \((\d+)\)`)
)

// Client wraps a gotd user client behind the collector's Platform port.
// It owns authentication, session persistence and FLOOD_WAIT handling.
type Client struct {
	runner   *telegram.Client
	api      *tg.Client
	authFlow auth.Flow
	clock    func() time.Time
	logger   *slog.Logger

	mu             sync.RWMutex
	unhealthyUntil time.Time
	startOnce      sync.Once
	runErr         chan error
}

// New creates a platform client with a file-backed session.
func New(cfg *config.Config) *Client {
	tgClient := telegram.NewClient(cfg.TelegramAPIID, cfg.TelegramAPIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
	})

	return &Client{
		runner:   tgClient,
		api:      tgClient.API(),
		authFlow: auth.NewFlow(newTerminalAuth(cfg.TelegramPhone), auth.SendCodeOptions{}),
		clock:    time.Now,
		logger:   slog.Default(),
		runErr:   make(chan error, 1),
	}
}

// Start launches the background runner and authenticates the session.
// Must be called once before any other method.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go func() {
			err := c.runner.Run(ctx, func(runCtx context.Context) error {
				if _, err := c.api.UsersGetUsers(runCtx, []tg.InputUserClass{&tg.InputUserSelf{}}); err != nil {
					c.logger.Warn("Session check failed, attempting interactive auth", "error", err)
					if authErr := c.authFlow.Run(runCtx, c.runner.Auth()); authErr != nil {
						return fmt.Errorf("interactive auth failed: %w", authErr)
					}
					c.logger.Info("Interactive auth successful, session saved")
				}
				c.logger.Info("Telegram client authenticated and ready")

				<-runCtx.Done()
				return runCtx.Err()
			})

			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("Telegram client runner exited", "error", err)
			}
			c.runErr <- err
			close(c.runErr)
		}()
	})
}

// Health reports whether the client can serve requests: a FLOOD_WAIT gate
// first, then a lightweight API probe.
func (c *Client) Health(ctx context.Context) error {
	if err := c.checkFloodWait(); err != nil {
		return err
	}
	_, err := c.api.HelpGetConfig(ctx)
	if err != nil {
		c.noteError(err)
	}
	return err
}

// ResolveRef resolves a username or t.me link to an entity.
func (c *Client) ResolveRef(ctx context.Context, ref string) (domain.Entity, error) {
	username := normalizeRef(ref)
	if username == "" {
		return domain.Entity{}, oops.With("ref", ref).Errorf("unsupported chat reference %q", ref)
	}

	if err := c.checkFloodWait(); err != nil {
		return domain.Entity{}, err
	}

	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		c.noteError(err)
		return domain.Entity{}, oops.With("username", username).Wrap(err)
	}

	for _, chat := range resolved.Chats {
		if entity, ok := entityFromChat(chat); ok {
			return entity, nil
		}
	}
	for _, user := range resolved.Users {
		if entity, ok := entityFromUser(user); ok {
			return entity, nil
		}
	}
	return domain.Entity{}, oops.With("username", username).Errorf("resolved peer has no usable entity")
}

// ResolveID resolves a Bot-API-style chat id by scanning the dialog list.
func (c *Client) ResolveID(ctx context.Context, id int64) (domain.Entity, error) {
	dialogs, err := c.Dialogs(ctx)
	if err != nil {
		return domain.Entity{}, err
	}
	for _, dialog := range dialogs {
		if dialog.Entity.ID == id {
			return dialog.Entity, nil
		}
	}
	return domain.Entity{}, oops.With("chat_id", id).Errorf("chat id %d not found in dialogs", id)
}

// Dialogs lists the caller's known conversations.
func (c *Client) Dialogs(ctx context.Context) ([]domain.Dialog, error) {
	if err := c.checkFloodWait(); err != nil {
		return nil, err
	}

	raw, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		c.noteError(err)
		return nil, oops.With("context", "failed to list dialogs").Wrap(err)
	}

	var chats []tg.ChatClass
	var users []tg.UserClass
	switch d := raw.(type) {
	case *tg.MessagesDialogs:
		chats, users = d.Chats, d.Users
	case *tg.MessagesDialogsSlice:
		chats, users = d.Chats, d.Users
	default:
		return nil, nil
	}

	var dialogs []domain.Dialog
	for _, chat := range chats {
		if entity, ok := entityFromChat(chat); ok {
			dialogs = append(dialogs, domain.Dialog{Title: entity.Title, Entity: entity})
		}
	}
	for _, user := range users {
		if entity, ok := entityFromUser(user); ok {
			dialogs = append(dialogs, domain.Dialog{Title: entity.Title, Entity: entity})
		}
	}
	return dialogs, nil
}

// History fetches messages newer than opts.MinID and opts.Since, up to
// opts.Limit, and maps them to the collector's raw message shape.
func (c *Client) History(ctx context.Context, entity domain.Entity, opts domain.FetchOptions) ([]domain.PlatformMessage, error) {
	if entity.Kind == domain.EntityUnknown {
		resolved, err := c.ResolveID(ctx, entity.ID)
		if err != nil {
			return nil, err
		}
		entity = resolved
	}

	if err := c.checkFloodWait(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	req := &tg.MessagesGetHistoryRequest{
		Peer:  inputPeer(entity),
		MinID: int(opts.MinID),
		Limit: limit,
	}
	// A capped fetch must return the oldest messages past the checkpoint,
	// not the newest, so a backlog is consumed in chunks without gaps.
	// Anchoring the window at the checkpoint (or the period start) with a
	// negative add_offset pages from the old end of the history.
	switch {
	case opts.MinID > 0:
		req.OffsetID = int(opts.MinID)
		req.AddOffset = -limit
	case !opts.Since.IsZero():
		req.OffsetDate = int(opts.Since.Unix())
		req.AddOffset = -limit
	}

	raw, err := c.api.MessagesGetHistory(ctx, req)
	if err != nil {
		c.noteError(err)
		return nil, oops.With("chat_id", entity.ID).Wrap(err)
	}

	var messages []tg.MessageClass
	var users []tg.UserClass
	switch m := raw.(type) {
	case *tg.MessagesMessages:
		messages, users = m.Messages, m.Users
	case *tg.MessagesMessagesSlice:
		messages, users = m.Messages, m.Users
	case *tg.MessagesChannelMessages:
		messages, users = m.Messages, m.Users
	default:
		return nil, nil
	}

	senders := senderNames(users)

	var result []domain.PlatformMessage
	for _, raw := range messages {
		msg, ok := raw.(*tg.Message)
		if !ok {
			continue
		}
		date := time.Unix(int64(msg.Date), 0)
		if !opts.Since.IsZero() && date.Before(opts.Since) {
			continue
		}
		result = append(result, platformMessage(msg, date, senders))
	}
	return result, nil
}

func platformMessage(msg *tg.Message, date time.Time, senders map[int64]string) domain.PlatformMessage {
	out := domain.PlatformMessage{
		ID:   int64(msg.ID),
		Date: date,
		Text: msg.Message,
	}

	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		out.Sender = senders[from.UserID]
	}

	if msg.Media != nil {
		kind, meta := mediaMeta(msg.Media)
		switch kind {
		case domain.KindVoice:
			out.Voice = meta
		case domain.KindVideoNote:
			out.VideoNote = meta
		case domain.KindAudio:
			out.Audio = meta
		default:
			out.OtherMedia = true
		}
	}

	return out
}

// mediaMeta classifies a document payload by its attributes.
func mediaMeta(media tg.MessageMediaClass) (domain.MessageKind, *domain.MediaMeta) {
	doc, ok := media.(*tg.MessageMediaDocument)
	if !ok {
		return domain.KindOther, nil
	}
	document, ok := doc.Document.(*tg.Document)
	if !ok {
		return domain.KindOther, nil
	}

	for _, attr := range document.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeAudio:
			meta := &domain.MediaMeta{Duration: time.Duration(a.Duration) * time.Second}
			if a.Voice {
				return domain.KindVoice, meta
			}
			return domain.KindAudio, meta
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return domain.KindVideoNote, &domain.MediaMeta{
					Duration: time.Duration(a.Duration * float64(time.Second)),
				}
			}
		}
	}
	return domain.KindOther, nil
}

func senderNames(users []tg.UserClass) map[int64]string {
	names := make(map[int64]string, len(users))
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		switch {
		case user.FirstName != "":
			names[user.ID] = user.FirstName
		case user.Username != "":
			names[user.ID] = user.Username
		}
	}
	return names
}

// normalizeRef strips @ and t.me link prefixes down to a bare username.
// Private invite links are not supported.
func normalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	for _, prefix := range []string{"https://", "http://"} {
		ref = strings.TrimPrefix(ref, prefix)
	}
	ref = strings.TrimPrefix(ref, "t.me/")
	ref = strings.TrimPrefix(ref, "@")
	ref = strings.TrimSuffix(ref, "/")

	if ref == "" || strings.ContainsAny(ref, "+/") {
		return ""
	}
	return ref
}

func entityFromChat(chat tg.ChatClass) (domain.Entity, bool) {
	switch c := chat.(type) {
	case *tg.Chat:
		return domain.Entity{
			ID:    -c.ID,
			Kind:  domain.EntityChat,
			Title: c.Title,
		}, true
	case *tg.Channel:
		return domain.Entity{
			ID:         -(botChannelOffset + c.ID),
			AccessHash: c.AccessHash,
			Kind:       domain.EntityChannel,
			Title:      c.Title,
		}, true
	default:
		return domain.Entity{}, false
	}
}

func entityFromUser(user tg.UserClass) (domain.Entity, bool) {
	u, ok := user.(*tg.User)
	if !ok {
		return domain.Entity{}, false
	}
	title := u.FirstName
	if title == "" {
		title = u.Username
	}
	return domain.Entity{
		ID:         u.ID,
		AccessHash: u.AccessHash,
		Kind:       domain.EntityUser,
		Title:      title,
	}, true
}

func inputPeer(entity domain.Entity) tg.InputPeerClass {
	switch entity.Kind {
	case domain.EntityChannel:
		return &tg.InputPeerChannel{
			ChannelID:  -entity.ID - botChannelOffset,
			AccessHash: entity.AccessHash,
		}
	case domain.EntityChat:
		return &tg.InputPeerChat{ChatID: -entity.ID}
	default:
		return &tg.InputPeerUser{UserID: entity.ID, AccessHash: entity.AccessHash}
	}
}

func (c *Client) checkFloodWait() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.unhealthyUntil.IsZero() && c.clock().Before(c.unhealthyUntil) {
		return fmt.Errorf("%w: active until %v", ErrFloodWaitActive, c.unhealthyUntil)
	}
	return nil
}

// noteError inspects an API error for FLOOD_WAIT and gates the client for
// the reported duration.
func (c *Client) noteError(err error) {
	matches := floodWaitRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return
	}
	seconds, convErr := strconv.Atoi(matches[1])
	if convErr != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.unhealthyUntil = c.clock().Add(time.Duration(seconds) * time.Second)
	c.logger.Warn("Client got FLOOD_WAIT, gated", "until", c.unhealthyUntil)
}
