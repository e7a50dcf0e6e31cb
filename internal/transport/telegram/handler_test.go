package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collectorDomain "tg-assistant/internal/modules/collector/domain"
	collectorService "tg-assistant/internal/modules/collector/service"
	summaryDomain "tg-assistant/internal/modules/summary/domain"
	summaryService "tg-assistant/internal/modules/summary/service"
	"tg-assistant/internal/shared/config"
)

const assistantChatID = int64(777)

type sentMessage struct {
	text string
	html bool
}

type editedMessage struct {
	messageID int
	text      string
	html      bool
}

type fakeBot struct {
	sendErr error
	nextID  int

	sent   []sentMessage
	edited []editedMessage
}

func (f *fakeBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.sent = append(f.sent, sentMessage{
		text: params.Text,
		html: params.ParseMode == models.ParseModeHTML,
	})
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	return &models.Message{ID: f.nextID}, nil
}

func (f *fakeBot) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	f.edited = append(f.edited, editedMessage{
		messageID: params.MessageID,
		text:      params.Text,
		html:      params.ParseMode == models.ParseModeHTML,
	})
	return &models.Message{ID: params.MessageID}, nil
}

type fakePlatform struct {
	history      map[int64][]collectorDomain.PlatformMessage
	historyCalls int
}

func (f *fakePlatform) ResolveRef(_ context.Context, _ string) (collectorDomain.Entity, error) {
	return collectorDomain.Entity{ID: -500, Kind: collectorDomain.EntityChat, Title: "Family"}, nil
}

func (f *fakePlatform) ResolveID(_ context.Context, id int64) (collectorDomain.Entity, error) {
	return collectorDomain.Entity{ID: id, Kind: collectorDomain.EntityChat}, nil
}

func (f *fakePlatform) Dialogs(_ context.Context) ([]collectorDomain.Dialog, error) {
	return nil, nil
}

func (f *fakePlatform) History(_ context.Context, entity collectorDomain.Entity, _ collectorDomain.FetchOptions) ([]collectorDomain.PlatformMessage, error) {
	f.historyCalls++
	return f.history[entity.ID], nil
}

type memState struct {
	lastIDs map[string]int64
	resets  []string
	all     bool
}

func newMemState() *memState { return &memState{lastIDs: map[string]int64{}} }

func (m *memState) LastID(chatKey string) int64 { return m.lastIDs[chatKey] }

func (m *memState) SetLastID(chatKey string, id int64) error {
	if id > m.lastIDs[chatKey] {
		m.lastIDs[chatKey] = id
	}
	return nil
}

func (m *memState) Reset(chatKey string) error {
	m.resets = append(m.resets, chatKey)
	delete(m.lastIDs, chatKey)
	return nil
}

func (m *memState) ResetAll() error {
	m.all = true
	m.lastIDs = map[string]int64{}
	return nil
}

type fakeSummaryRepo struct {
	saved []*summaryDomain.FullSummary
}

func (f *fakeSummaryRepo) Save(summary *summaryDomain.FullSummary) (string, error) {
	f.saved = append(f.saved, summary)
	return "/tmp/digest.md", nil
}

func (f *fakeSummaryRepo) Recent(_ int) ([]summaryDomain.StoredSummary, error) { return nil, nil }

func (f *fakeSummaryRepo) Cleanup(_ int) (int, error) { return 0, nil }

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type fixture struct {
	handler     *Handler
	bot         *fakeBot
	platform    *fakePlatform
	state       *memState
	summaryRepo *fakeSummaryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		AssistantChatID: assistantChatID,
		User:            config.UserContext{Name: "Dmitry", Language: "English"},
		Chats: []config.ChatConfig{
			{DisplayName: "Work", ChatID: -1001234, Priority: summaryDomain.PriorityHigh, MaxMessages: 30},
			{DisplayName: "Family", Identifier: "@family", Priority: summaryDomain.PriorityMedium, MaxMessages: 10},
		},
	}

	platform := &fakePlatform{history: map[int64][]collectorDomain.PlatformMessage{}}
	state := newMemState()
	collector := collectorService.New(cfg, platform, state)

	summarizer := summaryService.New(cfg, completerFunc(func(_ context.Context, _ string) (string, error) {
		return "summary body", nil
	}))

	repo := &fakeSummaryRepo{}
	return &fixture{
		handler:     New(cfg, collector, summarizer, repo),
		bot:         &fakeBot{},
		platform:    platform,
		state:       state,
		summaryRepo: repo,
	}
}

func update(text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   1,
		Text: text,
		Chat: models.Chat{ID: assistantChatID},
	}}
}

func textMessage(id int64, text string) collectorDomain.PlatformMessage {
	return collectorDomain.PlatformMessage{
		ID:     id,
		Date:   time.Now().Add(-time.Hour),
		Sender: "Anna",
		Text:   text,
	}
}

func TestForeignChatIgnored(t *testing.T) {
	f := newFixture(t)

	foreign := &models.Update{Message: &models.Message{
		ID:   1,
		Text: "/summary",
		Chat: models.Chat{ID: 999},
	}}
	f.handler.handleSummary(context.Background(), f.bot, foreign)
	f.handler.handleSummary(context.Background(), f.bot, &models.Update{})

	assert.Empty(t, f.bot.sent)
	assert.Zero(t, f.platform.historyCalls)
}

func TestSummaryNoNewMessages(t *testing.T) {
	f := newFixture(t)

	f.handler.handleSummary(context.Background(), f.bot, update("/summary"))

	require.Len(t, f.bot.sent, 1)
	assert.Contains(t, f.bot.sent[0].text, "Collecting messages")

	require.Len(t, f.bot.edited, 1)
	assert.Equal(t, 1, f.bot.edited[0].messageID)
	assert.Equal(t, "✅ No new messages", f.bot.edited[0].text)

	assert.Empty(t, f.summaryRepo.saved)
}

func TestSummaryFullFlow(t *testing.T) {
	f := newFixture(t)
	f.platform.history[-1001234] = []collectorDomain.PlatformMessage{
		textMessage(101, "standup at 11"),
		textMessage(102, "deadline moved to Friday"),
	}

	f.handler.handleSummary(context.Background(), f.bot, update("/summary"))

	require.Len(t, f.bot.sent, 1)
	require.Len(t, f.bot.edited, 2)

	assert.Contains(t, f.bot.edited[0].text, "Generating summary (2 messages)")
	assert.False(t, f.bot.edited[0].html)

	final := f.bot.edited[1]
	assert.Equal(t, 1, final.messageID)
	assert.True(t, final.html)
	assert.Contains(t, final.text, "<b>Work</b> (2 msg)")
	assert.Contains(t, final.text, "summary body")

	require.Len(t, f.summaryRepo.saved, 1)
	assert.Equal(t, int64(102), f.state.lastIDs["-1001234"])
}

func TestSummaryStatusSendFailureDegradesToSend(t *testing.T) {
	f := newFixture(t)
	f.bot.sendErr = errors.New("network down")

	f.handler.handleSummary(context.Background(), f.bot, update("/summary"))

	// The status message never existed, so the final text is sent instead
	// of edited.
	assert.Empty(t, f.bot.edited)
	require.Len(t, f.bot.sent, 2)
	assert.Equal(t, "✅ No new messages", f.bot.sent[1].text)
}

func TestChatUsage(t *testing.T) {
	f := newFixture(t)

	f.handler.handleChat(context.Background(), f.bot, update("/chat"))

	require.Len(t, f.bot.sent, 1)
	assert.Contains(t, f.bot.sent[0].text, "Usage: /chat <name> [period]")
	assert.Zero(t, f.platform.historyCalls)
}

func TestChatUnknownListsConfigured(t *testing.T) {
	f := newFixture(t)

	f.handler.handleChat(context.Background(), f.bot, update("/chat Nope"))

	require.Len(t, f.bot.sent, 1)
	assert.Contains(t, f.bot.sent[0].text, `Chat "Nope" not found`)
	assert.Contains(t, f.bot.sent[0].text, "• Work")
	assert.Contains(t, f.bot.sent[0].text, "• Family")
	assert.Zero(t, f.platform.historyCalls)
}

func TestChatFlow(t *testing.T) {
	f := newFixture(t)
	f.platform.history[-1001234] = []collectorDomain.PlatformMessage{
		textMessage(101, "standup at 11"),
	}

	// Lookup is case-insensitive.
	f.handler.handleChat(context.Background(), f.bot, update("/chat work 2d"))

	require.Len(t, f.bot.sent, 1)
	assert.Contains(t, f.bot.sent[0].text, "from Work for 2d")

	require.Len(t, f.bot.edited, 2)
	final := f.bot.edited[1]
	assert.True(t, final.html)
	assert.Contains(t, final.text, "<b>Work</b> (1 msg)")

	// Ad-hoc queries never move the checkpoint.
	assert.Empty(t, f.state.lastIDs)
}

func TestChatFlowNoMessages(t *testing.T) {
	f := newFixture(t)

	f.handler.handleChat(context.Background(), f.bot, update("/chat Work"))

	require.Len(t, f.bot.edited, 1)
	assert.Contains(t, f.bot.edited[0].text, "No messages in Work for 1d")
}

func TestResetSingleChat(t *testing.T) {
	f := newFixture(t)

	f.handler.handleReset(context.Background(), f.bot, update("/reset Work"))

	assert.Equal(t, []string{"-1001234"}, f.state.resets)
	require.Len(t, f.bot.sent, 1)
	assert.Equal(t, "✅ State reset for: Work", f.bot.sent[0].text)
}

func TestResetAllChats(t *testing.T) {
	f := newFixture(t)

	f.handler.handleReset(context.Background(), f.bot, update("/reset"))

	assert.True(t, f.state.all)
	require.Len(t, f.bot.sent, 1)
	assert.Equal(t, "✅ State reset for all chats", f.bot.sent[0].text)
}

func TestListChats(t *testing.T) {
	f := newFixture(t)

	f.handler.handleListChats(context.Background(), f.bot, update("/chats"))

	require.Len(t, f.bot.sent, 1)
	assert.True(t, f.bot.sent[0].html)
	assert.Contains(t, f.bot.sent[0].text, "🔴 <b>Work</b> (ID: -1001234)")
	assert.Contains(t, f.bot.sent[0].text, "🟡 <b>Family</b> (@family)")
}

// routingBot builds a real bot against a stub API server and returns the
// texts of messages it sends, so dispatch goes through the library's own
// handler matching.
func routingBot(t *testing.T, h *Handler) (*bot.Bot, *[]string) {
	t.Helper()

	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			texts = append(texts, requestText(r))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	t.Cleanup(srv.Close)

	b, err := bot.New("123:test",
		bot.WithServerURL(srv.URL),
		bot.WithSkipGetMe(),
		bot.WithNotAsyncHandlers(),
	)
	require.NoError(t, err)
	h.RegisterCommands(b)
	return b, &texts
}

func requestText(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var params struct {
			Text string `json:"text"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &params)
		return params.Text
	}
	_ = r.ParseMultipartForm(1 << 20)
	return r.FormValue("text")
}

func TestCommandDispatch(t *testing.T) {
	t.Run("chats is not captured by the chat prefix", func(t *testing.T) {
		f := newFixture(t)
		b, texts := routingBot(t, f.handler)

		b.ProcessUpdate(context.Background(), update("/chats"))

		require.Len(t, *texts, 1)
		assert.Contains(t, (*texts)[0], "Monitored chats")
		assert.NotContains(t, (*texts)[0], "Usage: /chat")
	})

	t.Run("chat with arguments still dispatches", func(t *testing.T) {
		f := newFixture(t)
		b, texts := routingBot(t, f.handler)

		b.ProcessUpdate(context.Background(), update("/chat Nope"))

		require.Len(t, *texts, 1)
		assert.Contains(t, (*texts)[0], `Chat "Nope" not found`)
	})

	t.Run("bare chat shows usage", func(t *testing.T) {
		f := newFixture(t)
		b, texts := routingBot(t, f.handler)

		b.ProcessUpdate(context.Background(), update("/chat"))

		require.Len(t, *texts, 1)
		assert.Contains(t, (*texts)[0], "Usage: /chat <name> [period]")
	})

	t.Run("reset and help dispatch", func(t *testing.T) {
		f := newFixture(t)
		b, texts := routingBot(t, f.handler)

		b.ProcessUpdate(context.Background(), update("/reset Work"))
		b.ProcessUpdate(context.Background(), update("/help"))

		require.Len(t, *texts, 2)
		assert.Equal(t, "✅ State reset for: Work", (*texts)[0])
		assert.Contains(t, (*texts)[1], "Personal Assistant Commands")
	})
}

func TestHelp(t *testing.T) {
	f := newFixture(t)

	f.handler.handleHelp(context.Background(), f.bot, update("/help"))

	require.Len(t, f.bot.sent, 1)
	assert.True(t, f.bot.sent[0].html)
	assert.Contains(t, f.bot.sent[0].text, "/summary")
	assert.Contains(t, f.bot.sent[0].text, "/reset [name]")
}

func TestTruncateRuneSafe(t *testing.T) {
	long := strings.Repeat("я", maxMessageLength+10)
	got := truncate(long)

	// Cut on a rune boundary, never mid-character.
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxMessageLength, utf8.RuneCountInString(got))

	short := strings.Repeat("я", 100)
	assert.Equal(t, short, truncate(short))
}

func TestShortErrorRuneSafe(t *testing.T) {
	got := shortError(errors.New(strings.Repeat("ошибка ", 40)))

	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, 203, utf8.RuneCountInString(got))
}
