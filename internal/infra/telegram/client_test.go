package telegram

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-assistant/internal/modules/collector/domain"
)

func TestNormalizeRef(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"@golang", "golang"},
		{"golang", "golang"},
		{"t.me/golang", "golang"},
		{"https://t.me/golang", "golang"},
		{"http://t.me/golang/", "golang"},
		{"  @golang  ", "golang"},
		{"https://t.me/+AbCdEf", ""}, // invite link
		{"t.me/golang/123", ""},
		{"", ""},
		{"@", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeRef(tt.ref), "ref %q", tt.ref)
	}
}

func TestEntityFromChat(t *testing.T) {
	entity, ok := entityFromChat(&tg.Chat{ID: 4321, Title: "Family"})
	require.True(t, ok)
	assert.Equal(t, int64(-4321), entity.ID)
	assert.Equal(t, domain.EntityChat, entity.Kind)
	assert.Equal(t, "Family", entity.Title)

	entity, ok = entityFromChat(&tg.Channel{ID: 1234, AccessHash: 99, Title: "News"})
	require.True(t, ok)
	assert.Equal(t, int64(-1000000001234), entity.ID)
	assert.Equal(t, int64(99), entity.AccessHash)
	assert.Equal(t, domain.EntityChannel, entity.Kind)

	_, ok = entityFromChat(&tg.ChatForbidden{ID: 1})
	assert.False(t, ok)
}

func TestEntityFromUser(t *testing.T) {
	entity, ok := entityFromUser(&tg.User{ID: 42, AccessHash: 7, FirstName: "Anna"})
	require.True(t, ok)
	assert.Equal(t, int64(42), entity.ID)
	assert.Equal(t, domain.EntityUser, entity.Kind)
	assert.Equal(t, "Anna", entity.Title)

	entity, ok = entityFromUser(&tg.User{ID: 43, Username: "anna_b"})
	require.True(t, ok)
	assert.Equal(t, "anna_b", entity.Title)
}

func TestInputPeerRoundTrip(t *testing.T) {
	peer := inputPeer(domain.Entity{ID: -1000000001234, AccessHash: 99, Kind: domain.EntityChannel})
	channel, ok := peer.(*tg.InputPeerChannel)
	require.True(t, ok)
	assert.Equal(t, int64(1234), channel.ChannelID)
	assert.Equal(t, int64(99), channel.AccessHash)

	peer = inputPeer(domain.Entity{ID: -4321, Kind: domain.EntityChat})
	chat, ok := peer.(*tg.InputPeerChat)
	require.True(t, ok)
	assert.Equal(t, int64(4321), chat.ChatID)

	peer = inputPeer(domain.Entity{ID: 42, AccessHash: 7, Kind: domain.EntityUser})
	user, ok := peer.(*tg.InputPeerUser)
	require.True(t, ok)
	assert.Equal(t, int64(42), user.UserID)
}

func TestMediaMetaClassification(t *testing.T) {
	voice := &tg.MessageMediaDocument{Document: &tg.Document{
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeAudio{Voice: true, Duration: 83},
		},
	}}
	kind, meta := mediaMeta(voice)
	assert.Equal(t, domain.KindVoice, kind)
	require.NotNil(t, meta)
	assert.Equal(t, 83*time.Second, meta.Duration)

	audio := &tg.MessageMediaDocument{Document: &tg.Document{
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeAudio{Duration: 180},
		},
	}}
	kind, meta = mediaMeta(audio)
	assert.Equal(t, domain.KindAudio, kind)
	assert.Equal(t, 3*time.Minute, meta.Duration)

	round := &tg.MessageMediaDocument{Document: &tg.Document{
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeVideo{RoundMessage: true, Duration: 12.5},
		},
	}}
	kind, meta = mediaMeta(round)
	assert.Equal(t, domain.KindVideoNote, kind)
	assert.Equal(t, 12500*time.Millisecond, meta.Duration)

	photo := &tg.MessageMediaPhoto{}
	kind, meta = mediaMeta(photo)
	assert.Equal(t, domain.KindOther, kind)
	assert.Nil(t, meta)

	plainVideo := &tg.MessageMediaDocument{Document: &tg.Document{
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeVideo{Duration: 30},
		},
	}}
	kind, _ = mediaMeta(plainVideo)
	assert.Equal(t, domain.KindOther, kind)
}

func TestSenderNames(t *testing.T) {
	names := senderNames([]tg.UserClass{
		&tg.User{ID: 1, FirstName: "Anna"},
		&tg.User{ID: 2, Username: "bob_k"},
		&tg.User{ID: 3},
	})
	assert.Equal(t, "Anna", names[1])
	assert.Equal(t, "bob_k", names[2])
	_, ok := names[3]
	assert.False(t, ok)
}

// historyStub satisfies the raw invoker contract so History goes through
// the real request encoding.
type historyStub struct {
	req      *tg.MessagesGetHistoryRequest
	messages []tg.MessageClass
}

func (s *historyStub) Invoke(_ context.Context, input bin.Encoder, output bin.Decoder) error {
	req, ok := input.(*tg.MessagesGetHistoryRequest)
	if !ok {
		return errors.New("unexpected request type")
	}
	s.req = req

	box, ok := output.(*tg.MessagesMessagesBox)
	if !ok {
		return errors.New("unexpected response type")
	}
	box.Messages = &tg.MessagesMessagesSlice{Messages: s.messages}
	return nil
}

func stubClient(inv tg.Invoker) *Client {
	return &Client{api: tg.NewClient(inv), clock: time.Now, logger: slog.Default()}
}

func TestHistoryPagesFromCheckpoint(t *testing.T) {
	now := int(time.Now().Add(-time.Hour).Unix())
	stub := &historyStub{messages: []tg.MessageClass{
		&tg.Message{ID: 103, Date: now, Message: "three"},
		&tg.Message{ID: 102, Date: now, Message: "two"},
		&tg.Message{ID: 101, Date: now, Message: "one"},
	}}
	c := stubClient(stub)

	msgs, err := c.History(context.Background(),
		domain.Entity{ID: 42, Kind: domain.EntityUser},
		domain.FetchOptions{MinID: 100, Limit: 30})
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	// The window anchors at the checkpoint and pages toward newer messages,
	// so a capped fetch returns the oldest unseen chunk rather than the
	// newest messages.
	require.NotNil(t, stub.req)
	assert.Equal(t, 100, stub.req.OffsetID)
	assert.Equal(t, -30, stub.req.AddOffset)
	assert.Equal(t, 100, stub.req.MinID)
	assert.Equal(t, 30, stub.req.Limit)
}

func TestHistoryAnchorsAtPeriodStart(t *testing.T) {
	since := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	stub := &historyStub{}
	c := stubClient(stub)

	_, err := c.History(context.Background(),
		domain.Entity{ID: 42, Kind: domain.EntityUser},
		domain.FetchOptions{Since: since, Limit: 10})
	require.NoError(t, err)

	require.NotNil(t, stub.req)
	assert.Equal(t, int(since.Unix()), stub.req.OffsetDate)
	assert.Equal(t, -10, stub.req.AddOffset)
	assert.Zero(t, stub.req.OffsetID)
	assert.Zero(t, stub.req.MinID)
}

func TestHistoryUncappedWithoutBounds(t *testing.T) {
	stub := &historyStub{}
	c := stubClient(stub)

	_, err := c.History(context.Background(),
		domain.Entity{ID: 42, Kind: domain.EntityUser},
		domain.FetchOptions{})
	require.NoError(t, err)

	require.NotNil(t, stub.req)
	assert.Zero(t, stub.req.AddOffset)
	assert.Equal(t, 100, stub.req.Limit)
}

func TestFloodWaitGate(t *testing.T) {
	c := &Client{clock: time.Now, logger: slog.Default()}

	require.NoError(t, c.checkFloodWait())

	c.noteError(errors.New("rpc error code 420: FLOOD_WAIT (30)"))
	err := c.checkFloodWait()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFloodWaitActive)

	// Unrelated errors never gate the client.
	c2 := &Client{clock: time.Now, logger: slog.Default()}
	c2.noteError(errors.New("rpc error code 400: CHANNEL_INVALID"))
	assert.NoError(t, c2.checkFloodWait())
}

func TestFloodWaitExpires(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	c := &Client{clock: func() time.Time { return now }, logger: slog.Default()}

	c.noteError(errors.New("FLOOD_WAIT (30)"))
	require.Error(t, c.checkFloodWait())

	now = now.Add(31 * time.Second)
	assert.NoError(t, c.checkFloodWait())
}
