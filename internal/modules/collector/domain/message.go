package domain

import "time"

// MessageKind is the payload classification of a collected message.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindVoice     MessageKind = "voice"
	KindVideoNote MessageKind = "video_note"
	KindAudio     MessageKind = "audio"
	KindOther     MessageKind = "other"
)

// IsMedia reports whether the kind carries an audio/video payload.
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindVoice, KindVideoNote, KindAudio:
		return true
	default:
		return false
	}
}

// EntityKind describes what class of platform peer an Entity refers to.
type EntityKind string

const (
	EntityUser    EntityKind = "user"
	EntityChat    EntityKind = "chat"
	EntityChannel EntityKind = "channel"
	// EntityUnknown marks an entity built from a bare configured chat_id.
	// The platform client resolves the actual peer lazily.
	EntityUnknown EntityKind = "unknown"
)

// Entity is a resolved platform peer.
// ID uses the Bot-API convention: positive for users, negative for groups,
// -100-prefixed for supergroups and channels.
type Entity struct {
	ID         int64
	AccessHash int64
	Kind       EntityKind
	Title      string
}

// Dialog is one entry of the caller's known conversation list.
type Dialog struct {
	Title  string
	Entity Entity
}

// MediaMeta carries the kind-specific metadata of an audio/video payload.
type MediaMeta struct {
	Duration time.Duration
}

// PlatformMessage is the raw message shape produced by the platform client,
// before the collector classifies it.
type PlatformMessage struct {
	ID         int64
	Date       time.Time
	Sender     string // display name, "" when unknown
	Text       string
	Voice      *MediaMeta
	VideoNote  *MediaMeta
	Audio      *MediaMeta
	OtherMedia bool
}

// FetchOptions bounds a history request.
type FetchOptions struct {
	MinID int64
	Since time.Time
	Limit int
}

// CollectedMessage is the collector's output: one message with its payload
// kind resolved once at ingestion.
type CollectedMessage struct {
	ID       int64
	ChatID   int64
	Date     time.Time
	Sender   string // "" when unknown
	Kind     MessageKind
	Text     string        // set for KindText
	Duration time.Duration // set for media kinds when known
}

// Classify converts a raw platform message into a CollectedMessage,
// or reports false when the message carries nothing readable or transcribable.
func Classify(raw PlatformMessage, chatID int64) (CollectedMessage, bool) {
	msg := CollectedMessage{
		ID:     raw.ID,
		ChatID: chatID,
		Date:   raw.Date,
		Sender: raw.Sender,
	}

	switch {
	case raw.Voice != nil:
		msg.Kind = KindVoice
		msg.Duration = raw.Voice.Duration
	case raw.VideoNote != nil:
		msg.Kind = KindVideoNote
		msg.Duration = raw.VideoNote.Duration
	case raw.Audio != nil:
		msg.Kind = KindAudio
		msg.Duration = raw.Audio.Duration
	case raw.Text != "":
		msg.Kind = KindText
		msg.Text = raw.Text
	default:
		// Stickers, photos without captions and similar payloads carry
		// nothing to summarize.
		return CollectedMessage{}, false
	}

	return msg, true
}
