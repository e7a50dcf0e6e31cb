package domain

import "time"

// Priority describes how prominently a chat appears in the aggregate digest.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority coerces any unrecognized value to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Icon returns the emoji used for this priority in rendered output.
func (p Priority) Icon() string {
	switch p {
	case PriorityHigh:
		return "🔴"
	case PriorityLow:
		return "🟢"
	default:
		return "🟡"
	}
}

// Label returns the human heading used for this priority bucket.
func (p Priority) Label() string {
	switch p {
	case PriorityHigh:
		return "High priority"
	case PriorityLow:
		return "Low priority"
	default:
		return "Medium priority"
	}
}

// MediaItem is a reference to a voice/video/audio message included in a summary.
type MediaItem struct {
	Emoji    string `json:"emoji"`
	Label    string `json:"label"`
	Duration string `json:"duration"` // "1:23" or ""
	Link     string `json:"link"`
	Sender   string `json:"sender"` // "" when unknown
}

// ChatSummary is the summarization result for a single chat's message batch.
type ChatSummary struct {
	ChatName     string      `json:"chat_name"`
	Priority     Priority    `json:"priority"`
	Summary      string      `json:"summary"`
	Actions      []string    `json:"actions"`
	MessageCount int         `json:"message_count"`
	MediaItems   []MediaItem `json:"media_items"`
}

// FullSummary is the aggregated, priority-grouped digest of all chats.
type FullSummary struct {
	Chats       []*ChatSummary `json:"chats"`
	Aggregate   string         `json:"aggregate"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// StoredSummary is a previously saved digest artifact.
type StoredSummary struct {
	Name        string    `json:"name"`
	GeneratedAt time.Time `json:"generated_at"`
	Content     string    `json:"content"`
}
