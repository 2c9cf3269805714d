package contracts

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ColumnKey partitions cards into workflow stages. Columns are fixed
// configuration, not persisted rows.
type ColumnKey string

const (
	ColumnPending    ColumnKey = "pending"
	ColumnInProgress ColumnKey = "in_progress"
	ColumnCompleted  ColumnKey = "completed"
	ColumnOverdue    ColumnKey = "overdue"
)

// DefaultColumn is where newly created cards land.
const DefaultColumn = ColumnPending

func Columns() []ColumnKey {
	return []ColumnKey{ColumnPending, ColumnInProgress, ColumnCompleted, ColumnOverdue}
}

func IsValidColumn(key ColumnKey) bool {
	switch key {
	case ColumnPending, ColumnInProgress, ColumnCompleted, ColumnOverdue:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// StatusForColumn is the fixed column-to-status mapping applied on every move.
// The overdue column is a due-date partition, not a lifecycle stage, so it
// maps to todo like pending does.
func StatusForColumn(key ColumnKey) Status {
	switch key {
	case ColumnInProgress:
		return StatusInProgress
	case ColumnCompleted:
		return StatusCompleted
	default:
		return StatusTodo
	}
}

// Card is one unit of work on the task board.
type Card struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	SectionKey  ColumnKey  `json:"section_key"`
	Position    int        `json:"position"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// ReadOnly marks calendar pseudo-cards merged into derived views. They are
	// never draggable or persisted.
	ReadOnly bool `json:"read_only,omitempty"`
}

// MessageKind selects which variant fields of a ChatMessage are populated.
type MessageKind string

const (
	MessageText      MessageKind = "text"
	MessageVoice     MessageKind = "voice"
	MessageImage     MessageKind = "image"
	MessageTaskShare MessageKind = "task-share"
)

// MediaRef points at an uploaded blob, or carries an inline data URI when the
// storage upload degraded.
type MediaRef struct {
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// CardSnapshot is a denormalized copy of a shared card, not a live link. It
// survives deletion of the referenced card.
type CardSnapshot struct {
	CardID   string   `json:"card_id"`
	Title    string   `json:"title"`
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`
}

var (
	ErrMessageScope    = errors.New("message must belong to exactly one channel or conversation")
	ErrMessageBody     = errors.New("text message requires a body")
	ErrMessageMedia    = errors.New("voice and image messages require a media reference")
	ErrMessageSnapshot = errors.New("task-share message requires a card snapshot with a title")
	ErrUnknownKind     = errors.New("unknown message kind")
)

// ChatMessage is a persisted message in a channel or 1:1 conversation.
type ChatMessage struct {
	ID             string        `json:"id"`
	ChannelID      string        `json:"channel_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	SenderID       string        `json:"sender_id"`
	SenderName     string        `json:"sender_name"`
	Kind           MessageKind   `json:"kind"`
	Body           string        `json:"body,omitempty"`
	Media          *MediaRef     `json:"media,omitempty"`
	Shared         *CardSnapshot `json:"shared,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ReadBy         []string      `json:"read_by,omitempty"`
}

// Validate enforces scope exclusivity and the variant-field pairing.
func (m ChatMessage) Validate() error {
	hasChannel := strings.TrimSpace(m.ChannelID) != ""
	hasConversation := strings.TrimSpace(m.ConversationID) != ""
	if hasChannel == hasConversation {
		return ErrMessageScope
	}
	switch m.Kind {
	case MessageText:
		if strings.TrimSpace(m.Body) == "" {
			return ErrMessageBody
		}
	case MessageVoice, MessageImage:
		if m.Media == nil || strings.TrimSpace(m.Media.URL) == "" {
			return ErrMessageMedia
		}
	case MessageTaskShare:
		if m.Shared == nil || strings.TrimSpace(m.Shared.Title) == "" {
			return ErrMessageSnapshot
		}
	default:
		return ErrUnknownKind
	}
	return nil
}

// Scope returns the room id the message belongs to.
func (m ChatMessage) Scope() string {
	if m.ChannelID != "" {
		return m.ChannelID
	}
	return m.ConversationID
}

// Channel is a named room every session can read. Membership is implicit.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Color       string    `json:"color"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord is upserted on every heartbeat and visibility change. The
// store never expires rows; staleness is applied by readers.
type PresenceRecord struct {
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
	Status      PresenceStatus `json:"status"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
}

// TypingSignal is ephemeral. It is broadcast, never persisted, and lives in
// each client's memory for a bounded window after receipt.
type TypingSignal struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Room        string    `json:"room"`
	SentAt      time.Time `json:"sent_at"`
}

type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// ChangeEvent is the row-level notification delivered by the change feed.
type ChangeEvent struct {
	Table string          `json:"table"`
	Op    ChangeOp        `json:"op"`
	Row   json.RawMessage `json:"row"`
}
