// Package chat owns one user session's messaging state: channel membership,
// message history, typing indicators, and presence. Several logical streams
// are multiplexed over a small number of subscriptions and surfaced to the
// UI as a single ordered event stream.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nuid"

	"github.com/kitchensync/project/internal/blobstore"
	"github.com/kitchensync/project/internal/broadcast"
	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/feed"
	"github.com/kitchensync/project/internal/store"
)

var (
	ErrPartialDelivery = errors.New("message delivery failed on both storage targets")
	ErrNoScope         = errors.New("no channel selected")
	ErrSessionClosed   = errors.New("session is closed")
)

// DefaultDisplayName is the last resort of the identity resolution chain.
const DefaultDisplayName = "Kitchen Crew"

// EventTyping is the broadcast event name for typing signals.
const EventTyping = "typing"

// Principal is the authenticated identity the session is constructed with.
type Principal struct {
	UserID   string
	Username string
}

// ProfileCache is the locally cached profile consulted when the principal
// carries no display name.
type ProfileCache interface {
	DisplayName(userID string) (string, bool)
}

type EventKind string

const (
	EventMessage         EventKind = "message"
	EventTypingChanged   EventKind = "typing-changed"
	EventPresenceChanged EventKind = "presence-changed"
)

// Event is one entry of the ordered stream the UI consumes.
type Event struct {
	Kind     EventKind                  `json:"kind"`
	Message  *contracts.ChatMessage     `json:"message,omitempty"`
	Typing   []string                   `json:"typing,omitempty"`
	Presence []contracts.PresenceRecord `json:"presence,omitempty"`
}

// Outgoing is the caller-supplied part of a message.
type Outgoing struct {
	ChannelID      string
	ConversationID string
	Kind           contracts.MessageKind
	Body           string
	Media          *contracts.MediaRef
	Shared         *contracts.CardSnapshot
}

type Session struct {
	Primary   store.Store
	Legacy    store.Store
	Feed      feed.Feed
	Broadcast broadcast.Broadcaster
	Blobs     blobstore.Uploader
	Profiles  ProfileCache
	Now       func() time.Time
	NewID     func() string

	// OnDelivered reports which storage target accepted a message:
	// "primary" or "legacy".
	OnDelivered func(target string)

	userID      string
	displayName string

	mu       sync.Mutex
	inited   bool
	closed   bool
	visible  bool
	selected contracts.Channel
	messages []contracts.ChatMessage
	seen     map[string]bool
	epoch    uint64
	subs     []func() error

	typing         map[string]*typingEntry
	lastTypingSent time.Time

	heartbeatStop chan struct{}
	events        chan Event
}

func NewSession(primary store.Store, fd feed.Feed, bc broadcast.Broadcaster, principal Principal) *Session {
	return &Session{
		Primary:     primary,
		Feed:        fd,
		Broadcast:   bc,
		Now:         func() time.Time { return time.Now().UTC() },
		NewID:       nuid.Next,
		userID:      principal.UserID,
		displayName: strings.TrimSpace(principal.Username),
		seen:        map[string]bool{},
		typing:      map[string]*typingEntry{},
		visible:     true,
		events:      make(chan Event, 128),
	}
}

// Init resolves the display name and asserts online presence. Safe to call
// once per session; repeat calls are no-ops.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.inited || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.inited = true
	if s.displayName == "" && s.Profiles != nil {
		if name, ok := s.Profiles.DisplayName(s.userID); ok && strings.TrimSpace(name) != "" {
			s.displayName = strings.TrimSpace(name)
		}
	}
	if s.displayName == "" {
		s.displayName = DefaultDisplayName
	}
	s.heartbeatStop = make(chan struct{})
	s.mu.Unlock()

	if err := s.UpdatePresence(ctx, contracts.PresenceOnline); err != nil {
		return err
	}
	go s.heartbeatLoop()
	return nil
}

// Identity returns the resolved user id and display name.
func (s *Session) Identity() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.displayName
}

// Events is the single ordered stream the UI renders from.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Channels lists the rooms. An empty or failing store degrades to the
// built-in default set so the UI is never empty; that is policy, not error.
func (s *Session) Channels(ctx context.Context) []contracts.Channel {
	rows, err := s.Primary.Query(ctx, store.TableChannels, nil, &store.Order{Column: "name"})
	if err != nil || len(rows) == 0 {
		return DefaultChannels()
	}
	var channels []contracts.Channel
	if err := store.DecodeRows(rows, &channels); err != nil || len(channels) == 0 {
		return DefaultChannels()
	}
	return channels
}

// CreateChannel persists a new named room.
func (s *Session) CreateChannel(ctx context.Context, name, description, icon, color string) (contracts.Channel, error) {
	ch := contracts.Channel{
		ID:          s.NewID(),
		Name:        slugify(name),
		Description: description,
		Icon:        icon,
		Color:       color,
		CreatedBy:   s.userID,
		CreatedAt:   s.Now(),
	}
	row, err := store.EncodeRow(ch)
	if err != nil {
		return contracts.Channel{}, err
	}
	if _, err := s.Primary.Insert(ctx, store.TableChannels, row); err != nil {
		return contracts.Channel{}, err
	}
	return ch, nil
}

// SelectChannel tears down the previous channel's three subscriptions and
// establishes new ones: scoped message changes, scoped typing broadcasts,
// and the unscoped legacy message stream. Stale deliveries are tagged with
// the subscription epoch and dropped after a switch.
func (s *Session) SelectChannel(ctx context.Context, channel contracts.Channel) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.epoch++
	epoch := s.epoch
	old := s.subs
	s.subs = nil
	s.selected = channel
	s.messages = nil
	s.seen = map[string]bool{}
	s.resetTypingLocked()
	s.mu.Unlock()

	for _, unsub := range old {
		_ = unsub()
	}

	history, err := s.loadHistory(ctx, channel.ID)
	if err != nil {
		return err
	}

	msgSub, err := s.Feed.Subscribe(store.TableMessages, map[string]string{"channel_id": channel.ID}, func(event contracts.ChangeEvent) {
		s.handleMessageChange(event, epoch)
	})
	if err != nil {
		return err
	}

	typingSub, err := s.Broadcast.Subscribe(channel.ID, EventTyping, func(payload []byte) {
		s.handleTypingPayload(payload, epoch)
	})
	if err != nil {
		_ = msgSub.Unsubscribe()
		return err
	}

	// The legacy stream has no scope filter; scope and duplicates are
	// filtered client-side against messages already seen on the scoped feed.
	legacySub, err := s.Feed.Subscribe(store.TableMessagesLegacy, nil, func(event contracts.ChangeEvent) {
		s.handleMessageChange(event, epoch)
	})
	if err != nil {
		_ = msgSub.Unsubscribe()
		_ = typingSub.Unsubscribe()
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// A later switch won the race; do not install these.
		s.mu.Unlock()
		_ = msgSub.Unsubscribe()
		_ = typingSub.Unsubscribe()
		_ = legacySub.Unsubscribe()
		return nil
	}
	s.subs = []func() error{msgSub.Unsubscribe, typingSub.Unsubscribe, legacySub.Unsubscribe}
	s.messages = history
	for _, m := range history {
		s.seen[m.ID] = true
	}
	s.mu.Unlock()
	return nil
}

// Selected returns the currently selected channel.
func (s *Session) Selected() contracts.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Messages returns the ordered message list for the selected scope.
func (s *Session) Messages() []contracts.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// SendMessage persists the message with client-clock send time. Delivery is
// best-effort across the primary and legacy targets in fixed priority
// order; the call only fails once both have failed.
func (s *Session) SendMessage(ctx context.Context, out Outgoing) (contracts.ChatMessage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return contracts.ChatMessage{}, ErrSessionClosed
	}
	userID, displayName := s.userID, s.displayName
	s.mu.Unlock()

	msg := contracts.ChatMessage{
		ID:             s.NewID(),
		ChannelID:      out.ChannelID,
		ConversationID: out.ConversationID,
		SenderID:       userID,
		SenderName:     displayName,
		Kind:           out.Kind,
		Body:           out.Body,
		Media:          out.Media,
		Shared:         out.Shared,
		CreatedAt:      s.Now(),
		ReadBy:         []string{userID},
	}
	if err := msg.Validate(); err != nil {
		return contracts.ChatMessage{}, err
	}

	row, err := store.EncodeRow(msg)
	if err != nil {
		return contracts.ChatMessage{}, err
	}

	_, primaryErr := s.Primary.Insert(ctx, store.TableMessages, row)
	if primaryErr != nil {
		if msg.Kind != contracts.MessageText || s.Legacy == nil {
			return contracts.ChatMessage{}, primaryErr
		}
		if _, legacyErr := s.Legacy.Insert(ctx, store.TableMessagesLegacy, row); legacyErr != nil {
			return contracts.ChatMessage{}, fmt.Errorf("%w: primary: %v; legacy: %v", ErrPartialDelivery, primaryErr, legacyErr)
		}
		s.deliveredVia("legacy")
	} else {
		s.deliveredVia("primary")
	}

	s.appendLocal(msg)
	return msg, nil
}

// SendVoiceMessage uploads the audio blob for a durable URL; if storage is
// unreachable the payload is inlined as a data URI and the message still
// delivers through the normal path.
func (s *Session) SendVoiceMessage(ctx context.Context, out Outgoing, blob []byte, contentType string, durationSec float64) (contracts.ChatMessage, error) {
	url := s.uploadOrInline(ctx, "voice/"+s.NewID(), blob, contentType)
	out.Kind = contracts.MessageVoice
	out.Media = &contracts.MediaRef{URL: url, DurationSec: durationSec}
	return s.SendMessage(ctx, out)
}

// SendImageMessage behaves like SendVoiceMessage for image payloads.
func (s *Session) SendImageMessage(ctx context.Context, out Outgoing, blob []byte, contentType string) (contracts.ChatMessage, error) {
	url := s.uploadOrInline(ctx, "images/"+s.NewID(), blob, contentType)
	out.Kind = contracts.MessageImage
	out.Media = &contracts.MediaRef{URL: url}
	return s.SendMessage(ctx, out)
}

// MarkRead records the session user's read acknowledgment on a message.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	s.mu.Lock()
	var readBy []string
	found := false
	for i := range s.messages {
		if s.messages[i].ID != messageID {
			continue
		}
		found = true
		for _, reader := range s.messages[i].ReadBy {
			if reader == s.userID {
				s.mu.Unlock()
				return nil
			}
		}
		s.messages[i].ReadBy = append(s.messages[i].ReadBy, s.userID)
		readBy = append([]string(nil), s.messages[i].ReadBy...)
		break
	}
	s.mu.Unlock()
	if !found {
		return nil
	}
	return s.Primary.Update(ctx, store.TableMessages, store.Filter{"id": messageID}, store.Row{"read_by": readBy})
}

// Close tears down subscriptions and timers and asserts offline presence.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.resetTypingLocked()
	stop := s.heartbeatStop
	s.heartbeatStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, unsub := range subs {
		_ = unsub()
	}
	return s.writePresence(ctx, contracts.PresenceOffline)
}

func (s *Session) loadHistory(ctx context.Context, channelID string) ([]contracts.ChatMessage, error) {
	rows, err := s.Primary.Query(ctx, store.TableMessages,
		store.Filter{"channel_id": channelID},
		&store.Order{Column: "created_at"},
	)
	if err != nil {
		return nil, err
	}
	var history []contracts.ChatMessage
	if err := store.DecodeRows(rows, &history); err != nil {
		return nil, store.NewError(store.KindNetwork, "query", store.TableMessages, err)
	}
	return history, nil
}

func (s *Session) handleMessageChange(event contracts.ChangeEvent, epoch uint64) {
	if event.Op != contracts.ChangeInsert {
		return
	}
	var msg contracts.ChatMessage
	if err := json.Unmarshal(event.Row, &msg); err != nil {
		return
	}

	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if msg.Scope() != s.selected.ID || s.seen[msg.ID] {
		s.mu.Unlock()
		return
	}
	s.seen[msg.ID] = true
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessage, Message: &msg})
}

func (s *Session) appendLocal(msg contracts.ChatMessage) {
	s.mu.Lock()
	if s.closed || s.seen[msg.ID] {
		s.mu.Unlock()
		return
	}
	if msg.Scope() == s.selected.ID {
		s.seen[msg.ID] = true
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessage, Message: &msg})
}

func (s *Session) deliveredVia(target string) {
	if s.OnDelivered != nil {
		s.OnDelivered(target)
	}
}

func (s *Session) uploadOrInline(ctx context.Context, path string, blob []byte, contentType string) string {
	if s.Blobs != nil {
		if url, err := s.Blobs.Upload(ctx, path, blob, contentType); err == nil && url != "" {
			return url
		}
	}
	return blobstore.DataURI(blob, contentType)
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- event:
		default:
		}
	}
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "-")
}

// DefaultChannels is the built-in room set used when the store has none.
func DefaultChannels() []contracts.Channel {
	return []contracts.Channel{
		{ID: "general", Name: "general", Description: "Team-wide chatter", Icon: "💬", Color: "#6366f1"},
		{ID: "kitchen-prep", Name: "kitchen-prep", Description: "Prep lists and station handoffs", Icon: "🔪", Color: "#f59e0b"},
		{ID: "cleaning", Name: "cleaning", Description: "Cleaning checklists", Icon: "🧽", Color: "#10b981"},
		{ID: "announcements", Name: "announcements", Description: "Front-of-house announcements", Icon: "📢", Color: "#ef4444"},
	}
}
