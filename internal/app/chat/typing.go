package chat

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/kitchensync/project/internal/contracts"
)

// TypingWindow is how long a remote user stays marked typing after their
// most recent signal.
const TypingWindow = 3 * time.Second

// typingDebounce caps the outbound signal rate to one per keystroke burst.
const typingDebounce = time.Second

type typingEntry struct {
	name  string
	room  string
	timer *time.Timer
}

// SendTyping broadcasts a typing signal for the selected channel. It is
// fire-and-forget and debounced; dropping a signal only delays the remote
// indicator by one burst.
func (s *Session) SendTyping() {
	s.mu.Lock()
	if s.closed || s.selected.ID == "" {
		s.mu.Unlock()
		return
	}
	now := s.Now()
	if now.Sub(s.lastTypingSent) < typingDebounce {
		s.mu.Unlock()
		return
	}
	s.lastTypingSent = now
	signal := contracts.TypingSignal{
		UserID:      s.userID,
		DisplayName: s.displayName,
		Room:        s.selected.ID,
		SentAt:      now,
	}
	s.mu.Unlock()

	s.Broadcast.Publish(signal.Room, EventTyping, signal)
}

// TypingUsers returns the display names currently marked typing, sorted.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.typing))
	for _, entry := range s.typing {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}

// handleTypingPayload applies one received broadcast signal. Self-originated
// signals are filtered by identity; each (user, room) pair keeps a single
// expiry timer that is reset on every new signal, so the indicator holds for
// a full window after the most recent signal instead of flickering.
func (s *Session) handleTypingPayload(payload []byte, epoch uint64) {
	var signal contracts.TypingSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return
	}

	s.mu.Lock()
	if s.closed || s.epoch != epoch || signal.UserID == s.userID {
		s.mu.Unlock()
		return
	}
	key := signal.UserID + "\x00" + signal.Room
	if entry, ok := s.typing[key]; ok {
		entry.timer.Reset(TypingWindow)
		s.mu.Unlock()
		return
	}
	entry := &typingEntry{name: signal.DisplayName, room: signal.Room}
	entry.timer = time.AfterFunc(TypingWindow, func() {
		s.expireTyping(key)
	})
	s.typing[key] = entry
	s.mu.Unlock()

	s.emit(Event{Kind: EventTypingChanged, Typing: s.TypingUsers()})
}

func (s *Session) expireTyping(key string) {
	s.mu.Lock()
	if _, ok := s.typing[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.typing, key)
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		s.emit(Event{Kind: EventTypingChanged, Typing: s.TypingUsers()})
	}
}

// resetTypingLocked stops every typing timer. Caller holds s.mu.
func (s *Session) resetTypingLocked() {
	for key, entry := range s.typing {
		entry.timer.Stop()
		delete(s.typing, key)
	}
}
