package chat

import (
	"context"
	"time"

	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/store"
)

// HeartbeatInterval is how often an active foreground session re-asserts
// online presence.
const HeartbeatInterval = 30 * time.Second

// PresenceStaleAfter is the client-side staleness cutoff: a record whose
// last-seen timestamp is older than two heartbeat intervals is treated as
// offline even though the store never expires rows. A crashed client that
// never wrote offline disappears after this window.
const PresenceStaleAfter = 2 * HeartbeatInterval

// UpdatePresence upserts this session's presence record.
func (s *Session) UpdatePresence(ctx context.Context, status contracts.PresenceStatus) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()
	return s.writePresence(ctx, status)
}

func (s *Session) writePresence(ctx context.Context, status contracts.PresenceStatus) error {
	s.mu.Lock()
	record := contracts.PresenceRecord{
		UserID:      s.userID,
		DisplayName: s.displayName,
		Status:      status,
		LastSeenAt:  s.Now(),
	}
	s.mu.Unlock()

	row, err := store.EncodeRow(record)
	if err != nil {
		return err
	}

	existing, err := s.Primary.Query(ctx, store.TablePresence, store.Filter{"user_id": record.UserID}, nil)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		_, err := s.Primary.Insert(ctx, store.TablePresence, row)
		return err
	}
	patch := store.Row{
		"display_name": record.DisplayName,
		"status":       string(record.Status),
		"last_seen_at": record.LastSeenAt,
	}
	return s.Primary.Update(ctx, store.TablePresence, store.Filter{"user_id": record.UserID}, patch)
}

// SetVisibility mirrors document visibility onto presence: hidden asserts
// away, foreground asserts online.
func (s *Session) SetVisibility(ctx context.Context, hidden bool) error {
	s.mu.Lock()
	s.visible = !hidden
	s.mu.Unlock()

	if hidden {
		return s.UpdatePresence(ctx, contracts.PresenceAway)
	}
	return s.UpdatePresence(ctx, contracts.PresenceOnline)
}

// OnlineUsers lists everyone not offline, with the staleness cutoff applied
// locally at read time.
func (s *Session) OnlineUsers(ctx context.Context) ([]contracts.PresenceRecord, error) {
	rows, err := s.Primary.Query(ctx, store.TablePresence, nil, &store.Order{Column: "display_name"})
	if err != nil {
		return nil, err
	}
	var records []contracts.PresenceRecord
	if err := store.DecodeRows(rows, &records); err != nil {
		return nil, store.NewError(store.KindNetwork, "query", store.TablePresence, err)
	}

	now := s.Now()
	out := make([]contracts.PresenceRecord, 0, len(records))
	for _, r := range records {
		if r.Status == contracts.PresenceOffline {
			continue
		}
		if now.Sub(r.LastSeenAt) > PresenceStaleAfter {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Session) heartbeatLoop() {
	s.mu.Lock()
	stop := s.heartbeatStop
	s.mu.Unlock()
	if stop == nil {
		return
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			visible := s.visible
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if !visible {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.writePresence(ctx, contracts.PresenceOnline)
			cancel()
		}
	}
}
