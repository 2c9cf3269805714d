//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kitchensync/project/internal/app/board"
	"github.com/kitchensync/project/internal/app/chat"
	"github.com/kitchensync/project/internal/broadcast"
	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/feed"
	"github.com/kitchensync/project/internal/store"
)

// hub is an in-memory store plus change feed plus broadcast bus, wired the way
// the production pieces are: every committed write fans out to feed
// subscribers, broadcasts are fire-and-forget.
type hub struct {
	mu    sync.Mutex
	rows  map[string][]store.Row
	next  int
	subs  []hubSub
	rooms map[string][]broadcast.Handler
}

type hubSub struct {
	table  string
	filter map[string]string
	fn     feed.Handler
	gone   *bool
}

func newHub() *hub {
	return &hub{rows: map[string][]store.Row{}, rooms: map[string][]broadcast.Handler{}}
}

func (h *hub) Insert(_ context.Context, table string, row store.Row) (store.Row, error) {
	h.mu.Lock()
	inserted := store.Row{}
	for k, v := range row {
		inserted[k] = v
	}
	if inserted["id"] == nil {
		h.next++
		inserted["id"] = fmt.Sprintf("gen-%d", h.next)
	}
	h.rows[table] = append(h.rows[table], inserted)
	h.mu.Unlock()

	h.announce(table, contracts.ChangeInsert, inserted)
	return inserted, nil
}

func (h *hub) Update(_ context.Context, table string, filter store.Filter, patch store.Row) error {
	h.mu.Lock()
	var changed []store.Row
	for _, row := range h.rows[table] {
		if !matches(row, filter) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		changed = append(changed, row)
	}
	h.mu.Unlock()

	for _, row := range changed {
		h.announce(table, contracts.ChangeUpdate, row)
	}
	return nil
}

func (h *hub) Delete(_ context.Context, table string, filter store.Filter) error {
	h.mu.Lock()
	var kept, removed []store.Row
	for _, row := range h.rows[table] {
		if matches(row, filter) {
			removed = append(removed, row)
			continue
		}
		kept = append(kept, row)
	}
	h.rows[table] = kept
	h.mu.Unlock()

	for _, row := range removed {
		h.announce(table, contracts.ChangeDelete, row)
	}
	return nil
}

func (h *hub) Query(_ context.Context, table string, filter store.Filter, _ *store.Order) ([]store.Row, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []store.Row
	for _, row := range h.rows[table] {
		if matches(row, filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

func matches(row store.Row, filter store.Filter) bool {
	for k, want := range filter {
		if row[k] != want {
			return false
		}
	}
	return true
}

type hubUnsub struct{ gone *bool }

func (u hubUnsub) Unsubscribe() error { *u.gone = true; return nil }

func (h *hub) Subscribe(table string, filter map[string]string, fn feed.Handler) (feed.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	gone := new(bool)
	h.subs = append(h.subs, hubSub{table: table, filter: filter, fn: fn, gone: gone})
	return hubUnsub{gone: gone}, nil
}

func (h *hub) announce(table string, op contracts.ChangeOp, row store.Row) {
	raw, err := json.Marshal(row)
	if err != nil {
		return
	}
	event := contracts.ChangeEvent{Table: table, Op: op, Row: raw}

	h.mu.Lock()
	subs := append([]hubSub(nil), h.subs...)
	h.mu.Unlock()
	for _, sub := range subs {
		if *sub.gone || sub.table != table || !feed.MatchesFilter(event, sub.filter) {
			continue
		}
		sub.fn(event)
	}
}

func (h *hub) Publish(room, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.Lock()
	handlers := append([]broadcast.Handler(nil), h.rooms[room+"/"+event]...)
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(raw)
	}
}

type nopBroadcastSub struct{}

func (nopBroadcastSub) Unsubscribe() error { return nil }

func (h *hub) BroadcastSubscribe(room, event string, fn broadcast.Handler) (broadcast.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms[room+"/"+event] = append(h.rooms[room+"/"+event], fn)
	return nopBroadcastSub{}, nil
}

// hubBroadcaster adapts hub to the broadcast interface without colliding with
// the feed Subscribe method.
type hubBroadcaster struct{ h *hub }

func (b hubBroadcaster) Publish(room, event string, payload any) { b.h.Publish(room, event, payload) }
func (b hubBroadcaster) Subscribe(room, event string, fn broadcast.Handler) (broadcast.Subscription, error) {
	return b.h.BroadcastSubscribe(room, event, fn)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBoard_TwoSessionsConvergeThroughChangeFeed(t *testing.T) {
	h := newHub()

	alice := board.NewEngine(h, h)
	bob := board.NewEngine(h, h)
	defer alice.Stop()
	defer bob.Stop()

	ctx := context.Background()
	if err := alice.Start(ctx); err != nil {
		t.Fatalf("alice start: %v", err)
	}
	if err := bob.Start(ctx); err != nil {
		t.Fatalf("bob start: %v", err)
	}

	card, err := alice.CreateCard(ctx, board.CardDraft{Title: "Prep stock"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "bob to see the new card", func() bool {
		return len(bob.Cards()) == 1
	})

	if err := alice.MoveCard(ctx, card.ID, contracts.ColumnInProgress, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, "bob to converge on the move", func() bool {
		got := bob.ColumnCards(contracts.ColumnInProgress)
		return len(got) == 1 && got[0].ID == card.ID && got[0].Status == contracts.StatusInProgress
	})
	waitFor(t, "alice to clear pending", func() bool {
		return len(alice.Pending()) == 0
	})
}

func TestChat_MessageAndTypingReachTheOtherSession(t *testing.T) {
	h := newHub()
	bc := hubBroadcaster{h: h}
	ctx := context.Background()

	alice := chat.NewSession(h, h, bc, chat.Principal{UserID: "u-alice", Username: "alice"})
	bob := chat.NewSession(h, h, bc, chat.Principal{UserID: "u-bob", Username: "bob"})
	defer alice.Close(ctx)
	defer bob.Close(ctx)

	general := contracts.Channel{ID: "general", Name: "general"}
	if err := alice.SelectChannel(ctx, general); err != nil {
		t.Fatalf("alice select: %v", err)
	}
	if err := bob.SelectChannel(ctx, general); err != nil {
		t.Fatalf("bob select: %v", err)
	}

	if _, err := alice.SendMessage(ctx, chat.Outgoing{
		ChannelID: "general",
		Kind:      contracts.MessageText,
		Body:      "86 the salmon",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "bob to receive the message", func() bool {
		msgs := bob.Messages()
		return len(msgs) == 1 && msgs[0].Body == "86 the salmon" && msgs[0].SenderName == "alice"
	})

	alice.SendTyping()
	waitFor(t, "bob to see alice typing", func() bool {
		users := bob.TypingUsers()
		return len(users) == 1 && users[0] == "alice"
	})
	if users := alice.TypingUsers(); len(users) != 0 {
		t.Fatalf("alice must not see herself typing: %v", users)
	}
}
