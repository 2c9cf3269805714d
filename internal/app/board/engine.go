// Package board owns the authoritative in-memory card collection for one
// user session. Local moves apply optimistically and persist in the
// background; change feed notifications trigger a full reload so every
// session converges on the store's state.
package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/feed"
	"github.com/kitchensync/project/internal/store"
)

var (
	ErrTitleRequired  = errors.New("title is required")
	ErrUnknownColumn  = errors.New("unknown board column")
	ErrCardNotFound   = errors.New("card not found")
	ErrEngineClosed   = errors.New("engine is closed")
)

// RollbackPolicy decides what happens to optimistic state when persistence
// of a move fails.
type RollbackPolicy int

const (
	// RollbackNever keeps the optimistic result; the next reload corrects it.
	RollbackNever RollbackPolicy = iota
	// RollbackToRemote recovers by reloading the authoritative card set.
	RollbackToRemote
)

// CalendarSource supplies read-only calendar pseudo-cards merged into derived
// views. They are never draggable or persisted.
type CalendarSource interface {
	Events(ctx context.Context) ([]contracts.Card, error)
}

// CardDraft holds the caller-supplied fields for a new card.
type CardDraft struct {
	Title       string
	Description string
	Priority    contracts.Priority
	DueAt       *time.Time
}

// PendingMove records an optimistic move whose persistence has not been
// confirmed yet.
type PendingMove struct {
	CardID   string
	IssuedAt time.Time
	Target   contracts.ColumnKey
	Index    int
}

const reloadDebounce = 75 * time.Millisecond

type Engine struct {
	Store    store.Store
	Feed     feed.Feed
	Calendar CalendarSource
	Rollback RollbackPolicy
	Now      func() time.Time

	// OnPersistFailure is invoked when a background write for a move fails.
	// The optimistic state is kept unless Rollback says otherwise.
	OnPersistFailure func(cardID string, err error)

	// OnReload is invoked for every full reload triggered by the change feed.
	OnReload func()

	mu          sync.Mutex
	cards       []contracts.Card
	calCards    []contracts.Card
	pending     map[string]PendingMove
	sub         feed.Subscription
	reloadTimer *time.Timer
	closed      bool

	persistCtx    context.Context
	persistCancel context.CancelFunc

	watchers    map[uint64]chan []contracts.Card
	nextWatcher uint64
}

func NewEngine(st store.Store, fd feed.Feed) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Store:         st,
		Feed:          fd,
		Now:           func() time.Time { return time.Now().UTC() },
		pending:       map[string]PendingMove{},
		watchers:      map[uint64]chan []contracts.Card{},
		persistCtx:    ctx,
		persistCancel: cancel,
	}
}

// Start loads the card set and attaches to the change feed. Calendar events
// are fetched best-effort; the board works without them.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.LoadAll(ctx); err != nil {
		return err
	}

	if e.Feed != nil {
		sub, err := e.Feed.Subscribe(store.TableCards, nil, func(contracts.ChangeEvent) {
			e.scheduleReload()
		})
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.sub = sub
		e.mu.Unlock()
	}

	if e.Calendar != nil {
		if events, err := e.Calendar.Events(ctx); err == nil {
			e.mu.Lock()
			e.calCards = markReadOnly(events)
			e.mu.Unlock()
		}
	}
	return nil
}

// Stop detaches from the feed and aborts in-flight persistence so nothing
// mutates state after teardown.
func (e *Engine) Stop() {
	e.mu.Lock()
	sub := e.sub
	timer := e.reloadTimer
	e.sub = nil
	e.reloadTimer = nil
	e.closed = true
	e.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	e.persistCancel()
}

// LoadAll replaces local state wholesale with the store's card set. Any
// optimistic move the store does not yet reflect is discarded.
func (e *Engine) LoadAll(ctx context.Context) error {
	rows, err := e.Store.Query(ctx, store.TableCards, nil, &store.Order{Column: "position"})
	if err != nil {
		return err
	}
	var cards []contracts.Card
	if err := store.DecodeRows(rows, &cards); err != nil {
		return store.NewError(store.KindNetwork, "query", store.TableCards, err)
	}

	e.mu.Lock()
	e.cards = regroup(cards)
	e.pending = map[string]PendingMove{}
	e.mu.Unlock()

	e.notify()
	return nil
}

// Cards returns the ordered card sequence, grouped by column.
func (e *Engine) Cards() []contracts.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyCards(e.cards)
}

// ColumnCards returns the ordered cards of one column.
func (e *Engine) ColumnCards(key contracts.ColumnKey) []contracts.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []contracts.Card
	for _, c := range e.cards {
		if c.SectionKey == key {
			out = append(out, c)
		}
	}
	return out
}

// Pending returns the moves whose persistence is still unconfirmed.
func (e *Engine) Pending() []PendingMove {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingMove, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p)
	}
	return out
}

// CreateCard validates the draft and inserts it. Create is not optimistic:
// the client cannot assign a durable id, so local state only changes after
// the store returns the new row.
func (e *Engine) CreateCard(ctx context.Context, draft CardDraft) (contracts.Card, error) {
	if isBlank(draft.Title) {
		return contracts.Card{}, ErrTitleRequired
	}
	priority := draft.Priority
	if priority == "" {
		priority = contracts.PriorityMedium
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return contracts.Card{}, ErrEngineClosed
	}
	position := len(filterColumn(e.cards, contracts.DefaultColumn))
	e.mu.Unlock()

	now := e.Now()
	row := store.Row{
		"title":       draft.Title,
		"description": draft.Description,
		"priority":    string(priority),
		"status":      string(contracts.StatusTodo),
		"section_key": string(contracts.DefaultColumn),
		"position":    position,
		"created_at":  now,
		"updated_at":  now,
	}
	if draft.DueAt != nil {
		row["due_at"] = *draft.DueAt
	}

	inserted, err := e.Store.Insert(ctx, store.TableCards, row)
	if err != nil {
		return contracts.Card{}, err
	}
	var card contracts.Card
	if err := store.DecodeRow(inserted, &card); err != nil {
		return contracts.Card{}, store.NewError(store.KindNetwork, "insert", store.TableCards, err)
	}

	e.mu.Lock()
	e.cards = regroup(append(e.cards, card))
	e.mu.Unlock()
	e.notify()
	return card, nil
}

// MoveCard applies the move immediately and optimistically, then persists the
// moved card's new column, status, and position in the background. Moves are
// not serialized against each other; the last write to land at the store
// wins there.
func (e *Engine) MoveCard(ctx context.Context, cardID string, target contracts.ColumnKey, targetIndex int) error {
	if !contracts.IsValidColumn(target) {
		return ErrUnknownColumn
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	idx := indexOf(e.cards, cardID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrCardNotFound
	}

	card := e.cards[idx]
	now := e.Now()

	rest := removeAt(e.cards, idx)
	dest := filterColumn(rest, target)
	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(dest) {
		targetIndex = len(dest)
	}

	card.SectionKey = target
	applyStatusForColumn(&card, target, now)
	card.UpdatedAt = now

	dest = insertAt(dest, targetIndex, card)
	e.cards = rebuild(rest, target, dest)

	moved := findByID(e.cards, cardID)
	patch := store.Row{
		"section_key": string(moved.SectionKey),
		"status":      string(moved.Status),
		"position":    moved.Position,
		"updated_at":  moved.UpdatedAt,
	}
	if moved.CompletedAt != nil {
		patch["completed_at"] = *moved.CompletedAt
	} else {
		patch["completed_at"] = nil
	}
	e.pending[cardID] = PendingMove{CardID: cardID, IssuedAt: now, Target: target, Index: targetIndex}
	e.mu.Unlock()

	e.notify()

	go e.persistMove(cardID, patch)
	return nil
}

func (e *Engine) persistMove(cardID string, patch store.Row) {
	err := e.Store.Update(e.persistCtx, store.TableCards, store.Filter{"id": cardID}, patch)

	e.mu.Lock()
	if p, ok := e.pending[cardID]; ok && p.CardID == cardID {
		delete(e.pending, cardID)
	}
	closed := e.closed
	e.mu.Unlock()

	if err == nil || closed {
		return
	}
	if e.OnPersistFailure != nil {
		e.OnPersistFailure(cardID, err)
	}
	if e.Rollback == RollbackToRemote {
		// Recover by converging on the store's authoritative state.
		reloadCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = e.LoadAll(reloadCtx)
	}
}

// DeleteCard removes the card locally right away and issues the remote
// delete. A failed delete is surfaced but the local removal stands.
func (e *Engine) DeleteCard(ctx context.Context, cardID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	idx := indexOf(e.cards, cardID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrCardNotFound
	}
	e.cards = regroup(removeAt(e.cards, idx))
	e.mu.Unlock()

	e.notify()
	return e.Store.Delete(ctx, store.TableCards, store.Filter{"id": cardID})
}

// Snapshot returns the denormalized copy used by task-share messages.
func (e *Engine) Snapshot(cardID string) (contracts.CardSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.cards {
		if c.ID == cardID {
			return contracts.CardSnapshot{
				CardID:   c.ID,
				Title:    c.Title,
				Status:   c.Status,
				Priority: c.Priority,
			}, nil
		}
	}
	return contracts.CardSnapshot{}, ErrCardNotFound
}

// Watch registers a subscriber for board snapshots. Slow subscribers drop
// intermediate snapshots rather than block the engine.
func (e *Engine) Watch() (<-chan []contracts.Card, func()) {
	ch := make(chan []contracts.Card, 1)

	e.mu.Lock()
	e.nextWatcher++
	id := e.nextWatcher
	e.watchers[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) scheduleReload() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.reloadTimer == nil {
		e.reloadTimer = time.AfterFunc(reloadDebounce, e.runReload)
		e.mu.Unlock()
		return
	}
	e.reloadTimer.Reset(reloadDebounce)
	e.mu.Unlock()
}

func (e *Engine) runReload() {
	e.mu.Lock()
	e.reloadTimer = nil
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	if e.OnReload != nil {
		e.OnReload()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = e.LoadAll(ctx)
}

func (e *Engine) notify() {
	e.mu.Lock()
	snapshot := copyCards(e.cards)
	subs := make([]chan []contracts.Card, 0, len(e.watchers))
	for _, ch := range e.watchers {
		subs = append(subs, ch)
	}
	e.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

func applyStatusForColumn(card *contracts.Card, target contracts.ColumnKey, now time.Time) {
	mapped := contracts.StatusForColumn(target)
	if target == contracts.ColumnCompleted {
		card.Status = contracts.StatusCompleted
		if card.CompletedAt == nil {
			ts := now
			card.CompletedAt = &ts
		}
		return
	}
	if card.Status == contracts.StatusCompleted {
		card.CompletedAt = nil
	}
	card.Status = mapped
}

func markReadOnly(cards []contracts.Card) []contracts.Card {
	out := copyCards(cards)
	for i := range out {
		out[i].ReadOnly = true
	}
	return out
}
