// Package gateway is the HTTP surface of the kitchen server: auth, board and
// chat operations, and the per-session SSE event stream.
package gateway

import (
	"context"
	"sync"

	"github.com/kitchensync/project/internal/app/board"
	"github.com/kitchensync/project/internal/app/chat"
)

// Workspace bundles the two per-session cores.
type Workspace struct {
	Engine *board.Engine
	Chat   *chat.Session
}

func (w *Workspace) Close(ctx context.Context) {
	w.Engine.Stop()
	_ = w.Chat.Close(ctx)
}

// WorkspaceFactory builds and starts a workspace for an authenticated
// principal.
type WorkspaceFactory func(ctx context.Context, principal chat.Principal) (*Workspace, error)

type lease struct {
	ws       *Workspace
	streamID string
	cancel   context.CancelFunc
}

// Registry holds one live workspace per user. An SSE reconnect replaces the
// prior stream; the workspace survives until its stream is released.
type Registry struct {
	New WorkspaceFactory

	mu     sync.Mutex
	byUser map[string]*lease
}

func NewRegistry(factory WorkspaceFactory) *Registry {
	return &Registry{New: factory, byUser: map[string]*lease{}}
}

// Acquire returns the user's workspace, creating it on first use.
func (r *Registry) Acquire(ctx context.Context, principal chat.Principal) (*Workspace, error) {
	r.mu.Lock()
	if l, ok := r.byUser[principal.UserID]; ok {
		r.mu.Unlock()
		return l.ws, nil
	}
	r.mu.Unlock()

	ws, err := r.New(ctx, principal)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if l, ok := r.byUser[principal.UserID]; ok {
		// Lost the creation race; keep the first workspace.
		r.mu.Unlock()
		ws.Close(ctx)
		return l.ws, nil
	}
	r.byUser[principal.UserID] = &lease{ws: ws}
	r.mu.Unlock()
	return ws, nil
}

// AttachStream registers an event stream for the user and cancels any
// previous one, mirroring replace-on-reconnect semantics.
func (r *Registry) AttachStream(userID, streamID string, cancel context.CancelFunc) context.CancelFunc {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	prev := l.cancel
	l.streamID = streamID
	l.cancel = cancel
	return prev
}

// ReleaseStream drops the user's workspace when the named stream is still
// the active one. A newer stream keeps the workspace alive.
func (r *Registry) ReleaseStream(ctx context.Context, userID, streamID string) {
	r.mu.Lock()
	l, ok := r.byUser[userID]
	if !ok || l.streamID != streamID {
		r.mu.Unlock()
		return
	}
	delete(r.byUser, userID)
	r.mu.Unlock()

	l.ws.Close(ctx)
}

// CloseAll tears down every workspace, asserting offline presence for each.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	leases := make([]*lease, 0, len(r.byUser))
	for _, l := range r.byUser {
		leases = append(leases, l)
	}
	r.byUser = map[string]*lease{}
	r.mu.Unlock()

	for _, l := range leases {
		if l.cancel != nil {
			l.cancel()
		}
		l.ws.Close(ctx)
	}
}
