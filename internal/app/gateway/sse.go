package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nats-io/nuid"

	"github.com/kitchensync/project/internal/app/chat"
	"github.com/kitchensync/project/internal/app/identity"
	"github.com/kitchensync/project/internal/platform/httpmetrics"
)

// HandleEvents serves the single multiplexed SSE stream a client holds: board
// snapshots and chat events interleaved on one connection. The token rides in
// a query parameter because EventSource cannot set headers.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = identity.BearerToken(r.Header.Get("Authorization"))
	}
	claims, err := h.Tokens.Parse(token)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	principal := chat.Principal{UserID: claims.Subject, Username: claims.Username}
	ws, err := h.Sessions.Acquire(r.Context(), principal)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	streamCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	streamID := nuid.Next()
	if prev := h.Sessions.AttachStream(claims.Subject, streamID, cancel); prev != nil {
		prev()
	}
	defer h.Sessions.ReleaseStream(context.Background(), claims.Subject, streamID)

	httpmetrics.ActiveSessions.Inc()
	defer httpmetrics.ActiveSessions.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	boardCh, unwatch := ws.Engine.Watch()
	defer unwatch()
	chatCh := ws.Chat.Events()

	writeEvent(w, "board", ws.Engine.Cards())
	flusher.Flush()

	for {
		select {
		case <-streamCtx.Done():
			return
		case cards, open := <-boardCh:
			if !open {
				return
			}
			writeEvent(w, "board", cards)
			flusher.Flush()
		case event, open := <-chatCh:
			if !open {
				return
			}
			writeEvent(w, "chat", event)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
