package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kitchensync/project/internal/app/board"
	"github.com/kitchensync/project/internal/app/chat"
	"github.com/kitchensync/project/internal/app/identity"
	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/platform/httpmetrics"
	"github.com/kitchensync/project/internal/store"
)

const maxUploadBytes = 8 << 20

type Handler struct {
	Identity      *identity.Service
	Tokens        identity.TokenManager
	Sessions      *Registry
	AllowedOrigin string
}

func NewHandler(identitySvc *identity.Service, tokens identity.TokenManager, sessions *Registry, allowedOrigin string) *Handler {
	return &Handler{
		Identity:      identitySvc,
		Tokens:        tokens,
		Sessions:      sessions,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/v1/auth/register", h.handleRegister)
	r.Post("/api/v1/auth/login", h.handleLogin)
	r.Get("/events", h.HandleEvents)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)

		authR.Get("/api/v1/cards", h.handleListCards)
		authR.Get("/api/v1/cards/view", h.handleCardView)
		authR.Post("/api/v1/cards", h.handleCreateCard)
		authR.Post("/api/v1/cards/{cardID}/move", h.handleMoveCard)
		authR.Delete("/api/v1/cards/{cardID}", h.handleDeleteCard)

		authR.Get("/api/v1/channels", h.handleListChannels)
		authR.Post("/api/v1/channels", h.handleCreateChannel)
		authR.Post("/api/v1/channels/{channelID}/select", h.handleSelectChannel)

		authR.Get("/api/v1/messages", h.handleListMessages)
		authR.Post("/api/v1/messages", h.handleSendMessage)
		authR.Post("/api/v1/messages/voice", h.handleSendVoice)
		authR.Post("/api/v1/messages/image", h.handleSendImage)
		authR.Post("/api/v1/messages/{messageID}/read", h.handleMarkRead)

		authR.Post("/api/v1/typing", h.handleTyping)
		authR.Post("/api/v1/presence", h.handlePresence)
		authR.Get("/api/v1/presence/online", h.handleOnlineUsers)
	})

	return r
}

type credentialsRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Register(r.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, identity.ErrInvalidPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				h.writeError(w, http.StatusConflict, "username already exists")
				return
			}
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListCards(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cards": ws.Engine.Cards()})
}

func (h *Handler) handleCardView(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	window := board.ParseWindow(r.URL.Query().Get("window"))
	h.writeJSON(w, http.StatusOK, map[string]any{"cards": ws.Engine.View(window), "window": window})
}

type createCardRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Priority    contracts.Priority `json:"priority"`
	DueAt       *time.Time         `json:"due_at"`
}

func (h *Handler) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req createCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	card, err := ws.Engine.CreateCard(r.Context(), board.CardDraft{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueAt:       req.DueAt,
	})
	if err != nil {
		h.writeBoardError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, card)
}

type moveCardRequest struct {
	Column contracts.ColumnKey `json:"column"`
	Index  int                 `json:"index"`
}

func (h *Handler) handleMoveCard(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req moveCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := ws.Engine.MoveCard(r.Context(), chi.URLParam(r, "cardID"), req.Column, req.Index); err != nil {
		h.writeBoardError(w, err)
		return
	}
	httpmetrics.CardMoves.Inc()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Engine.DeleteCard(r.Context(), chi.URLParam(r, "cardID")); err != nil {
		h.writeBoardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"channels": ws.Chat.Channels(r.Context())})
}

type createChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	channel, err := ws.Chat.CreateChannel(r.Context(), req.Name, req.Description, req.Icon, req.Color)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, channel)
}

func (h *Handler) handleSelectChannel(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	channelID := chi.URLParam(r, "channelID")
	var selected contracts.Channel
	for _, ch := range ws.Chat.Channels(r.Context()) {
		if ch.ID == channelID {
			selected = ch
			break
		}
	}
	if selected.ID == "" {
		h.writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	if err := ws.Chat.SelectChannel(r.Context(), selected); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"channel": selected, "messages": ws.Chat.Messages()})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"messages": ws.Chat.Messages()})
}

type sendMessageRequest struct {
	Kind           contracts.MessageKind `json:"kind"`
	Body           string                `json:"body"`
	ChannelID      string                `json:"channel_id"`
	ConversationID string                `json:"conversation_id"`
	SharedCardID   string                `json:"shared_card_id"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	out := chat.Outgoing{
		ChannelID:      req.ChannelID,
		ConversationID: req.ConversationID,
		Kind:           req.Kind,
		Body:           req.Body,
	}
	if out.Kind == "" {
		out.Kind = contracts.MessageText
	}
	if out.ChannelID == "" && out.ConversationID == "" {
		out.ChannelID = ws.Chat.Selected().ID
	}
	if out.Kind == contracts.MessageTaskShare {
		snapshot, err := ws.Engine.Snapshot(req.SharedCardID)
		if err != nil {
			h.writeBoardError(w, err)
			return
		}
		out.Shared = &snapshot
	}

	msg, err := ws.Chat.SendMessage(r.Context(), out)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleSendVoice(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, func(ws *Workspace, out chat.Outgoing, blob []byte, contentType string, duration float64) (contracts.ChatMessage, error) {
		return ws.Chat.SendVoiceMessage(r.Context(), out, blob, contentType, duration)
	})
}

func (h *Handler) handleSendImage(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, func(ws *Workspace, out chat.Outgoing, blob []byte, contentType string, _ float64) (contracts.ChatMessage, error) {
		return ws.Chat.SendImageMessage(r.Context(), out, blob, contentType)
	})
}

type uploadSendFunc func(ws *Workspace, out chat.Outgoing, blob []byte, contentType string, duration float64) (contracts.ChatMessage, error)

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request, send uploadSendFunc) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	blob, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var duration float64
	if raw := r.FormValue("duration_sec"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &duration)
	}
	out := chat.Outgoing{ChannelID: r.FormValue("channel_id"), ConversationID: r.FormValue("conversation_id")}
	if out.ChannelID == "" && out.ConversationID == "" {
		out.ChannelID = ws.Chat.Selected().ID
	}

	msg, err := send(ws, out, blob, contentType, duration)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Chat.MarkRead(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTyping(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ws.Chat.SendTyping()
	w.WriteHeader(http.StatusNoContent)
}

type presenceRequest struct {
	Hidden *bool                    `json:"hidden"`
	Status contracts.PresenceStatus `json:"status"`
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	var err error
	switch {
	case req.Hidden != nil:
		err = ws.Chat.SetVisibility(r.Context(), *req.Hidden)
	case req.Status != "":
		err = ws.Chat.UpdatePresence(r.Context(), req.Status)
	default:
		h.writeError(w, http.StatusBadRequest, "hidden or status is required")
		return
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	records, err := ws.Chat.OnlineUsers(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"online": records})
}

func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*Workspace, bool) {
	claims := claimsFromContext(r.Context())
	ws, err := h.Sessions.Acquire(r.Context(), chat.Principal{UserID: claims.Subject, Username: claims.Username})
	if err != nil {
		h.writeStoreError(w, err)
		return nil, false
	}
	return ws, true
}

func (h *Handler) writeBoardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, board.ErrTitleRequired), errors.Is(err, board.ErrUnknownColumn):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, board.ErrCardNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, board.ErrEngineClosed):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeStoreError(w, err)
	}
}

func (h *Handler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrPartialDelivery):
		httpmetrics.MessageDeliveryFailures.Inc()
		h.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, contracts.ErrMessageScope),
		errors.Is(err, contracts.ErrMessageBody),
		errors.Is(err, contracts.ErrMessageMedia),
		errors.Is(err, contracts.ErrMessageSnapshot),
		errors.Is(err, contracts.ErrUnknownKind):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrSessionClosed):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeStoreError(w, err)
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case store.IsKind(err, store.KindPermission):
		h.writeError(w, http.StatusForbidden, err.Error())
	case store.IsKind(err, store.KindConstraint):
		h.writeError(w, http.StatusConflict, err.Error())
	case store.IsKind(err, store.KindNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		origin := strings.TrimSpace(h.AllowedOrigin)
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Tokens.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims identity.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) identity.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(identity.Claims)
	return claims
}
