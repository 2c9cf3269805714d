package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kitchensync/project/internal/app/board"
	"github.com/kitchensync/project/internal/app/chat"
	"github.com/kitchensync/project/internal/app/identity"
	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/store"
)

type fakeIdentityRepo struct {
	mu    sync.Mutex
	users map[string]identity.User
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{users: map[string]identity.User{}}
}

func (f *fakeIdentityRepo) EnsureSchema(context.Context) error { return nil }

func (f *fakeIdentityRepo) CreateUser(_ context.Context, user identity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username {
			return errors.New("duplicate key value")
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeIdentityRepo) FindUserByUsername(_ context.Context, username string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

func (f *fakeIdentityRepo) FindUserByID(_ context.Context, userID string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

type memStore struct {
	mu   sync.Mutex
	rows map[string][]store.Row
	next int
}

func newMemStore() *memStore {
	return &memStore{rows: map[string][]store.Row{}}
}

func (m *memStore) Insert(_ context.Context, table string, row store.Row) (store.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := store.Row{}
	for k, v := range row {
		inserted[k] = v
	}
	if inserted["id"] == nil {
		m.next++
		inserted["id"] = fmt.Sprintf("row-%d", m.next)
	}
	m.rows[table] = append(m.rows[table], inserted)
	return inserted, nil
}

func (m *memStore) Update(context.Context, string, store.Filter, store.Row) error { return nil }
func (m *memStore) Delete(context.Context, string, store.Filter) error            { return nil }

func (m *memStore) Query(_ context.Context, table string, _ store.Filter, _ *store.Order) ([]store.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Row, len(m.rows[table]))
	copy(out, m.rows[table])
	return out, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	tokens := identity.NewTokenManager("test-secret")
	identitySvc := identity.NewService(newFakeIdentityRepo(), tokens)

	st := newMemStore()
	registry := NewRegistry(func(ctx context.Context, principal chat.Principal) (*Workspace, error) {
		engine := board.NewEngine(st, nil)
		if err := engine.Start(ctx); err != nil {
			return nil, err
		}
		return &Workspace{
			Engine: engine,
			Chat:   chat.NewSession(st, nil, nil, principal),
		}, nil
	})

	handler := NewHandler(identitySvc, tokens, registry, "http://localhost:8080")
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { registry.CloseAll(context.Background()) })
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, buf.Bytes()
}

func registerUser(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/register", "", map[string]string{
		"username": username,
		"password": "longenough",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d: %s", resp.StatusCode, body)
	}
	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &auth); err != nil || auth.Token == "" {
		t.Fatalf("bad auth response: %s", body)
	}
	return auth.Token
}

func TestCards_CreateAndList(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "alice")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cards", token, map[string]any{
		"title": "Chop onions",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create card returned %d: %s", resp.StatusCode, body)
	}
	var card contracts.Card
	if err := json.Unmarshal(body, &card); err != nil {
		t.Fatalf("bad card response: %s", body)
	}
	if card.ID == "" || card.SectionKey != contracts.DefaultColumn {
		t.Fatalf("unexpected card: %+v", card)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/cards", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list cards returned %d: %s", resp.StatusCode, body)
	}
	var listing struct {
		Cards []contracts.Card `json:"cards"`
	}
	if err := json.Unmarshal(body, &listing); err != nil || len(listing.Cards) != 1 {
		t.Fatalf("bad listing: %s", body)
	}
}

func TestCards_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "alice")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cards", token, map[string]any{"title": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank title returned %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/cards/missing/move", token, map[string]any{
		"column": "pending", "index": 0,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown card returned %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/cards/missing/move", token, map[string]any{
		"column": "archive", "index": 0,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown column returned %d, want 400", resp.StatusCode)
	}
}

func TestMessages_ScopeValidation(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "alice")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/messages", token, map[string]any{
		"kind":            "text",
		"body":            "hi",
		"channel_id":      "general",
		"conversation_id": "dm-1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("dual scope returned %d, want 400", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/messages", token, map[string]any{
		"kind":       "text",
		"body":       "fire table 4",
		"channel_id": "general",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send returned %d: %s", resp.StatusCode, body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/cards", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token returned %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/cards", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token returned %d, want 401", resp.StatusCode)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := newTestServer(t)
	registerUser(t, srv, "alice")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password returned %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"password": "longenough",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register returned %d, want 409", resp.StatusCode)
	}
}
