package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRepo struct {
	byUsername map[string]User
	byID       map[string]User
	createErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byUsername: map[string]User{}, byID: map[string]User{}}
}

func (r *fakeRepo) EnsureSchema(context.Context) error { return nil }

func (r *fakeRepo) CreateUser(_ context.Context, u User) error {
	if r.createErr != nil {
		return r.createErr
	}
	if _, exists := r.byUsername[u.Username]; exists {
		return errors.New("duplicate key value violates unique constraint")
	}
	r.byUsername[u.Username] = u
	r.byID[u.ID] = u
	return nil
}

func (r *fakeRepo) FindUserByUsername(_ context.Context, username string) (User, error) {
	u, ok := r.byUsername[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *fakeRepo) FindUserByID(_ context.Context, id string) (User, error) {
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func testService(repo Repository) *Service {
	svc := NewService(repo, NewTokenManager("test-secret"))
	n := 0
	svc.NewID = func() string {
		n++
		return "user-1"
	}
	return svc
}

func TestRegister_NormalizesAndIssuesToken(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)

	resp, err := svc.Register(context.Background(), "  Alice ", "longenough", "")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if resp.Username != "alice" {
		t.Fatalf("username must normalize, got %q", resp.Username)
	}
	if resp.DisplayName != "alice" {
		t.Fatalf("blank display name must default to the username, got %q", resp.DisplayName)
	}
	if resp.Token == "" {
		t.Fatal("registration must issue a token")
	}
	if _, ok := repo.byUsername["alice"]; !ok {
		t.Fatal("user not persisted")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := testService(newFakeRepo())

	if _, err := svc.Register(context.Background(), "  ", "longenough", ""); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "alice", "short", ""); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestLogin_RoundTrip(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	if _, err := svc.Register(context.Background(), "alice", "longenough", "Chef Alice"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	resp, err := svc.Login(context.Background(), "ALICE", "longenough")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if resp.DisplayName != "Chef Alice" {
		t.Fatalf("display name lost on login: %q", resp.DisplayName)
	}

	if _, err := svc.Login(context.Background(), "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "longenough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown users must look like bad credentials, got %v", err)
	}
}

func TestProfileCache_FallsThroughOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.byID["u1"] = User{ID: "u1", Username: "alice", DisplayName: "Chef Alice"}
	cache := NewProfileCache(repo)

	name, ok := cache.DisplayName("u1")
	if !ok || name != "Chef Alice" {
		t.Fatalf("DisplayName = %q, %v", name, ok)
	}

	// Served from memory even after the repo loses the row.
	delete(repo.byID, "u1")
	if name, ok := cache.DisplayName("u1"); !ok || name != "Chef Alice" {
		t.Fatalf("cached lookup failed: %q, %v", name, ok)
	}
	if _, ok := cache.DisplayName("missing"); ok {
		t.Fatal("unknown user must miss")
	}
}

func TestTokenManager_SignAndParse(t *testing.T) {
	mgr := NewTokenManager("test-secret")
	issued := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	mgr.Now = func() time.Time { return issued }

	token, err := mgr.Sign("user-1", "alice")
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	claims, err := mgr.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.Subject != "user-1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	mgr.Now = func() time.Time { return issued.Add(25 * time.Hour) }
	if _, err := mgr.Parse(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	other := NewTokenManager("other-secret")
	other.Now = func() time.Time { return issued }
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret must fail, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc123"); got != "abc123" {
		t.Fatalf("BearerToken = %q", got)
	}
	if got := BearerToken("bearer abc123"); got != "abc123" {
		t.Fatalf("scheme must be case-insensitive, got %q", got)
	}
	if got := BearerToken("Basic abc123"); got != "" {
		t.Fatalf("non-bearer schemes must be rejected, got %q", got)
	}
	if got := BearerToken(""); got != "" {
		t.Fatalf("empty header must yield empty token, got %q", got)
	}
}
