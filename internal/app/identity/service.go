// Package identity resolves the authenticated principal a session is built
// around: account registration, login, bearer tokens, and the cached profile
// display name consulted at session init.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidUsername    = errors.New("username is required")
	ErrInvalidPassword    = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type AuthResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type Service struct {
	Repo   Repository
	Tokens TokenManager
	NewID  func() string
}

func NewService(repo Repository, tokens TokenManager) *Service {
	return &Service{
		Repo:   repo,
		Tokens: tokens,
		NewID:  nuid.Next,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateCredentials(username, password string) error {
	if normalizeUsername(username) == "" {
		return ErrInvalidUsername
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) Register(ctx context.Context, username, password, displayName string) (AuthResponse, error) {
	if err := validateCredentials(username, password); err != nil {
		return AuthResponse{}, err
	}
	uname := normalizeUsername(username)
	if strings.TrimSpace(displayName) == "" {
		displayName = uname
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u := User{
		ID:           s.NewID(),
		Username:     uname,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issue(u)
}

func (s *Service) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	uname := normalizeUsername(username)
	if uname == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByUsername(ctx, uname)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issue(u)
}

func (s *Service) issue(u User) (AuthResponse, error) {
	token, err := s.Tokens.Sign(u.ID, u.Username)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		Token:       token,
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
	}, nil
}

// ProfileCache answers display-name lookups from memory, falling through to
// the repository once per user. It backs the session-init fallback chain.
type ProfileCache struct {
	Repo Repository

	mu    sync.Mutex
	names map[string]string
}

func NewProfileCache(repo Repository) *ProfileCache {
	return &ProfileCache{Repo: repo, names: map[string]string{}}
}

func (c *ProfileCache) DisplayName(userID string) (string, bool) {
	c.mu.Lock()
	if name, ok := c.names[userID]; ok {
		c.mu.Unlock()
		return name, true
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	u, err := c.Repo.FindUserByID(ctx, userID)
	if err != nil {
		return "", false
	}

	c.mu.Lock()
	c.names[userID] = u.DisplayName
	c.mu.Unlock()
	return u.DisplayName, u.DisplayName != ""
}
