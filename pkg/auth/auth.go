// Package auth implements account registration, password login and opaque
// access tokens. Raw tokens are handed to the client once; only SHA-256
// hashes are persisted.
package auth

import (
	"fmt"
	"time"

	"github.com/mkarlsson/chatrelay/pkg/crypto"
	"github.com/mkarlsson/chatrelay/pkg/datastore"
	"github.com/mkarlsson/chatrelay/pkg/model"
)

// DefaultTokenTTL is how long a login token stays valid.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Service issues and verifies access tokens.
type Service struct {
	store    datastore.DataStore
	tokenTTL time.Duration
	now      func() time.Time
}

// New creates a Service backed by the given store. A zero ttl selects
// DefaultTokenTTL.
func New(store datastore.DataStore, ttl time.Duration) *Service {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		store:    store,
		tokenTTL: ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewWithClock creates a Service with a custom clock, used by tests.
func NewWithClock(store datastore.DataStore, ttl time.Duration, now func() time.Time) *Service {
	s := New(store, ttl)
	if now != nil {
		s.now = now
	}
	return s
}

// Register creates a new account with an argon2id password hash.
func (s *Service) Register(email, name, password string) (*model.User, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("auth: register: %w", err)
	}

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: crypto.HashPassword(password, salt),
		PasswordSalt: salt,
	}
	if err := s.store.CreateUser(user); err != nil {
		return nil, fmt.Errorf("auth: register: %w", err)
	}
	return user, nil
}

// Login verifies credentials and issues a fresh access token. The raw token
// is returned exactly once; the store only ever sees its hash.
func (s *Service) Login(email, password string) (string, *model.User, error) {
	user, err := s.store.GetUserByEmail(email)
	if err != nil {
		return "", nil, fmt.Errorf("auth: login: %w", err)
	}
	if user == nil || !crypto.VerifyPassword(password, user.PasswordSalt, user.PasswordHash) {
		return "", nil, model.ErrInvalidLogin
	}

	raw, err := crypto.GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("auth: login: %w", err)
	}
	expiresAt := s.now().Add(s.tokenTTL)
	if err := s.store.CreateToken(crypto.HashToken(raw), user.ID, expiresAt); err != nil {
		return "", nil, fmt.Errorf("auth: login: %w", err)
	}
	return raw, user, nil
}

// IssueToken mints a token for an existing user without a password check.
// Used when seeding accounts from config.
func (s *Service) IssueToken(userID int64) (string, error) {
	raw, err := crypto.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("auth: issue token: %w", err)
	}
	expiresAt := s.now().Add(s.tokenTTL)
	if err := s.store.CreateToken(crypto.HashToken(raw), userID, expiresAt); err != nil {
		return "", fmt.Errorf("auth: issue token: %w", err)
	}
	return raw, nil
}

// Verify resolves a raw token to its user. Returns model.ErrInvalidToken for
// unknown or expired tokens.
func (s *Service) Verify(rawToken string) (*model.User, error) {
	if rawToken == "" {
		return nil, model.ErrInvalidToken
	}
	token, err := s.store.GetToken(crypto.HashToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("auth: verify: %w", err)
	}
	if token == nil || token.IsExpired(s.now()) {
		return nil, model.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(token.UserID)
	if err != nil {
		return nil, fmt.Errorf("auth: verify: %w", err)
	}
	if user == nil {
		return nil, model.ErrInvalidToken
	}
	return user, nil
}

// Cleanup deletes expired tokens and reports how many were removed.
func (s *Service) Cleanup() (int64, error) {
	return s.store.DeleteExpiredTokens(s.now())
}
