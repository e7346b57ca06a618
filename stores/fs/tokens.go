package fs

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	dt "github.com/deeptrace/deeptrace"
)

// TokenStore stores single use tokens as JSON files under {StoragePath}/tokens.
type TokenStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewTokenStore(storagePath string) *TokenStore {
	return &TokenStore{StoragePath: storagePath}
}

func (s *TokenStore) dir() string {
	return filepath.Join(s.StoragePath, "tokens")
}

func (s *TokenStore) tokenPath(value string) string {
	return filepath.Join(s.dir(), fileName(value))
}

func (s *TokenStore) CreateToken(ctx context.Context, token *dt.Token) error {
	return writeJSON(s.tokenPath(token.Value), token)
}

func (s *TokenStore) TakeToken(ctx context.Context, value string, purpose dt.TokenPurpose) (*dt.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.tokenPath(value)
	var token dt.Token
	found, err := readJSON(path, &token)
	if err != nil {
		return nil, err
	}
	if !found || token.Purpose != purpose {
		return nil, dt.ErrNotFound
	}
	if err := removeFile(path); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *TokenStore) DeleteUserTokens(ctx context.Context, userID string, purpose dt.TokenPurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eachRecord(s.dir(), func(path string, t *dt.Token) error {
		if t.UserID == userID && t.Purpose == purpose {
			return removeFile(path)
		}
		return nil
	})
}

// DeleteExpired removes tokens that expired before now.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	err := eachRecord(s.dir(), func(path string, t *dt.Token) error {
		if !t.ExpiresAt.Before(now) {
			return nil
		}
		if err := removeFile(path); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
