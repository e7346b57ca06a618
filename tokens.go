package deeptrace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// TokenPurpose scopes a token to a single flow. A token is only accepted by
// the flow it was issued for.
type TokenPurpose string

const (
	PurposeEmailConfirmation TokenPurpose = "email_confirmation"
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeOAuthState        TokenPurpose = "oauth_state"
)

// Default token lifetimes
const (
	TokenExpiryEmailConfirmation = 24 * time.Hour
	TokenExpiryPasswordReset     = 1 * time.Hour
	TokenExpiryOAuthState        = 10 * time.Minute
)

// Token is a single use secret bound to a purpose and, except for OAuth
// state, to a user.
type Token struct {
	Value     string       `json:"token"`
	Purpose   TokenPurpose `json:"purpose"`
	UserID    string       `json:"user_id,omitempty"`
	Email     string       `json:"email,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// IsExpired checks the token against the given instant.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenStore persists tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, token *Token) error

	// TakeToken atomically loads and deletes the token if it exists with the
	// given purpose. A token with a different purpose is left untouched and
	// reported as ErrNotFound.
	TakeToken(ctx context.Context, value string, purpose TokenPurpose) (*Token, error)

	// DeleteUserTokens removes all tokens of a purpose owned by a user.
	DeleteUserTokens(ctx context.Context, userID string, purpose TokenPurpose) error
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokenIssuer issues and redeems tokens on top of a TokenStore.
type TokenIssuer struct {
	Store TokenStore

	// Lifetimes per purpose. Zero values fall back to the defaults.
	TTLs map[TokenPurpose]time.Duration

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

func NewTokenIssuer(store TokenStore) *TokenIssuer {
	return &TokenIssuer{Store: store}
}

func (ti *TokenIssuer) now() time.Time {
	if ti.Now != nil {
		return ti.Now()
	}
	return time.Now()
}

func (ti *TokenIssuer) ttl(purpose TokenPurpose) time.Duration {
	if d, ok := ti.TTLs[purpose]; ok && d > 0 {
		return d
	}
	switch purpose {
	case PurposeEmailConfirmation:
		return TokenExpiryEmailConfirmation
	case PurposePasswordReset:
		return TokenExpiryPasswordReset
	default:
		return TokenExpiryOAuthState
	}
}

// Issue creates and stores a new token.
func (ti *TokenIssuer) Issue(ctx context.Context, purpose TokenPurpose, userID, email string) (*Token, error) {
	value, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := ti.now()
	token := &Token{
		Value:     value,
		Purpose:   purpose,
		UserID:    userID,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(ti.ttl(purpose)),
	}
	if err := ti.Store.CreateToken(ctx, token); err != nil {
		return nil, storeErr(err)
	}
	return token, nil
}

// Consume redeems a token exactly once. Unknown, wrong-purpose and expired
// tokens all yield ErrInvalidOrExpiredToken; an expired token is still removed.
func (ti *TokenIssuer) Consume(ctx context.Context, value string, purpose TokenPurpose) (*Token, error) {
	if value == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	token, err := ti.Store.TakeToken(ctx, value, purpose)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	} else if err != nil {
		return nil, storeErr(err)
	}
	if token.IsExpired(ti.now()) {
		return nil, ErrInvalidOrExpiredToken
	}
	return token, nil
}

// Redeem consumes a token and runs fn with it. When fn fails the token is put
// back so the same link keeps working; a token is spent only by a redemption
// whose fn succeeded.
func (ti *TokenIssuer) Redeem(ctx context.Context, value string, purpose TokenPurpose, fn func(t *Token) error) error {
	token, err := ti.Consume(ctx, value, purpose)
	if err != nil {
		return err
	}
	if err := fn(token); err != nil {
		if rerr := ti.Store.CreateToken(context.WithoutCancel(ctx), token); rerr != nil {
			return errors.Join(err, storeErr(rerr))
		}
		return err
	}
	return nil
}

// Revoke deletes all outstanding tokens of a purpose for a user.
func (ti *TokenIssuer) Revoke(ctx context.Context, userID string, purpose TokenPurpose) error {
	return storeErr(ti.Store.DeleteUserTokens(ctx, userID, purpose))
}
