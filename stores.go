package deeptrace

import (
	"context"
	"time"
)

// User is a persisted account. At least one of PasswordHash or GoogleID is
// always set.
type User struct {
	ID             string       `json:"id"`
	Username       string       `json:"username"`
	Email          string       `json:"email"`
	PasswordHash   string       `json:"-"`
	GoogleID       string       `json:"-"`
	IsVerified     bool         `json:"isVerified"`
	ProfilePicture string       `json:"profilePicture,omitempty"`
	Media          []MediaEntry `json:"media,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// Clone returns a deep copy so update callbacks can mutate freely.
func (u *User) Clone() *User {
	out := *u
	if u.Media != nil {
		out.Media = append([]MediaEntry(nil), u.Media...)
	}
	return &out
}

// MediaEntry is one item in a user's media list.
type MediaEntry struct {
	ID      string    `json:"id"`
	URL     string    `json:"url"`
	Type    string    `json:"type,omitempty"`
	Title   string    `json:"title,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// UserStore persists users. Implementations must enforce email and
// case-insensitive username uniqueness atomically with the write.
//
// Semantic outcomes are reported with ErrNotFound, ErrDuplicateEmail and
// ErrUsernameTaken. Any other error is an infrastructure failure.
type UserStore interface {
	// CreateUser assigns an ID when empty and sets CreatedAt/UpdatedAt.
	CreateUser(ctx context.Context, user *User) error

	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail expects an already normalized email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByUsername matches case-insensitively.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// UpdateUser runs fn against the current record inside a transaction and
	// persists the result. Returning an error from fn aborts the update.
	UpdateUser(ctx context.Context, id string, fn func(u *User) error) (*User, error)
}
