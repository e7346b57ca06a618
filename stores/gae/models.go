//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	dt "github.com/deeptrace/deeptrace"
)

// MediaEntity is the embedded form of a media list entry
type MediaEntity struct {
	ID      string    `datastore:"id,noindex"`
	URL     string    `datastore:"url,noindex"`
	Type    string    `datastore:"type,noindex"`
	Title   string    `datastore:"title,noindex"`
	AddedAt time.Time `datastore:"added_at,noindex"`
}

// UserEntity is the Datastore entity for users. Key name is the user id.
type UserEntity struct {
	Key            *datastore.Key `datastore:"__key__"`
	Username       string         `datastore:"username"`
	UsernameKey    string         `datastore:"username_key"`
	Email          string         `datastore:"email"`
	PasswordHash   string         `datastore:"password_hash,noindex"`
	GoogleID       string         `datastore:"google_id"`
	IsVerified     bool           `datastore:"is_verified"`
	ProfilePicture string         `datastore:"profile_picture,noindex"`
	Media          []MediaEntity  `datastore:"media,noindex"`
	CreatedAt      time.Time      `datastore:"created_at"`
	UpdatedAt      time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *dt.User {
	var media []dt.MediaEntry
	for _, m := range e.Media {
		media = append(media, dt.MediaEntry{ID: m.ID, URL: m.URL, Type: m.Type, Title: m.Title, AddedAt: m.AddedAt})
	}
	return &dt.User{
		ID:             e.Key.Name,
		Username:       e.Username,
		Email:          e.Email,
		PasswordHash:   e.PasswordHash,
		GoogleID:       e.GoogleID,
		IsVerified:     e.IsVerified,
		ProfilePicture: e.ProfilePicture,
		Media:          media,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func UserToEntity(u *dt.User, key *datastore.Key) *UserEntity {
	var media []MediaEntity
	for _, m := range u.Media {
		media = append(media, MediaEntity{ID: m.ID, URL: m.URL, Type: m.Type, Title: m.Title, AddedAt: m.AddedAt})
	}
	return &UserEntity{
		Key:            key,
		Username:       u.Username,
		UsernameKey:    dt.UsernameKey(u.Username),
		Email:          dt.NormalizeEmail(u.Email),
		PasswordHash:   u.PasswordHash,
		GoogleID:       u.GoogleID,
		IsVerified:     u.IsVerified,
		ProfilePicture: u.ProfilePicture,
		Media:          media,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// UniqueEntity reserves a unique value (an email or a lower-cased username)
// for one user. Key name is the value itself, which makes the reservation a
// single key read inside the creating transaction.
type UniqueEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

// AuthTokenEntity is the Datastore entity for single use tokens. Key name is
// the token value.
type AuthTokenEntity struct {
	Key       *datastore.Key  `datastore:"__key__"`
	Purpose   dt.TokenPurpose `datastore:"purpose"`
	UserID    string          `datastore:"user_id"`
	Email     string          `datastore:"email"`
	CreatedAt time.Time       `datastore:"created_at"`
	ExpiresAt time.Time       `datastore:"expires_at"`
}

func (e *AuthTokenEntity) ToToken() *dt.Token {
	return &dt.Token{
		Value:     e.Key.Name,
		Purpose:   e.Purpose,
		UserID:    e.UserID,
		Email:     e.Email,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

func TokenToEntity(t *dt.Token, key *datastore.Key) *AuthTokenEntity {
	return &AuthTokenEntity{
		Key:       key,
		Purpose:   t.Purpose,
		UserID:    t.UserID,
		Email:     t.Email,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

// SessionEntity is the Datastore entity for scs session records. Key name is
// the storage token.
type SessionEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	Data   []byte         `datastore:"data,noindex"`
	Expiry time.Time      `datastore:"expiry"`
}
