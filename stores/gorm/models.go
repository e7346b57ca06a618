//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	dt "github.com/deeptrace/deeptrace"
)

// MediaList stores a user's media entries as a JSON array column
type MediaList []dt.MediaEntry

func (m MediaList) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MediaList) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported media column type %T", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}

// UserModel is the GORM model for users. UsernameKey is the lower-cased
// username and carries the case-insensitive unique index.
type UserModel struct {
	ID             string    `gorm:"primaryKey;size:64"`
	Username       string    `gorm:"size:64;not null"`
	UsernameKey    string    `gorm:"size:64;not null;uniqueIndex"`
	Email          string    `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash   string    `gorm:"size:255"`
	GoogleID       string    `gorm:"size:255;index"`
	IsVerified     bool      `gorm:"default:false"`
	ProfilePicture string    `gorm:"size:2048"`
	Media          MediaList `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *dt.User {
	return &dt.User{
		ID:             m.ID,
		Username:       m.Username,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		GoogleID:       m.GoogleID,
		IsVerified:     m.IsVerified,
		ProfilePicture: m.ProfilePicture,
		Media:          []dt.MediaEntry(m.Media),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func UserToModel(u *dt.User) *UserModel {
	return &UserModel{
		ID:             u.ID,
		Username:       u.Username,
		UsernameKey:    dt.UsernameKey(u.Username),
		Email:          dt.NormalizeEmail(u.Email),
		PasswordHash:   u.PasswordHash,
		GoogleID:       u.GoogleID,
		IsVerified:     u.IsVerified,
		ProfilePicture: u.ProfilePicture,
		Media:          MediaList(u.Media),
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// TokenModel is the GORM model for single use tokens
type TokenModel struct {
	Value     string          `gorm:"primaryKey;size:64"`
	Purpose   dt.TokenPurpose `gorm:"size:32;index:idx_tokens_user_purpose,priority:2"`
	UserID    string          `gorm:"size:64;index:idx_tokens_user_purpose,priority:1"`
	Email     string          `gorm:"size:255"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (TokenModel) TableName() string {
	return "auth_tokens"
}

func (m *TokenModel) ToToken() *dt.Token {
	return &dt.Token{
		Value:     m.Value,
		Purpose:   m.Purpose,
		UserID:    m.UserID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func TokenToModel(t *dt.Token) *TokenModel {
	return &TokenModel{
		Value:     t.Value,
		Purpose:   t.Purpose,
		UserID:    t.UserID,
		Email:     t.Email,
		CreatedAt: t.CreatedAt.UTC(),
		ExpiresAt: t.ExpiresAt.UTC(),
	}
}

// SessionModel is the GORM model backing scs sessions. Token is the storage
// key handed to the store, Data the encoded session record.
type SessionModel struct {
	Token  string    `gorm:"primaryKey;size:64"`
	Data   []byte    `gorm:"not null"`
	Expiry time.Time `gorm:"index;not null"`
}

func (SessionModel) TableName() string {
	return "sessions"
}
