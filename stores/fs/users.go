package fs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	dt "github.com/deeptrace/deeptrace"
)

// FSUser is the on-disk form of a user. Unlike dt.User it keeps the
// credential fields.
type FSUser struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Email          string          `json:"email"`
	PasswordHash   string          `json:"password_hash,omitempty"`
	GoogleID       string          `json:"google_id,omitempty"`
	IsVerified     bool            `json:"is_verified"`
	ProfilePicture string          `json:"profile_picture,omitempty"`
	Media          []dt.MediaEntry `json:"media,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (u *FSUser) toUser() *dt.User {
	return (&dt.User{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		PasswordHash:   u.PasswordHash,
		GoogleID:       u.GoogleID,
		IsVerified:     u.IsVerified,
		ProfilePicture: u.ProfilePicture,
		Media:          u.Media,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}).Clone()
}

func fromUser(u *dt.User) *FSUser {
	c := u.Clone()
	return &FSUser{
		ID:             c.ID,
		Username:       c.Username,
		Email:          dt.NormalizeEmail(c.Email),
		PasswordHash:   c.PasswordHash,
		GoogleID:       c.GoogleID,
		IsVerified:     c.IsVerified,
		ProfilePicture: c.ProfilePicture,
		Media:          c.Media,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// reservation maps a unique value (email or lower-cased username) to its
// owner.
type reservation struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore implements dt.UserStore with one JSON file per user.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/{id}.json
//	├── emails/{email}.json      # {"user_id": ...}
//	└── usernames/{name}.json    # lower-cased username
//
// Writes are serialized by an in-process mutex, so a storage directory must
// not be shared between processes.
type UserStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewUserStore(storagePath string) *UserStore {
	return &UserStore{StoragePath: storagePath}
}

func (s *UserStore) userPath(id string) string {
	return filepath.Join(s.StoragePath, "users", fileName(id))
}

func (s *UserStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", fileName(email))
}

func (s *UserStore) usernamePath(key string) string {
	return filepath.Join(s.StoragePath, "usernames", fileName(key))
}

// owner returns the user holding a reservation, or "" when it is free.
func owner(path string) (string, error) {
	var r reservation
	found, err := readJSON(path, &r)
	if err != nil || !found {
		return "", err
	}
	return r.UserID, nil
}

// checkUnique must be called with mu held.
func (s *UserStore) checkUnique(rec *FSUser) error {
	holder, err := owner(s.emailPath(rec.Email))
	if err != nil {
		return err
	}
	if holder != "" && holder != rec.ID {
		return dt.ErrDuplicateEmail
	}
	holder, err = owner(s.usernamePath(dt.UsernameKey(rec.Username)))
	if err != nil {
		return err
	}
	if holder != "" && holder != rec.ID {
		return dt.ErrUsernameTaken
	}
	return nil
}

// unreserve removes reservation files written by a failed write and returns
// the original error.
func unreserve(err error, paths []string) error {
	for _, path := range paths {
		if rerr := removeFile(path); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return err
}

func (s *UserStore) CreateUser(ctx context.Context, user *dt.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.Email = dt.NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now
	rec := fromUser(user)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnique(rec); err != nil {
		return err
	}

	// A failed create must not leave the email or username reserved.
	var written []string
	for _, path := range []string{s.emailPath(rec.Email), s.usernamePath(dt.UsernameKey(rec.Username))} {
		if err := writeJSON(path, reservation{UserID: rec.ID, CreatedAt: now}); err != nil {
			return unreserve(err, written)
		}
		written = append(written, path)
	}
	if err := writeJSON(s.userPath(rec.ID), rec); err != nil {
		return unreserve(err, written)
	}
	return nil
}

func (s *UserStore) read(id string) (*FSUser, error) {
	var rec FSUser
	found, err := readJSON(s.userPath(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dt.ErrNotFound
	}
	return &rec, nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*dt.User, error) {
	rec, err := s.read(id)
	if err != nil {
		return nil, err
	}
	return rec.toUser(), nil
}

func (s *UserStore) lookup(path string) (*dt.User, error) {
	id, err := owner(path)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, dt.ErrNotFound
	}
	rec, err := s.read(id)
	if err != nil {
		return nil, err
	}
	return rec.toUser(), nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*dt.User, error) {
	return s.lookup(s.emailPath(dt.NormalizeEmail(email)))
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*dt.User, error) {
	return s.lookup(s.usernamePath(dt.UsernameKey(username)))
}

func (s *UserStore) UpdateUser(ctx context.Context, id string, fn func(u *dt.User) error) (*dt.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(id)
	if err != nil {
		return nil, err
	}
	user := current.toUser()
	if err := fn(user); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user.ID = current.ID
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = now

	next := fromUser(user)
	oldKey, newKey := dt.UsernameKey(current.Username), dt.UsernameKey(next.Username)
	if next.Email != current.Email || newKey != oldKey {
		if err := s.checkUnique(next); err != nil {
			return nil, err
		}
	}

	// New reservations are claimed before the user file is rewritten and the
	// old ones are released only after it succeeds.
	var claimed, released []string
	if next.Email != current.Email {
		claimed = append(claimed, s.emailPath(next.Email))
		released = append(released, s.emailPath(current.Email))
	}
	if newKey != oldKey {
		claimed = append(claimed, s.usernamePath(newKey))
		released = append(released, s.usernamePath(oldKey))
	}
	var written []string
	for _, path := range claimed {
		if err := writeJSON(path, reservation{UserID: id, CreatedAt: now}); err != nil {
			return nil, unreserve(err, written)
		}
		written = append(written, path)
	}
	if err := writeJSON(s.userPath(id), next); err != nil {
		return nil, unreserve(err, written)
	}
	for _, path := range released {
		if err := removeFile(path); err != nil {
			return nil, err
		}
	}
	return next.toUser(), nil
}
