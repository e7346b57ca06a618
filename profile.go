package deeptrace

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProfileService manages the mutable parts of an account: username, picture
// and the media list.
type ProfileService struct {
	Users UserStore
	Now   func() time.Time
}

func NewProfileService(users UserStore) *ProfileService {
	return &ProfileService{Users: users}
}

func (ps *ProfileService) now() time.Time {
	if ps.Now != nil {
		return ps.Now()
	}
	return time.Now()
}

// UpdateProfile applies the non-nil fields of update. Username changes are
// subject to the same uniqueness rule as registration.
func (ps *ProfileService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*User, error) {
	if update.Username != nil {
		trimmed := strings.TrimSpace(*update.Username)
		update.Username = &trimmed
	}
	if err := Validate(&update); err != nil {
		return nil, err
	}
	user, err := ps.Users.UpdateUser(ctx, userID, func(u *User) error {
		if update.Username != nil {
			u.Username = *update.Username
		}
		if update.ProfilePicture != nil {
			u.ProfilePicture = strings.TrimSpace(*update.ProfilePicture)
		}
		return nil
	})
	return user, storeErr(err)
}

// UsernameAvailable reports whether no account uses the username, compared
// case-insensitively.
func (ps *ProfileService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if strings.TrimSpace(username) == "" {
		return false, invalidInput("username", "username is required")
	}
	_, err := ps.Users.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	} else if err != nil {
		return false, storeErr(err)
	}
	return false, nil
}

// AddMedia appends a media entry to the user's list.
func (ps *ProfileService) AddMedia(ctx context.Context, userID string, req AddMediaRequest) (*MediaEntry, error) {
	req.URL = strings.TrimSpace(req.URL)
	if err := Validate(&req); err != nil {
		return nil, err
	}
	entry := MediaEntry{
		ID:      uuid.NewString(),
		URL:     req.URL,
		Type:    req.Type,
		Title:   req.Title,
		AddedAt: ps.now().UTC(),
	}
	_, err := ps.Users.UpdateUser(ctx, userID, func(u *User) error {
		u.Media = append(u.Media, entry)
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return &entry, nil
}

// ListMedia returns the user's media in insertion order.
func (ps *ProfileService) ListMedia(ctx context.Context, userID string) ([]MediaEntry, error) {
	user, err := ps.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if user.Media == nil {
		return []MediaEntry{}, nil
	}
	return user.Media, nil
}

// DeleteMedia removes one entry. ErrNotFound when the user has no entry with
// that id.
func (ps *ProfileService) DeleteMedia(ctx context.Context, userID, mediaID string) error {
	_, err := ps.Users.UpdateUser(ctx, userID, func(u *User) error {
		idx := slices.IndexFunc(u.Media, func(m MediaEntry) bool { return m.ID == mediaID })
		if idx < 0 {
			return NewAuthError(ErrCodeNotFound, "media entry not found", "id")
		}
		u.Media = slices.Delete(u.Media, idx, idx+1)
		return nil
	})
	return storeErr(err)
}
