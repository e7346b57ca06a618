package gorm_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dt "github.com/deeptrace/deeptrace"
	gormstore "github.com/deeptrace/deeptrace/stores/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gormstore.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestUserStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := gormstore.NewUserStore(setupDB(t))

	user := &dt.User{Username: "Alice", Email: "  Alice@Example.com ", PasswordHash: "hash"}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.CreatedAt.IsZero())

	byID, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.Username)
	assert.Equal(t, "hash", byID.PasswordHash)

	byEmail, err := store.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byName, err := store.GetUserByUsername(ctx, "aLiCe")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	_, err = store.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, dt.ErrNotFound)
	_, err = store.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, dt.ErrNotFound)
}

func TestUserStore_Uniqueness(t *testing.T) {
	ctx := context.Background()
	store := gormstore.NewUserStore(setupDB(t))

	require.NoError(t, store.CreateUser(ctx, &dt.User{Username: "alice", Email: "alice@example.com", PasswordHash: "h"}))

	err := store.CreateUser(ctx, &dt.User{Username: "other", Email: "ALICE@example.com", GoogleID: "g1"})
	assert.ErrorIs(t, err, dt.ErrDuplicateEmail)

	err = store.CreateUser(ctx, &dt.User{Username: "ALICE", Email: "bob@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, dt.ErrUsernameTaken)
}

func TestUserStore_ConcurrentCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	store := gormstore.NewUserStore(setupDB(t))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.CreateUser(ctx, &dt.User{
				Username:     "user" + string(rune('a'+i)),
				Email:        "race@example.com",
				PasswordHash: "h",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, dt.ErrDuplicateEmail)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestUserStore_UpdateUser(t *testing.T) {
	ctx := context.Background()
	store := gormstore.NewUserStore(setupDB(t))

	alice := &dt.User{Username: "alice", Email: "alice@example.com", PasswordHash: "h"}
	bob := &dt.User{Username: "bob", Email: "bob@example.com", PasswordHash: "h"}
	require.NoError(t, store.CreateUser(ctx, alice))
	require.NoError(t, store.CreateUser(ctx, bob))

	t.Run("persists changes including media", func(t *testing.T) {
		updated, err := store.UpdateUser(ctx, alice.ID, func(u *dt.User) error {
			u.IsVerified = true
			u.Media = append(u.Media, dt.MediaEntry{ID: "m1", URL: "https://example.com/a.png"})
			return nil
		})
		require.NoError(t, err)
		assert.True(t, updated.IsVerified)

		reloaded, err := store.GetUserByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.IsVerified)
		require.Len(t, reloaded.Media, 1)
		assert.Equal(t, "https://example.com/a.png", reloaded.Media[0].URL)
	})

	t.Run("rejects username held by another user", func(t *testing.T) {
		_, err := store.UpdateUser(ctx, alice.ID, func(u *dt.User) error {
			u.Username = "BOB"
			return nil
		})
		assert.ErrorIs(t, err, dt.ErrUsernameTaken)
	})

	t.Run("allows changing case of own username", func(t *testing.T) {
		updated, err := store.UpdateUser(ctx, alice.ID, func(u *dt.User) error {
			u.Username = "Alice"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "Alice", updated.Username)
	})

	t.Run("callback error aborts", func(t *testing.T) {
		_, err := store.UpdateUser(ctx, alice.ID, func(u *dt.User) error {
			u.IsVerified = false
			return dt.ErrInvalidInput
		})
		assert.ErrorIs(t, err, dt.ErrInvalidInput)
		reloaded, err := store.GetUserByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.IsVerified)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := store.UpdateUser(ctx, "missing", func(u *dt.User) error { return nil })
		assert.ErrorIs(t, err, dt.ErrNotFound)
	})
}

func TestTokenStore_TakeToken(t *testing.T) {
	ctx := context.Background()
	store := gormstore.NewTokenStore(setupDB(t))

	now := time.Now()
	token := &dt.Token{
		Value:     "tok1",
		Purpose:   dt.PurposeEmailConfirmation,
		UserID:    "u1",
		Email:     "a@example.com",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, store.CreateToken(ctx, token))

	_, err := store.TakeToken(ctx, "tok1", dt.PurposePasswordReset)
	assert.ErrorIs(t, err, dt.ErrNotFound, "wrong purpose must not match")

	got, err := store.TakeToken(ctx, "tok1", dt.PurposeEmailConfirmation)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, dt.PurposeEmailConfirmation, got.Purpose)

	_, err = store.TakeToken(ctx, "tok1", dt.PurposeEmailConfirmation)
	assert.ErrorIs(t, err, dt.ErrNotFound, "token must be single use")
}

func TestTokenStore_DeleteUserTokens(t *testing.T) {
	ctx := context.Background()
	store := gormstore.NewTokenStore(setupDB(t))
	now := time.Now()

	for _, tok := range []*dt.Token{
		{Value: "r1", Purpose: dt.PurposePasswordReset, UserID: "u1", ExpiresAt: now.Add(time.Hour)},
		{Value: "r2", Purpose: dt.PurposePasswordReset, UserID: "u1", ExpiresAt: now.Add(time.Hour)},
		{Value: "c1", Purpose: dt.PurposeEmailConfirmation, UserID: "u1", ExpiresAt: now.Add(time.Hour)},
		{Value: "r3", Purpose: dt.PurposePasswordReset, UserID: "u2", ExpiresAt: now.Add(time.Hour)},
	} {
		require.NoError(t, store.CreateToken(ctx, tok))
	}

	require.NoError(t, store.DeleteUserTokens(ctx, "u1", dt.PurposePasswordReset))

	_, err := store.TakeToken(ctx, "r1", dt.PurposePasswordReset)
	assert.ErrorIs(t, err, dt.ErrNotFound)
	_, err = store.TakeToken(ctx, "r2", dt.PurposePasswordReset)
	assert.ErrorIs(t, err, dt.ErrNotFound)
	_, err = store.TakeToken(ctx, "c1", dt.PurposeEmailConfirmation)
	assert.NoError(t, err)
	_, err = store.TakeToken(ctx, "r3", dt.PurposePasswordReset)
	assert.NoError(t, err)
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	store := gormstore.NewSessionStore(setupDB(t))

	require.NoError(t, store.CommitCtx(ctx, "s1", []byte("one"), time.Now().Add(time.Hour)))
	data, found, err := store.FindCtx(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("one"), data)

	// Commit replaces existing records.
	require.NoError(t, store.Commit("s1", []byte("two"), time.Now().Add(time.Hour)))
	data, found, err = store.Find("s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("two"), data)

	require.NoError(t, store.Commit("old", []byte("x"), time.Now().Add(-time.Minute)))
	_, found, err = store.Find("old")
	require.NoError(t, err)
	assert.False(t, found, "expired sessions are not returned")

	n, err := store.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.Delete("s1"))
	require.NoError(t, store.Delete("s1"), "delete is idempotent")
	_, found, err = store.Find("s1")
	require.NoError(t, err)
	assert.False(t, found)
}
