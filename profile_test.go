package deeptrace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dt "github.com/deeptrace/deeptrace"
)

func ptrString(s string) *string {
	return &s
}

func TestUpdateProfile(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	alice := env.registerVerified(t, "alice", "alice@example.com", "password123")
	env.registerVerified(t, "bob", "bob@example.com", "password123")

	t.Run("changes username and picture", func(t *testing.T) {
		user, err := env.profiles.UpdateProfile(ctx, alice.ID, dt.ProfileUpdate{
			Username:       ptrString(" alice_w "),
			ProfilePicture: ptrString("https://example.com/alice.png"),
		})
		require.NoError(t, err)
		assert.Equal(t, "alice_w", user.Username)
		assert.Equal(t, "https://example.com/alice.png", user.ProfilePicture)
	})

	t.Run("nil fields are unchanged", func(t *testing.T) {
		user, err := env.profiles.UpdateProfile(ctx, alice.ID, dt.ProfileUpdate{})
		require.NoError(t, err)
		assert.Equal(t, "alice_w", user.Username)
		assert.Equal(t, "https://example.com/alice.png", user.ProfilePicture)
	})

	t.Run("empty picture clears it", func(t *testing.T) {
		user, err := env.profiles.UpdateProfile(ctx, alice.ID, dt.ProfileUpdate{ProfilePicture: ptrString("")})
		require.NoError(t, err)
		assert.Empty(t, user.ProfilePicture)
	})

	t.Run("username taken by another user", func(t *testing.T) {
		_, err := env.profiles.UpdateProfile(ctx, alice.ID, dt.ProfileUpdate{Username: ptrString("BOB")})
		assert.ErrorIs(t, err, dt.ErrUsernameTaken)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := env.profiles.UpdateProfile(ctx, alice.ID, dt.ProfileUpdate{Username: ptrString("x")})
		assert.ErrorIs(t, err, dt.ErrInvalidInput)
		_, err = env.profiles.UpdateProfile(ctx, alice.ID, dt.ProfileUpdate{ProfilePicture: ptrString("not a url")})
		assert.ErrorIs(t, err, dt.ErrInvalidInput)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := env.profiles.UpdateProfile(ctx, "missing", dt.ProfileUpdate{Username: ptrString("carol")})
		assert.ErrorIs(t, err, dt.ErrNotFound)
	})
}

func TestUsernameAvailable(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.registerVerified(t, "alice", "alice@example.com", "password123")

	available, err := env.profiles.UsernameAvailable(ctx, "ALICE")
	require.NoError(t, err)
	assert.False(t, available)

	available, err = env.profiles.UsernameAvailable(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, available)

	_, err = env.profiles.UsernameAvailable(ctx, " ")
	assert.ErrorIs(t, err, dt.ErrInvalidInput)
}

func TestMediaList(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	user := env.registerVerified(t, "alice", "alice@example.com", "password123")

	media, err := env.profiles.ListMedia(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, media)
	assert.Empty(t, media)

	var ids []string
	for _, u := range []string{"https://example.com/1.png", "https://example.com/2.mp4", "https://example.com/3.jpg"} {
		entry, err := env.profiles.AddMedia(ctx, user.ID, dt.AddMediaRequest{URL: u, Type: "image"})
		require.NoError(t, err)
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.AddedAt.IsZero())
		ids = append(ids, entry.ID)
	}

	media, err = env.profiles.ListMedia(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, media, 3)
	assert.Equal(t, "https://example.com/1.png", media[0].URL)
	assert.Equal(t, "https://example.com/3.jpg", media[2].URL, "entries keep insertion order")

	require.NoError(t, env.profiles.DeleteMedia(ctx, user.ID, ids[1]))
	media, err = env.profiles.ListMedia(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, media, 2)
	assert.Equal(t, ids[0], media[0].ID)
	assert.Equal(t, ids[2], media[1].ID)

	err = env.profiles.DeleteMedia(ctx, user.ID, ids[1])
	assert.ErrorIs(t, err, dt.ErrNotFound)

	_, err = env.profiles.AddMedia(ctx, user.ID, dt.AddMediaRequest{URL: "not a url"})
	assert.ErrorIs(t, err, dt.ErrInvalidInput)

	_, err = env.profiles.AddMedia(ctx, "missing", dt.AddMediaRequest{URL: "https://example.com/x.png"})
	assert.ErrorIs(t, err, dt.ErrNotFound)
}

func TestMediaListIsPerUser(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	alice := env.registerVerified(t, "alice", "alice@example.com", "password123")
	bob := env.registerVerified(t, "bob", "bob@example.com", "password123")

	entry, err := env.profiles.AddMedia(ctx, alice.ID, dt.AddMediaRequest{URL: "https://example.com/a.png"})
	require.NoError(t, err)

	err = env.profiles.DeleteMedia(ctx, bob.ID, entry.ID)
	assert.ErrorIs(t, err, dt.ErrNotFound, "users cannot delete each other's media")

	media, err := env.profiles.ListMedia(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, media)
}
