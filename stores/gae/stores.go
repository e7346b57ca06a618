//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	dt "github.com/deeptrace/deeptrace"
)

// Kind constants for Datastore entities
const (
	KindUser      = "User"
	KindUserEmail = "UserEmail"
	KindUsername  = "Username"
	KindAuthToken = "AuthToken"
	KindSession   = "Session"
)

// base holds what every store needs to build namespaced keys.
type base struct {
	client    *datastore.Client
	namespace string
}

func (b base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = b.namespace
	return key
}

func (b base) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if b.namespace != "" {
		q = q.Namespace(b.namespace)
	}
	return q
}

// ============================================================================
// UserStore
// ============================================================================

// UserStore implements dt.UserStore using Google Cloud Datastore. Email and
// username uniqueness are enforced with reservation entities written in the
// same transaction as the user.
type UserStore struct {
	base
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{base{client: client, namespace: namespace}}
}

// reserve claims a unique value for userID inside tx. It fails with conflict
// when another user already holds it.
func (s *UserStore) reserve(tx *datastore.Transaction, kind, value, userID string, now time.Time, conflict error) error {
	key := s.namespacedKey(kind, value)
	var existing UniqueEntity
	err := tx.Get(key, &existing)
	if err == nil {
		if existing.UserID != userID {
			return conflict
		}
		return nil
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	_, err = tx.Put(key, &UniqueEntity{UserID: userID, CreatedAt: now})
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

	key := s.namespacedKey(KindUser, user.ID)
	entity := UserToEntity(user, key)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := s.reserve(tx, KindUserEmail, entity.Email, user.ID, now, dt.ErrDuplicateEmail); err != nil {
			return err
		}
		if err := s.reserve(tx, KindUsername, entity.UsernameKey, user.ID, now, dt.ErrUsernameTaken); err != nil {
			return err
		}
		_, err := tx.Put(key, entity)
		return err
	})
	return err
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*dt.User, error) {
	key := s.namespacedKey(KindUser, id)
	var entity UserEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, dt.ErrNotFound
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

// lookup resolves a reservation entity to its user.
func (s *UserStore) lookup(ctx context.Context, kind, value string) (*dt.User, error) {
	var reservation UniqueEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, value), &reservation); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, dt.ErrNotFound
		}
		return nil, err
	}
	return s.GetUserByID(ctx, reservation.UserID)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*dt.User, error) {
	return s.lookup(ctx, KindUserEmail, dt.NormalizeEmail(email))
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*dt.User, error) {
	return s.lookup(ctx, KindUsername, dt.UsernameKey(username))
}

func (s *UserStore) UpdateUser(ctx context.Context, id string, fn func(u *dt.User) error) (*dt.User, error) {
	key := s.namespacedKey(KindUser, id)
	var updated *dt.User
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current UserEntity
		if err := tx.Get(key, &current); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return dt.ErrNotFound
			}
			return err
		}
		current.Key = key

		user := current.ToUser()
		if err := fn(user); err != nil {
			return err
		}
		now := time.Now().UTC()
		user.ID = id
		user.CreatedAt = current.CreatedAt
		user.UpdatedAt = now

		next := UserToEntity(user, key)
		if next.Email != current.Email {
			if err := s.reserve(tx, KindUserEmail, next.Email, id, now, dt.ErrDuplicateEmail); err != nil {
				return err
			}
			if err := tx.Delete(s.namespacedKey(KindUserEmail, current.Email)); err != nil {
				return err
			}
		}
		if next.UsernameKey != current.UsernameKey {
			if err := s.reserve(tx, KindUsername, next.UsernameKey, id, now, dt.ErrUsernameTaken); err != nil {
				return err
			}
			if err := tx.Delete(s.namespacedKey(KindUsername, current.UsernameKey)); err != nil {
				return err
			}
		}
		if _, err := tx.Put(key, next); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ============================================================================
// TokenStore (AuthToken)
// ============================================================================

// TokenStore implements dt.TokenStore using Google Cloud Datastore
type TokenStore struct {
	base
}

// NewTokenStore creates a new Datastore-backed TokenStore
func NewTokenStore(client *datastore.Client, namespace string) *TokenStore {
	return &TokenStore{base{client: client, namespace: namespace}}
}

func (s *TokenStore) CreateToken(ctx context.Context, token *dt.Token) error {
	key := s.namespacedKey(KindAuthToken, token.Value)
	_, err := s.client.Put(ctx, key, TokenToEntity(token, key))
	return err
}

func (s *TokenStore) TakeToken(ctx context.Context, value string, purpose dt.TokenPurpose) (*dt.Token, error) {
	key := s.namespacedKey(KindAuthToken, value)
	var out *dt.Token
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AuthTokenEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return dt.ErrNotFound
			}
			return err
		}
		if entity.Purpose != purpose {
			return dt.ErrNotFound
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		entity.Key = key
		out = entity.ToToken()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *TokenStore) DeleteUserTokens(ctx context.Context, userID string, purpose dt.TokenPurpose) error {
	query := s.query(KindAuthToken).
		FilterField("user_id", "=", userID).
		FilterField("purpose", "=", string(purpose)).
		KeysOnly()

	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(ctx, keys)
}

// DeleteExpired removes tokens that expired before now.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return deleteExpired(ctx, s.base, KindAuthToken, "expires_at", now)
}

// ============================================================================
// SessionStore
// ============================================================================

// SessionStore implements scs.Store and scs.CtxStore using Google Cloud
// Datastore.
type SessionStore struct {
	base
}

// NewSessionStore creates a new Datastore-backed session store
func NewSessionStore(client *datastore.Client, namespace string) *SessionStore {
	return &SessionStore{base{client: client, namespace: namespace}}
}

func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var entity SessionEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindSession, token), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !time.Now().Before(entity.Expiry) {
		return nil, false, nil
	}
	return entity.Data, true, nil
}

func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	key := s.namespacedKey(KindSession, token)
	_, err := s.client.Put(ctx, key, &SessionEntity{Key: key, Data: b, Expiry: expiry.UTC()})
	return err
}

func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	err := s.client.Delete(ctx, s.namespacedKey(KindSession, token))
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil
	}
	return err
}

func (s *SessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *SessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *SessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

// DeleteExpired removes sessions past their expiry.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return deleteExpired(ctx, s.base, KindSession, "expiry", now)
}

// deleteExpired walks expired keys in batches, Datastore caps DeleteMulti at
// 500 keys per call.
func deleteExpired(ctx context.Context, b base, kind, field string, now time.Time) (int64, error) {
	const batch = 500
	query := b.query(kind).FilterField(field, "<", now.UTC()).KeysOnly()

	var keys []*datastore.Key
	var deleted int64
	it := b.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, err
		}
		keys = append(keys, key)
		if len(keys) == batch {
			if err := b.client.DeleteMulti(ctx, keys); err != nil {
				return deleted, err
			}
			deleted += int64(len(keys))
			keys = keys[:0]
		}
	}
	if len(keys) > 0 {
		if err := b.client.DeleteMulti(ctx, keys); err != nil {
			return deleted, err
		}
		deleted += int64(len(keys))
	}
	return deleted, nil
}
