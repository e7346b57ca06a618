//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	dt "github.com/deeptrace/deeptrace"
)

// Open connects to the database named by dsn. A "sqlite:" prefix selects the
// pure Go SQLite driver (the rest is the file path or ":memory:"); anything
// else is handed to the Postgres driver.
func Open(dsn string, config *gorm.Config) (*gorm.DB, error) {
	if config == nil {
		config = &gorm.Config{}
	}
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return gorm.Open(sqlite.Open(path), config)
	}
	return gorm.Open(postgres.Open(dsn), config)
}

// OpenMemory opens a private in-memory SQLite database with the schema
// migrated. Connections are capped at one so every caller sees the same
// database; do not touch the store's db from inside its own transactions.
func OpenMemory(name string) (*gorm.DB, error) {
	dsn := "file:" + url.PathEscape(name) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate runs database migrations for all deeptrace tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&TokenModel{},
		&SessionModel{},
	)
}

// isUniqueViolation recognizes unique constraint failures whether or not the
// dialector translated them to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements dt.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// checkUnique reports which uniqueness rule the model would break. excludeID
// skips the row being updated.
func checkUnique(tx *gorm.DB, m *UserModel, excludeID string) error {
	var count int64
	if err := tx.Model(&UserModel{}).
		Where("email = ? AND id <> ?", m.Email, excludeID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return dt.ErrDuplicateEmail
	}
	if err := tx.Model(&UserModel{}).
		Where("username_key = ? AND id <> ?", m.UsernameKey, excludeID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return dt.ErrUsernameTaken
	}
	return nil
}

// classifyConflict works out which unique index rejected a write that lost a
// race against another transaction.
func (s *UserStore) classifyConflict(ctx context.Context, m *UserModel, excludeID string, cause error) error {
	if err := checkUnique(s.db.WithContext(ctx), m, excludeID); err != nil {
		return err
	}
	return cause
}

func (s *UserStore) CreateUser(ctx context.Context, user *dt.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.Email = dt.NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	model := UserToModel(user)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, model, model.ID); err != nil {
			return err
		}
		return tx.Create(model).Error
	})
	if err != nil && isUniqueViolation(err) {
		return s.classifyConflict(ctx, model, model.ID, err)
	}
	return err
}

func (s *UserStore) findOne(ctx context.Context, query string, arg any) (*dt.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dt.ErrNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*dt.User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*dt.User, error) {
	return s.findOne(ctx, "email = ?", dt.NormalizeEmail(email))
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*dt.User, error) {
	return s.findOne(ctx, "username_key = ?", dt.UsernameKey(username))
}

func (s *UserStore) UpdateUser(ctx context.Context, id string, fn func(u *dt.User) error) (*dt.User, error) {
	var pending *UserModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dt.ErrNotFound
			}
			return err
		}

		user := current.ToUser()
		if err := fn(user); err != nil {
			return err
		}
		user.ID = current.ID
		user.CreatedAt = current.CreatedAt
		user.UpdatedAt = time.Now().UTC()

		pending = UserToModel(user)
		if pending.Email != current.Email || pending.UsernameKey != current.UsernameKey {
			if err := checkUnique(tx, pending, current.ID); err != nil {
				return err
			}
		}
		return tx.Save(pending).Error
	})
	if err != nil {
		if pending != nil && isUniqueViolation(err) {
			return nil, s.classifyConflict(ctx, pending, id, err)
		}
		return nil, err
	}
	return pending.ToUser(), nil
}

// =============================================================================
// TokenStore
// =============================================================================

// TokenStore implements dt.TokenStore using GORM
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) CreateToken(ctx context.Context, token *dt.Token) error {
	return s.db.WithContext(ctx).Create(TokenToModel(token)).Error
}

// TakeToken deletes the row and only succeeds for the caller whose delete
// affected it, so concurrent takes of one token yield a single winner.
func (s *TokenStore) TakeToken(ctx context.Context, value string, purpose dt.TokenPurpose) (*dt.Token, error) {
	var out *dt.Token
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model TokenModel
		if err := tx.First(&model, "value = ? AND purpose = ?", value, string(purpose)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dt.ErrNotFound
			}
			return err
		}
		res := tx.Where("value = ? AND purpose = ?", value, string(purpose)).Delete(&TokenModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return dt.ErrNotFound
		}
		out = model.ToToken()
		return nil
	})
	return out, err
}

func (s *TokenStore) DeleteUserTokens(ctx context.Context, userID string, purpose dt.TokenPurpose) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ?", userID, string(purpose)).
		Delete(&TokenModel{}).Error
}

// DeleteExpired removes tokens that expired before now.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&TokenModel{})
	return res.RowsAffected, res.Error
}

// =============================================================================
// SessionStore
// =============================================================================

// SessionStore implements scs.Store and scs.CtxStore using GORM
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var model SessionModel
	if err := s.db.WithContext(ctx).First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !time.Now().Before(model.Expiry) {
		return nil, false, nil
	}
	return model.Data, true, nil
}

func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	model := &SessionModel{Token: token, Data: b, Expiry: expiry.UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "expiry"}),
	}).Create(model).Error
}

func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&SessionModel{}).Error
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
	res := s.db.WithContext(ctx).Where("expiry < ?", now.UTC()).Delete(&SessionModel{})
	return res.RowsAffected, res.Error
}
