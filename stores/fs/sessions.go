package fs

import (
	"context"
	"path/filepath"
	"time"
)

type sessionRecord struct {
	Data   []byte    `json:"data"`
	Expiry time.Time `json:"expiry"`
}

// SessionStore implements scs.Store and scs.CtxStore with one JSON file per
// session under {StoragePath}/sessions.
type SessionStore struct {
	StoragePath string
}

func NewSessionStore(storagePath string) *SessionStore {
	return &SessionStore{StoragePath: storagePath}
}

func (s *SessionStore) dir() string {
	return filepath.Join(s.StoragePath, "sessions")
}

func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var rec sessionRecord
	found, err := readJSON(filepath.Join(s.dir(), fileName(token)), &rec)
	if err != nil || !found {
		return nil, false, err
	}
	if !time.Now().Before(rec.Expiry) {
		return nil, false, nil
	}
	return rec.Data, true, nil
}

func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	return writeJSON(filepath.Join(s.dir(), fileName(token)), sessionRecord{Data: b, Expiry: expiry.UTC()})
}

func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	return removeFile(filepath.Join(s.dir(), fileName(token)))
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
	var n int64
	err := eachRecord(s.dir(), func(path string, rec *sessionRecord) error {
		if rec.Expiry.After(now) {
			return nil
		}
		if err := removeFile(path); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
