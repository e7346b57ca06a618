package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dt "github.com/deeptrace/deeptrace"
	"github.com/deeptrace/deeptrace/internal/config"
	"github.com/deeptrace/deeptrace/stores/fs"
	"github.com/deeptrace/deeptrace/stores/gae"
	gormstore "github.com/deeptrace/deeptrace/stores/gorm"
)

// expirer is implemented by the token and session stores of every backend.
type expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type backend struct {
	users    dt.UserStore
	tokens   dt.TokenStore
	sessions scs.Store
	expirers map[string]expirer
	close    func() error
}

// openBackend builds the stores selected by STORE_BACKEND.
func openBackend(ctx context.Context, cfg *config.Config, migrate bool) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("datastore client: %w", err)
		}
		tokens := gae.NewTokenStore(client, cfg.DatastoreNamespace)
		sessions := gae.NewSessionStore(client, cfg.DatastoreNamespace)
		return &backend{
			users:    gae.NewUserStore(client, cfg.DatastoreNamespace),
			tokens:   tokens,
			sessions: sessions,
			expirers: map[string]expirer{"tokens": tokens, "sessions": sessions},
			close:    client.Close,
		}, nil

	case config.BackendFS:
		tokens := fs.NewTokenStore(cfg.DataDir)
		sessions := fs.NewSessionStore(cfg.DataDir)
		return &backend{
			users:    fs.NewUserStore(cfg.DataDir),
			tokens:   tokens,
			sessions: sessions,
			expirers: map[string]expirer{"tokens": tokens, "sessions": sessions},
			close:    func() error { return nil },
		}, nil

	case config.BackendGorm, config.BackendMemory:
		var db *gorm.DB
		var err error
		if cfg.StoreBackend == config.BackendMemory {
			db, err = gormstore.OpenMemory("deeptrace")
		} else {
			gormLogger := gormlogger.Default.LogMode(gormlogger.Warn)
			db, err = gormstore.Open(cfg.DatabaseDSN, &gorm.Config{Logger: gormLogger})
			if err == nil && migrate {
				err = gormstore.AutoMigrate(db)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		tokens := gormstore.NewTokenStore(db)
		sessions := gormstore.NewSessionStore(db)
		return &backend{
			users:    gormstore.NewUserStore(db),
			tokens:   tokens,
			sessions: sessions,
			expirers: map[string]expirer{"tokens": tokens, "sessions": sessions},
			close: func() error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// sweep removes expired records from every store once.
func (b *backend) sweep(ctx context.Context) {
	now := time.Now()
	for name, e := range b.expirers {
		n, err := e.DeleteExpired(ctx, now)
		if err != nil {
			logger.Warn("expiry sweep failed", "store", name, "error", err)
			continue
		}
		if n > 0 {
			logger.Info("expired records removed", "store", name, "count", n)
		}
	}
}

// sweepEvery runs sweep on an interval until ctx is done.
func (b *backend) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}
