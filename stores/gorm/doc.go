//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the deeptrace user,
// token and session stores. Postgres is the production target; the pure Go
// SQLite driver serves development and tests.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: accounts, with unique indexes on email and lower-cased username
//   - auth_tokens: confirmation, password reset and OAuth state tokens
//   - sessions: scs session records keyed by hashed session id
//
// # Usage
//
//	db, _ := gormstore.Open(dsn, nil) // "postgres://..." or "sqlite:/path/to.db"
//	gormstore.AutoMigrate(db)
//	userStore := gormstore.NewUserStore(db)
//	tokenStore := gormstore.NewTokenStore(db)
//	sessionStore := gormstore.NewSessionStore(db)
package gorm
