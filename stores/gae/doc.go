//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the deeptrace
// user, token and session stores. It targets deployments on Google Cloud and
// supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - User: accounts keyed by user id
//   - UserEmail: email reservations, key name is the normalized email
//   - Username: username reservations, key name is the lower-cased username
//   - AuthToken: confirmation, password reset and OAuth state tokens
//   - Session: scs session records keyed by hashed session id
//
// Reservations are written in the same transaction as the user, so two
// concurrent registrations for one email cannot both commit.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	userStore := gae.NewUserStore(client, "")  // default namespace
//	tokenStore := gae.NewTokenStore(client, "")
//	sessionStore := gae.NewSessionStore(client, "")
package gae
