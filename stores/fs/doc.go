// Package fs stores deeptrace users, tokens and sessions as JSON files on
// local disk. It suits single-process development setups where neither a
// database nor the Datastore emulator is available.
//
//	userStore := fs.NewUserStore("/var/data/deeptrace")
//	tokenStore := fs.NewTokenStore("/var/data/deeptrace")
//	sessionStore := fs.NewSessionStore("/var/data/deeptrace")
package fs
