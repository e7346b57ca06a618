// Package deeptrace implements the account and session backend of DeepTrace.
//
// Users sign up either with an email and password or with Google. The two
// credential sources never merge: an email that already belongs to a password
// account cannot be used to sign in with Google and vice versa.
//
// # Architecture
//
// UserStore and TokenStore persist accounts and single use tokens. The
// stores/gae package backs them with Cloud Datastore, stores/gorm with any
// GORM dialect and stores/fs with JSON files for local development. Sessions
// live in any scs.Store.
//
// IdentityResolver turns credentials (password, Google profile, emailed
// token) into a User. SessionManager maps an opaque cookie to a user id with
// a fixed lifetime and re-reads the user on every request. Gate answers "who
// is calling" for handlers and rejects anonymous callers on protected routes.
//
// App mounts the HTTP surface on a gorilla/mux router.
//
// # Basic Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	users := gormstore.NewUserStore(db)
//	tokens := deeptrace.NewTokenIssuer(gormstore.NewTokenStore(db))
//
//	resolver := deeptrace.NewIdentityResolver(users, tokens, nil)
//	sessions := deeptrace.NewSessionManager(gormstore.NewSessionStore(db), users, secret).
//	    UseProductionCookies(isProduction)
//
//	app := deeptrace.NewApp(resolver, sessions)
//	app.ClientURL = "https://app.example.com"
//	app.Google = oauth2.NewGoogleOAuth2(clientID, clientSecret, callbackURL, tokens)
//	http.ListenAndServe(":5000", app.Handler())
//
// # Routes
//
// JSON routes live under /api: register, resendConfirmation, login,
// confirmation/{token}, checkEmail, requestPasswordReset, resetPassword,
// getUserDetails, updateUserProfile, checkUsername, addMediaUrl, getMedia and
// deleteMedia.
// Browser routes /auth/google, /auth/google/callback and /logout redirect back
// to the client app.
package deeptrace
