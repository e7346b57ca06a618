package deeptrace

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OAuthProvider runs the redirect based part of a third party sign-in.
type OAuthProvider interface {
	// Begin redirects the browser to the provider's consent page.
	Begin(w http.ResponseWriter, r *http.Request) error

	// Complete validates the callback request and returns the signed-in
	// profile. It also expires whatever Begin stored in the browser.
	Complete(w http.ResponseWriter, r *http.Request) (*OAuthProfile, error)
}

// App wires the services into the HTTP surface.
type App struct {
	Resolver *IdentityResolver
	Sessions *SessionManager
	Gate     *Gate
	Profiles *ProfileService

	// Google may be nil, in which case the /auth/google routes are not mounted.
	Google OAuthProvider

	// Optional. Without a sender no emails are sent.
	EmailSender EmailSender

	// Optional login throttle.
	Limiter RateLimiter

	// TrustProxy keys the throttle on X-Forwarded-For. Enable it only behind a
	// reverse proxy that sets the header.
	TrustProxy bool

	// ClientURL is where browsers land after OAuth sign-in and logout.
	ClientURL string

	// BaseURL is this server's public URL, used in emailed links.
	BaseURL string

	// APIPrefix mounts the JSON routes. Defaults to "/api".
	APIPrefix string

	router *mux.Router
}

// NewApp creates an App with a Gate and ProfileService built from the given
// resolver and session manager.
func NewApp(resolver *IdentityResolver, sessions *SessionManager) *App {
	return &App{
		Resolver:  resolver,
		Sessions:  sessions,
		Gate:      NewGate(sessions),
		Profiles:  NewProfileService(resolver.Users),
		APIPrefix: "/api",
	}
}

// Handler returns the router, building it on first use.
func (a *App) Handler() http.Handler {
	return a.setupRoutes()
}

func (a *App) setupRoutes() *mux.Router {
	if a.router != nil {
		return a.router
	}
	if a.Gate == nil {
		a.Gate = NewGate(a.Sessions)
	}
	if a.Profiles == nil {
		a.Profiles = NewProfileService(a.Resolver.Users)
	}
	r := mux.NewRouter()
	r.Use(RequestLogger)

	api := r.PathPrefix(a.apiPrefix()).Subrouter()
	api.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/confirmation/{token}", a.handleConfirmation).Methods(http.MethodGet)
	api.HandleFunc("/resendConfirmation", a.handleResendConfirmation).Methods(http.MethodPost)
	api.HandleFunc("/checkEmail", a.handleCheckEmail).Methods(http.MethodGet)
	api.HandleFunc("/requestPasswordReset", a.handleRequestPasswordReset).Methods(http.MethodPost)
	api.HandleFunc("/resetPassword", a.handleResetPassword).Methods(http.MethodPost)

	api.HandleFunc("/getUserDetails", a.Gate.Protect(a.handleGetUserDetails)).Methods(http.MethodGet)
	api.HandleFunc("/updateUserProfile", a.Gate.Protect(a.handleUpdateProfile)).Methods(http.MethodPut)
	api.HandleFunc("/checkUsername", a.handleCheckUsername).Methods(http.MethodGet)
	api.HandleFunc("/addMediaUrl", a.Gate.Protect(a.handleAddMedia)).Methods(http.MethodPost)
	api.HandleFunc("/getMedia", a.Gate.Protect(a.handleGetMedia)).Methods(http.MethodGet)
	api.HandleFunc("/deleteMedia", a.Gate.Protect(a.handleDeleteMedia)).Methods(http.MethodDelete)

	if a.Google != nil {
		r.HandleFunc("/auth/google", a.handleGoogleBegin).Methods(http.MethodGet)
		r.HandleFunc("/auth/google/callback", a.handleGoogleCallback).Methods(http.MethodGet)
	}
	r.HandleFunc("/logout", a.handleLogout).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "DeepTrace API is running")
	}).Methods(http.MethodGet)

	a.router = r
	return r
}

// clientRedirect builds an absolute URL on the client app.
func (a *App) clientRedirect(path string, query url.Values) string {
	target := strings.TrimSuffix(a.ClientURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func (a *App) handleGoogleBegin(w http.ResponseWriter, r *http.Request) {
	if err := a.Google.Begin(w, r); err != nil {
		LoggerFromContext(r.Context()).Error("oauth begin failed", "error", err)
		a.redirectOAuthFailure(w, r, err)
	}
}

// handleGoogleCallback finishes Google sign-in. Success lands on the client's
// home page with a session cookie; any failure lands on its login page with
// the error code in the query string.
func (a *App) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := a.Google.Complete(w, r)
	if err != nil {
		recordAuth("google", err)
		LoggerFromContext(ctx).Warn("oauth callback rejected", "error", err)
		a.redirectOAuthFailure(w, r, err)
		return
	}

	user, err := a.Resolver.AuthenticateOAuth(ctx, *profile)
	recordAuth("google", err)
	if err != nil {
		a.redirectOAuthFailure(w, r, err)
		return
	}

	if _, err := a.Sessions.Login(ctx, w, r, user); err != nil {
		a.redirectOAuthFailure(w, r, err)
		return
	}
	sessionsCreatedTotal.Inc()
	http.Redirect(w, r, a.clientRedirect("/home", nil), http.StatusFound)
}

func (a *App) redirectOAuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := CodeOf(err)
	http.Redirect(w, r, a.clientRedirect("/login", url.Values{"error": {string(code)}}), http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Logout(r.Context(), w, r); err != nil {
		LoggerFromContext(r.Context()).Warn("logout could not delete session", "error", err)
	}
	http.Redirect(w, r, a.clientRedirect("/", nil), http.StatusFound)
}
