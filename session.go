package deeptrace

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
)

const (
	DefaultSessionCookieName = "deeptrace_session"
	DefaultSessionLifetime   = 24 * time.Hour

	sessionUserIDKey = "userID"
)

// SessionManager maps opaque session ids to user ids. Records live in any
// scs.Store and are encoded with the store-agnostic scs codec. The lifetime
// is fixed at creation; reading a session never extends it.
//
// The id handed to the client is never stored directly: records are keyed by
// its SHA-256 digest and the cookie carries an HMAC signature of the id.
type SessionManager struct {
	Store    scs.Store
	Users    UserStore
	Codec    scs.Codec
	Lifetime time.Duration
	Cookie   scs.SessionCookie
	Logger   *slog.Logger

	// Now is the clock used for deadlines. Defaults to time.Now.
	Now func() time.Time

	secret []byte
}

// NewSessionManager creates a manager. secret signs cookie values and must be
// kept stable across restarts for sessions to survive them.
func NewSessionManager(store scs.Store, users UserStore, secret string) *SessionManager {
	return &SessionManager{
		Store:    store,
		Users:    users,
		Codec:    scs.GobCodec{},
		Lifetime: DefaultSessionLifetime,
		Cookie: scs.SessionCookie{
			Name:     DefaultSessionCookieName,
			Path:     "/",
			HttpOnly: true,
			Persist:  true,
			SameSite: http.SameSiteLaxMode,
		},
		Logger: slog.Default(),
		secret: []byte(secret),
	}
}

// UseProductionCookies switches the cookie to Secure + SameSite=None so the
// separately hosted client can send it cross-site over HTTPS.
func (sm *SessionManager) UseProductionCookies(production bool) *SessionManager {
	if production {
		sm.Cookie.Secure = true
		sm.Cookie.SameSite = http.SameSiteNoneMode
	} else {
		sm.Cookie.Secure = false
		sm.Cookie.SameSite = http.SameSiteLaxMode
	}
	return sm
}

func (sm *SessionManager) now() time.Time {
	if sm.Now != nil {
		return sm.Now()
	}
	return time.Now()
}

func (sm *SessionManager) logger() *slog.Logger {
	if sm.Logger != nil {
		return sm.Logger
	}
	return slog.Default()
}

func storageKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CreateSession persists a new session for the user and returns its id.
func (sm *SessionManager) CreateSession(ctx context.Context, user *User) (string, error) {
	if user == nil || user.ID == "" {
		return "", invalidInput("user", "session requires a persisted user")
	}
	id, err := generateSessionID()
	if err != nil {
		return "", err
	}
	deadline := sm.now().Add(sm.Lifetime).UTC()
	data, err := sm.Codec.Encode(deadline, map[string]interface{}{sessionUserIDKey: user.ID})
	if err != nil {
		return "", err
	}
	if err := sm.commit(ctx, storageKey(id), data, deadline); err != nil {
		return "", storeErr(err)
	}
	return id, nil
}

// ResolveSession returns the user owning a session. A nil user with a nil
// error means anonymous: unknown or expired ids and sessions whose user was
// deleted. The user is always re-read from the UserStore.
func (sm *SessionManager) ResolveSession(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	key := storageKey(id)
	data, found, err := sm.find(ctx, key)
	if err != nil {
		return nil, storeErr(err)
	}
	if !found {
		return nil, nil
	}

	deadline, values, err := sm.Codec.Decode(data)
	if err != nil {
		sm.logger().WarnContext(ctx, "dropping undecodable session", "error", err)
		sm.delete(ctx, key)
		return nil, nil
	}
	if !sm.now().Before(deadline) {
		sm.delete(ctx, key)
		return nil, nil
	}
	userID, _ := values[sessionUserIDKey].(string)
	if userID == "" {
		sm.delete(ctx, key)
		return nil, nil
	}

	user, err := sm.Users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		sm.delete(ctx, key)
		return nil, nil
	} else if err != nil {
		return nil, storeErr(err)
	}
	return user, nil
}

// DestroySession removes a session. Destroying an unknown session succeeds.
func (sm *SessionManager) DestroySession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return storeErr(sm.delete(ctx, storageKey(id)))
}

func (sm *SessionManager) find(ctx context.Context, key string) ([]byte, bool, error) {
	if cs, ok := sm.Store.(scs.CtxStore); ok {
		return cs.FindCtx(ctx, key)
	}
	return sm.Store.Find(key)
}

func (sm *SessionManager) commit(ctx context.Context, key string, data []byte, expiry time.Time) error {
	if cs, ok := sm.Store.(scs.CtxStore); ok {
		return cs.CommitCtx(ctx, key, data, expiry)
	}
	return sm.Store.Commit(key, data, expiry)
}

func (sm *SessionManager) delete(ctx context.Context, key string) error {
	var err error
	if cs, ok := sm.Store.(scs.CtxStore); ok {
		err = cs.DeleteCtx(ctx, key)
	} else {
		err = sm.Store.Delete(key)
	}
	if err != nil {
		sm.logger().WarnContext(ctx, "failed to delete session", "error", err)
	}
	return err
}

func (sm *SessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, sm.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SessionID returns the verified session id carried by the request cookie,
// or "" when the cookie is missing or its signature does not match.
func (sm *SessionManager) SessionID(r *http.Request) string {
	c, err := r.Cookie(sm.Cookie.Name)
	if err != nil || c.Value == "" {
		return ""
	}
	id, sig, ok := strings.Cut(c.Value, ".")
	if !ok || id == "" {
		return ""
	}
	if !hmac.Equal([]byte(sig), []byte(sm.sign(id))) {
		return ""
	}
	return id
}

// WriteCookie sets the session cookie for id.
func (sm *SessionManager) WriteCookie(w http.ResponseWriter, id string) {
	c := sm.baseCookie()
	c.Value = id + "." + sm.sign(id)
	if sm.Cookie.Persist {
		c.MaxAge = int(sm.Lifetime.Seconds())
		c.Expires = sm.now().Add(sm.Lifetime).UTC()
	}
	http.SetCookie(w, c)
}

// ClearCookie expires the session cookie on the client.
func (sm *SessionManager) ClearCookie(w http.ResponseWriter) {
	c := sm.baseCookie()
	c.MaxAge = -1
	c.Expires = time.Unix(1, 0)
	http.SetCookie(w, c)
}

func (sm *SessionManager) baseCookie() *http.Cookie {
	return &http.Cookie{
		Name:     sm.Cookie.Name,
		Path:     sm.Cookie.Path,
		Domain:   sm.Cookie.Domain,
		HttpOnly: sm.Cookie.HttpOnly,
		Secure:   sm.Cookie.Secure,
		SameSite: sm.Cookie.SameSite,
	}
}

// Login rotates the session on the request: any session it already carries
// is destroyed and a fresh one is issued and written to the response.
func (sm *SessionManager) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, user *User) (string, error) {
	if old := sm.SessionID(r); old != "" {
		if err := sm.DestroySession(ctx, old); err != nil {
			return "", err
		}
	}
	id, err := sm.CreateSession(ctx, user)
	if err != nil {
		return "", err
	}
	sm.WriteCookie(w, id)
	return id, nil
}

// Logout destroys the request's session and clears the cookie.
func (sm *SessionManager) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	err := sm.DestroySession(ctx, sm.SessionID(r))
	sm.ClearCookie(w)
	return err
}
