package deeptrace_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	dt "github.com/deeptrace/deeptrace"
	gormstore "github.com/deeptrace/deeptrace/stores/gorm"
)

const (
	testSecret    = "test-secret-0123456789abcdef0123456789"
	testClientURL = "http://client.test"
	testBaseURL   = "http://api.test"
)

// recordingSender keeps the links it was asked to send.
type recordingSender struct {
	mu            sync.Mutex
	confirmations map[string]string
	resets        map[string]string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{confirmations: map[string]string{}, resets: map[string]string{}}
}

func (s *recordingSender) SendConfirmationEmail(ctx context.Context, to, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations[to] = link
	return nil
}

func (s *recordingSender) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[to] = link
	return nil
}

func (s *recordingSender) confirmationLink(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmations[email]
}

func (s *recordingSender) resetLink(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets[email]
}

// fakeProvider plays Google in handler tests.
type fakeProvider struct {
	profile *dt.OAuthProfile
	err     error
}

func (f *fakeProvider) Begin(w http.ResponseWriter, r *http.Request) error {
	http.Redirect(w, r, "https://accounts.example.com/auth?state=s", http.StatusFound)
	return nil
}

func (f *fakeProvider) Complete(w http.ResponseWriter, r *http.Request) (*dt.OAuthProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := *f.profile
	return &p, nil
}

// failingUsers fails UpdateUser with err while it is set.
type failingUsers struct {
	dt.UserStore
	err error
}

func (f *failingUsers) UpdateUser(ctx context.Context, id string, fn func(u *dt.User) error) (*dt.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.UserStore.UpdateUser(ctx, id, fn)
}

// failingTokens fails CreateToken with err while it is set.
type failingTokens struct {
	dt.TokenStore
	err error
}

func (f *failingTokens) CreateToken(ctx context.Context, token *dt.Token) error {
	if f.err != nil {
		return f.err
	}
	return f.TokenStore.CreateToken(ctx, token)
}

type testEnv struct {
	db       *gorm.DB
	users    *gormstore.UserStore
	tokens   *dt.TokenIssuer
	resolver *dt.IdentityResolver
	sessions *dt.SessionManager
	profiles *dt.ProfileService
	app      *dt.App
	mail     *recordingSender
	google   *fakeProvider
	handler  http.Handler
}

// setupTest builds the full service graph over an in-memory SQLite database
// and an scs memstore.
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := gormstore.OpenMemory(strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := gormstore.NewUserStore(db)
	tokens := dt.NewTokenIssuer(gormstore.NewTokenStore(db))
	resolver := dt.NewIdentityResolver(users, tokens, &dt.BcryptHasher{Cost: bcrypt.MinCost})
	resolver.Logger = quiet

	sessions := dt.NewSessionManager(memstore.NewWithCleanupInterval(0), users, testSecret)
	sessions.Logger = quiet

	env := &testEnv{
		db:       db,
		users:    users,
		tokens:   tokens,
		resolver: resolver,
		sessions: sessions,
		mail:     newRecordingSender(),
		google:   &fakeProvider{},
	}
	env.app = dt.NewApp(resolver, sessions)
	env.app.ClientURL = testClientURL
	env.app.BaseURL = testBaseURL
	env.app.EmailSender = env.mail
	env.app.Google = env.google
	env.profiles = env.app.Profiles
	env.handler = env.app.Handler()
	return env
}

// registerVerified creates a confirmed password account.
func (e *testEnv) registerVerified(t *testing.T, username, email, password string) *dt.User {
	t.Helper()
	ctx := context.Background()
	_, token, err := e.resolver.RegisterLocal(ctx, username, email, password)
	require.NoError(t, err)
	user, err := e.resolver.ConfirmEmail(ctx, token.Value)
	require.NoError(t, err)
	return user
}

// do sends a request through the router. body is JSON encoded unless it is
// url.Values, which is sent form encoded.
func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case url.Values:
		req = httptest.NewRequest(method, path, strings.NewReader(b.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// sessionCookie returns the session cookie set on the response, or nil.
func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == dt.DefaultSessionCookieName {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "body: %s", rr.Body.String())
	return body
}
