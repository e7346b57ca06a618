package oauth2_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"

	dt "github.com/deeptrace/deeptrace"
	"github.com/deeptrace/deeptrace/oauth2"
	gormstore "github.com/deeptrace/deeptrace/stores/gorm"
)

// mockGoogle stands in for Google's token endpoint and userinfo API.
type mockGoogle struct {
	server        *httptest.Server
	userInfo      map[string]any
	tokenError    bool
	userInfoError bool
	lastCode      string
}

func newMockGoogle() *mockGoogle {
	mock := &mockGoogle{
		userInfo: map[string]any{
			"id":             "g-12345",
			"email":          "testuser@example.com",
			"verified_email": true,
			"name":           "Test User",
			"picture":        "https://example.com/p.png",
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if mock.tokenError {
			http.Error(w, "token exchange failed", http.StatusBadRequest)
			return
		}
		r.ParseForm()
		mock.lastCode = r.FormValue("code")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mock_access_token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if mock.userInfoError || r.Header.Get("Authorization") != "Bearer mock_access_token" {
			http.Error(w, "user info failed", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.userInfo)
	})
	mock.server = httptest.NewServer(mux)
	return mock
}

func (m *mockGoogle) Close() { m.server.Close() }

func newProvider(t *testing.T, mock *mockGoogle) *oauth2.GoogleOAuth2 {
	t.Helper()
	db, err := gormstore.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	g := oauth2.NewGoogleOAuth2("test-client-id", "test-client-secret",
		"http://localhost:5000/auth/google/callback", dt.NewTokenIssuer(gormstore.NewTokenStore(db)))
	g.SetEndpoint(oauth2lib.Endpoint{
		AuthURL:   mock.server.URL + "/auth",
		TokenURL:  mock.server.URL + "/token",
		AuthStyle: oauth2lib.AuthStyleInParams,
	})
	g.APIEndpoint = mock.server.URL + "/"
	return g
}

// begin runs the redirect and returns the issued state.
func begin(t *testing.T, g *oauth2.GoogleOAuth2) string {
	t.Helper()
	rr := httptest.NewRecorder()
	require.NoError(t, g.Begin(rr, httptest.NewRequest(http.MethodGet, "/auth/google", nil)))
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("state")
}

func callback(state, cookie, code string) *http.Request {
	q := url.Values{"state": {state}, "code": {code}}
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: oauth2.StateCookieName, Value: cookie})
	}
	return req
}

func TestGoogleBegin(t *testing.T) {
	mock := newMockGoogle()
	defer mock.Close()
	g := newProvider(t, mock)

	rr := httptest.NewRecorder()
	require.NoError(t, g.Begin(rr, httptest.NewRequest(http.MethodGet, "/auth/google", nil)))
	assert.Equal(t, http.StatusFound, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc.String(), mock.server.URL+"/auth"))
	q := loc.Query()
	assert.Equal(t, "test-client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:5000/auth/google/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Contains(t, q.Get("scope"), "userinfo.email")
	require.NotEmpty(t, q.Get("state"))

	var stateCookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == oauth2.StateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.Equal(t, q.Get("state"), stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)

	assert.NotEqual(t, q.Get("state"), begin(t, g), "each redirect gets its own state")
}

func TestGoogleComplete(t *testing.T) {
	t.Run("successful callback", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		g := newProvider(t, mock)

		state := begin(t, g)
		profile, err := g.Complete(httptest.NewRecorder(), callback(state, state, "auth-code"))
		require.NoError(t, err)
		assert.Equal(t, "auth-code", mock.lastCode)
		assert.Equal(t, "g-12345", profile.Subject)
		assert.Equal(t, "testuser@example.com", profile.Email)
		assert.Equal(t, "Test User", profile.DisplayName)
		assert.Equal(t, "https://example.com/p.png", profile.Picture)
	})

	t.Run("state is single use", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		g := newProvider(t, mock)

		state := begin(t, g)
		_, err := g.Complete(httptest.NewRecorder(), callback(state, state, "c"))
		require.NoError(t, err)
		_, err = g.Complete(httptest.NewRecorder(), callback(state, state, "c"))
		assert.ErrorIs(t, err, dt.ErrInvalidOrExpiredToken)
	})

	t.Run("rejects missing state cookie", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		g := newProvider(t, mock)

		state := begin(t, g)
		_, err := g.Complete(httptest.NewRecorder(), callback(state, "", "c"))
		assert.ErrorIs(t, err, dt.ErrInvalidOrExpiredToken)
	})

	t.Run("rejects mismatched state", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		g := newProvider(t, mock)

		state := begin(t, g)
		_, err := g.Complete(httptest.NewRecorder(), callback(state, "other", "c"))
		assert.ErrorIs(t, err, dt.ErrInvalidOrExpiredToken)
	})

	t.Run("rejects forged state that matches its cookie", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		g := newProvider(t, mock)

		_, err := g.Complete(httptest.NewRecorder(), callback("forged", "forged", "c"))
		assert.ErrorIs(t, err, dt.ErrInvalidOrExpiredToken)
	})

	t.Run("provider denial", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		g := newProvider(t, mock)

		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied", nil)
		_, err := g.Complete(httptest.NewRecorder(), req)
		assert.ErrorIs(t, err, dt.ErrOAuthFailed)
	})

	t.Run("token exchange failure", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		mock.tokenError = true
		g := newProvider(t, mock)

		state := begin(t, g)
		_, err := g.Complete(httptest.NewRecorder(), callback(state, state, "c"))
		assert.ErrorIs(t, err, dt.ErrOAuthFailed)
	})

	t.Run("userinfo failure", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		mock.userInfoError = true
		g := newProvider(t, mock)

		state := begin(t, g)
		_, err := g.Complete(httptest.NewRecorder(), callback(state, state, "c"))
		assert.ErrorIs(t, err, dt.ErrOAuthFailed)
	})

	t.Run("unverified google email", func(t *testing.T) {
		mock := newMockGoogle()
		defer mock.Close()
		mock.userInfo["verified_email"] = false
		g := newProvider(t, mock)

		state := begin(t, g)
		_, err := g.Complete(httptest.NewRecorder(), callback(state, state, "c"))
		assert.ErrorIs(t, err, dt.ErrOAuthFailed)
	})
}

func TestNewGoogleOAuth2Defaults(t *testing.T) {
	g := oauth2.NewGoogleOAuth2("explicit-client-id", "explicit-secret", "http://explicit-callback.com", nil)
	assert.Equal(t, "explicit-client-id", g.ClientId)
	assert.Equal(t, "explicit-secret", g.ClientSecret)
	assert.Equal(t, "http://explicit-callback.com", g.CallbackURL)

	cfg := g.Config()
	assert.Equal(t, "https://accounts.google.com/o/oauth2/auth", cfg.Endpoint.AuthURL)
	assert.ElementsMatch(t, []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}, cfg.Scopes)

	client := &http.Client{}
	g.SetHTTPClient(client)
	assert.Same(t, client, g.HTTPClient)
}

func TestGoogleCompleteExpiresStateCookie(t *testing.T) {
	mock := newMockGoogle()
	defer mock.Close()
	g := newProvider(t, mock)

	stateCookie := func(rr *httptest.ResponseRecorder) *http.Cookie {
		for _, c := range rr.Result().Cookies() {
			if c.Name == oauth2.StateCookieName {
				return c
			}
		}
		return nil
	}

	state := begin(t, g)
	rr := httptest.NewRecorder()
	_, err := g.Complete(rr, callback(state, state, "auth-code"))
	require.NoError(t, err)
	cookie := stateCookie(rr)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, -1, cookie.MaxAge)

	rr = httptest.NewRecorder()
	_, err = g.Complete(rr, callback("forged", "forged", "c"))
	require.Error(t, err)
	cookie = stateCookie(rr)
	require.NotNil(t, cookie, "failed callbacks expire the cookie too")
	assert.Equal(t, -1, cookie.MaxAge)
}
