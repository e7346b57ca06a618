package oauth2

import (
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	dt "github.com/deeptrace/deeptrace"
)

// GoogleOAuth2 signs users in with Google. State values are single use
// tokens issued through the TokenIssuer, so a callback can be replayed at
// most once and only within the state lifetime.
type GoogleOAuth2 struct {
	*BaseOAuth2

	Tokens *dt.TokenIssuer

	// APIEndpoint overrides the userinfo API base URL. Empty uses Google's.
	APIEndpoint string

	// SecureCookies marks the state cookie Secure.
	SecureCookies bool
}

func NewGoogleOAuth2(clientId string, clientSecret string, callbackUrl string, tokens *dt.TokenIssuer) *GoogleOAuth2 {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_GOOGLE_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL")
	}
	return &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(clientId, clientSecret, callbackUrl, google.Endpoint,
			oauth2api.UserinfoEmailScope,
			oauth2api.UserinfoProfileScope,
		),
		Tokens: tokens,
	}
}

// Begin stores a fresh state token, mirrors it in a cookie and redirects to
// Google's consent page.
func (g *GoogleOAuth2) Begin(w http.ResponseWriter, r *http.Request) error {
	state, err := g.Tokens.Issue(r.Context(), dt.PurposeOAuthState, "", "")
	if err != nil {
		return err
	}
	setStateCookie(w, state.Value, g.SecureCookies)
	http.Redirect(w, r, g.oauthConfig.AuthCodeURL(state.Value), http.StatusFound)
	return nil
}

// Complete validates the callback and returns the Google profile. The state
// cookie is expired whatever the outcome.
func (g *GoogleOAuth2) Complete(w http.ResponseWriter, r *http.Request) (*dt.OAuthProfile, error) {
	clearStateCookie(w, g.SecureCookies)
	if denied := r.FormValue("error"); denied != "" {
		return nil, oauthFailed("provider returned "+denied, nil)
	}
	state, err := stateFromRequest(r)
	if err != nil {
		return nil, err
	}
	if _, err := g.Tokens.Consume(r.Context(), state, dt.PurposeOAuthState); err != nil {
		return nil, err
	}
	code := r.FormValue("code")
	if code == "" {
		return nil, oauthFailed("missing authorization code", nil)
	}

	ctx := g.clientContext(r.Context())
	token, err := g.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, oauthFailed("code exchange failed", err)
	}

	opts := []option.ClientOption{option.WithHTTPClient(g.oauthConfig.Client(ctx, token))}
	if g.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.APIEndpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, oauthFailed("userinfo client", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, oauthFailed("fetching userinfo failed", err)
	}
	if info.Id == "" || info.Email == "" {
		return nil, oauthFailed("profile is missing id or email", nil)
	}
	if info.VerifiedEmail != nil && !*info.VerifiedEmail {
		return nil, oauthFailed("google email is not verified", nil)
	}
	return &dt.OAuthProfile{
		Subject:     info.Id,
		Email:       info.Email,
		DisplayName: info.Name,
		Picture:     info.Picture,
	}, nil
}
