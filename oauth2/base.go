package oauth2

import (
	"context"
	"net/http"
	"os"

	"golang.org/x/oauth2"
)

// BaseOAuth2 holds the client registration shared by providers.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// HTTPClient is used for the code exchange and profile fetch. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
}

// NewBaseOAuth2 builds the client config. Empty arguments fall back to the
// OAUTH2_CLIENT_ID, OAUTH2_CLIENT_SECRET and OAUTH2_CALLBACK_URL variables.
func NewBaseOAuth2(clientId string, clientSecret string, callbackUrl string, endpoint oauth2.Endpoint, scopes ...string) *BaseOAuth2 {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_CALLBACK_URL")
	}
	return &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

// SetEndpoint points the authorize and token URLs somewhere else, mostly for
// tests against a local provider.
func (b *BaseOAuth2) SetEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// Config returns a copy of the underlying client config.
func (b *BaseOAuth2) Config() oauth2.Config {
	return b.oauthConfig
}

// clientContext attaches the custom HTTP client, if any, so the oauth2
// package uses it for token requests.
func (b *BaseOAuth2) clientContext(ctx context.Context) context.Context {
	if b.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
}
