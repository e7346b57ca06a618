package oauth2

import (
	"net/http"

	dt "github.com/deeptrace/deeptrace"
)

// StateCookieName holds the state value between the redirect and the callback.
const StateCookieName = "oauthstate"

func setStateCookie(w http.ResponseWriter, state string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(dt.TokenExpiryOAuthState.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearStateCookie expires the state cookie; the state is single use.
func clearStateCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// stateFromRequest returns the callback's state after checking it against
// the cookie set by Begin.
func stateFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		return "", dt.NewAuthError(dt.ErrCodeInvalidToken, "missing oauth state cookie", "state")
	}
	state := r.FormValue("state")
	if state == "" || state != cookie.Value {
		return "", dt.NewAuthError(dt.ErrCodeInvalidToken, "oauth state mismatch", "state")
	}
	return state, nil
}

func oauthFailed(message string, cause error) error {
	return &dt.AuthError{Code: dt.ErrCodeOAuthFailed, Message: message, Err: cause}
}
