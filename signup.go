package deeptrace

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
)

// userSummary is the public view of a user returned by the JSON routes.
func userSummary(u *User) map[string]any {
	return map[string]any{
		"id":             u.ID,
		"username":       u.Username,
		"email":          u.Email,
		"profilePicture": u.ProfilePicture,
		"isVerified":     u.IsVerified,
	}
}

// handleRegister processes POST /register. The account starts unverified and
// a confirmation link is emailed when a sender is configured.
func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	user, token, err := a.Resolver.RegisterLocal(ctx, req.Username, req.Email, req.Password)
	recordAuth("register", err)
	if err != nil {
		if user != nil {
			// The account exists unverified; POST /resendConfirmation recovers it.
			LoggerFromContext(ctx).Error("confirmation token not issued", "user_id", user.ID, "error", err)
		}
		writeError(w, r, err)
		return
	}
	a.sendConfirmation(r, user, token)

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "User registered. Please check your email to confirm your account.",
		"user":    userSummary(user),
	})
}

func (a *App) sendConfirmation(r *http.Request, user *User, token *Token) {
	if token == nil || a.EmailSender == nil {
		return
	}
	link := strings.TrimSuffix(a.BaseURL, "/") + a.apiPrefix() + "/confirmation/" + url.PathEscape(token.Value)
	if err := a.EmailSender.SendConfirmationEmail(r.Context(), user.Email, link); err != nil {
		LoggerFromContext(r.Context()).Error("error sending confirmation email", "user_id", user.ID, "error", err)
	}
}

// handleResendConfirmation processes POST /resendConfirmation. Like the reset
// request it answers the same way for every email.
func (a *App) handleResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeJSON(r, &req); err == nil {
		ctx := r.Context()
		token, err := a.Resolver.ResendConfirmation(ctx, req.Email)
		if err != nil {
			LoggerFromContext(ctx).Error("error reissuing confirmation token", "error", err)
		} else if token != nil {
			a.sendConfirmation(r, &User{ID: token.UserID, Email: token.Email}, token)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that account needs confirmation, a new link has been sent",
	})
}

func (a *App) apiPrefix() string {
	prefix := strings.TrimSuffix(a.APIPrefix, "/")
	if prefix == "" {
		return "/api"
	}
	return prefix
}

// handleConfirmation processes GET /confirmation/{token}.
func (a *App) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	user, err := a.Resolver.ConfirmEmail(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email confirmed successfully",
		"user":    userSummary(user),
	})
}

// handleCheckEmail processes GET /checkEmail?email=.
func (a *App) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if strings.TrimSpace(email) == "" {
		writeError(w, r, invalidInput("email", "email is required"))
		return
	}
	exists, err := a.Resolver.EmailExists(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": exists})
}
