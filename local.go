package deeptrace

import (
	"errors"
	"net/http"
	"net/url"
)

// handleLogin processes POST /login. Every resolver failure is a 401 whose
// body carries the specific code so the client can tell the user why.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Email = NormalizeEmail(req.Email)
	if err := Validate(&req); err != nil {
		writeError(w, r, err)
		return
	}

	limitKey := clientIP(r, a.TrustProxy) + "|" + req.Email
	if a.Limiter != nil && !a.Limiter.Allow(limitKey) {
		recordAuth("password", ErrRateLimited)
		writeError(w, r, ErrRateLimited)
		return
	}

	ctx := r.Context()
	user, err := a.Resolver.AuthenticateLocal(ctx, req.Email, req.Password)
	recordAuth("password", err)
	if err != nil {
		LoggerFromContext(ctx).Info("login failed", "code", CodeOf(err))
		if errors.Is(err, ErrNotFound) {
			writeErrorStatus(w, r, NewAuthError(ErrCodeNotFound, "no account with this email", "email"), http.StatusUnauthorized)
			return
		}
		writeError(w, r, err)
		return
	}

	if _, err := a.Sessions.Login(ctx, w, r, user); err != nil {
		writeError(w, r, err)
		return
	}
	sessionsCreatedTotal.Inc()
	if a.Limiter != nil {
		a.Limiter.Reset(limitKey)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userSummary(user),
	})
}

// handleRequestPasswordReset processes POST /requestPasswordReset. The
// response is the same whether or not the email belongs to an account, and
// for malformed bodies too.
func (a *App) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeJSON(r, &req); err == nil {
		a.requestPasswordReset(r, req.Email)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that email exists, a reset link has been sent",
	})
}

func (a *App) requestPasswordReset(r *http.Request, email string) {
	ctx := r.Context()
	token, err := a.Resolver.RequestPasswordReset(ctx, email)
	if err != nil {
		LoggerFromContext(ctx).Error("error creating reset token", "error", err)
		return
	}
	if token == nil || a.EmailSender == nil {
		return
	}
	resetLink := a.clientRedirect("/resetPassword", url.Values{"token": {token.Value}})
	if err := a.EmailSender.SendPasswordResetEmail(ctx, token.Email, resetLink); err != nil {
		LoggerFromContext(ctx).Error("error sending reset email", "error", err)
	}
}

// handleResetPassword processes POST /resetPassword.
func (a *App) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := a.Resolver.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset successfully",
	})
}
