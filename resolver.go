package deeptrace

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// maxUsernameAttempts bounds the suffix search when a derived OAuth username
// collides with existing accounts.
const maxUsernameAttempts = 20

// OAuthProfile is what the Google provider reports about a signed-in user.
type OAuthProfile struct {
	Subject     string
	Email       string
	DisplayName string
	Picture     string
}

// IdentityResolver turns credentials into a User. It enforces the rule that
// an email belongs to exactly one credential source and never merges a
// password account with a Google account.
type IdentityResolver struct {
	Users  UserStore
	Tokens *TokenIssuer
	Hasher PasswordHasher
	Logger *slog.Logger
}

func NewIdentityResolver(users UserStore, tokens *TokenIssuer, hasher PasswordHasher) *IdentityResolver {
	if hasher == nil {
		hasher = NewBcryptHasher()
	}
	return &IdentityResolver{Users: users, Tokens: tokens, Hasher: hasher, Logger: slog.Default()}
}

func (ir *IdentityResolver) logger() *slog.Logger {
	if ir.Logger != nil {
		return ir.Logger
	}
	return slog.Default()
}

// RegisterLocal creates an unverified password account and issues its email
// confirmation token.
func (ir *IdentityResolver) RegisterLocal(ctx context.Context, username, email, password string) (*User, *Token, error) {
	req := RegisterRequest{Username: strings.TrimSpace(username), Email: NormalizeEmail(email), Password: password}
	if err := Validate(&req); err != nil {
		return nil, nil, err
	}

	hash, err := ir.Hasher.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		IsVerified:   false,
	}
	// Uniqueness is decided by the store.
	if err := ir.Users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrUsernameTaken) {
			ir.logger().InfoContext(ctx, "registration rejected", "code", CodeOf(err))
		}
		return nil, nil, storeErr(err)
	}

	// The account stays usable when this fails: ResendConfirmation issues a
	// fresh token for any unverified password account.
	token, err := ir.Tokens.Issue(ctx, PurposeEmailConfirmation, user.ID, user.Email)
	if err != nil {
		return user, nil, storeErr(err)
	}
	ir.logger().InfoContext(ctx, "registered local user", "user_id", user.ID)
	return user, token, nil
}

// AuthenticateLocal checks an email/password pair. Failures are reported in
// order: unknown email, account without a password, wrong password, and
// unconfirmed email.
func (ir *IdentityResolver) AuthenticateLocal(ctx context.Context, email, password string) (*User, error) {
	user, err := ir.Users.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, storeErr(err)
	}
	if !user.HasPassword() {
		return nil, ErrWrongCredentialSource
	}
	if err := ir.Hasher.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			return nil, ErrInvalidPassword
		}
		return nil, err
	}
	if !user.IsVerified {
		return nil, ErrNotVerified
	}
	return user, nil
}

// AuthenticateOAuth resolves a Google profile to a user, creating the
// account on first sign-in. An existing account is only accepted when it
// carries the same Google subject.
func (ir *IdentityResolver) AuthenticateOAuth(ctx context.Context, profile OAuthProfile) (*User, error) {
	email := NormalizeEmail(profile.Email)
	if email == "" || profile.Subject == "" {
		return nil, invalidInput("email", "oauth profile has no email or subject")
	}

	user, err := ir.Users.GetUserByEmail(ctx, email)
	if err == nil {
		return ir.matchOAuthAccount(ctx, user, profile)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, storeErr(err)
	}

	base := DeriveUsername(profile.DisplayName, email)
	for attempt := 1; attempt <= maxUsernameAttempts; attempt++ {
		user = &User{
			Username:       usernameWithSuffix(base, attempt),
			Email:          email,
			GoogleID:       profile.Subject,
			IsVerified:     true,
			ProfilePicture: profile.Picture,
		}
		err = ir.Users.CreateUser(ctx, user)
		switch {
		case err == nil:
			ir.logger().InfoContext(ctx, "created oauth user", "user_id", user.ID)
			return user, nil
		case errors.Is(err, ErrUsernameTaken):
			continue
		case errors.Is(err, ErrDuplicateEmail):
			// Lost a race against a concurrent sign-in for the same email.
			winner, gerr := ir.Users.GetUserByEmail(ctx, email)
			if gerr != nil {
				return nil, storeErr(gerr)
			}
			return ir.matchOAuthAccount(ctx, winner, profile)
		default:
			return nil, storeErr(err)
		}
	}
	return nil, NewAuthError(ErrCodeUsernameTaken, "could not derive a free username", "username")
}

func (ir *IdentityResolver) matchOAuthAccount(ctx context.Context, user *User, profile OAuthProfile) (*User, error) {
	if user.GoogleID != "" && user.GoogleID == profile.Subject {
		return user, nil
	}
	ir.logger().InfoContext(ctx, "oauth sign-in rejected for account of another source", "user_id", user.ID)
	return nil, ErrWrongCredentialSource
}

// ConfirmEmail redeems a confirmation token and marks the account verified.
func (ir *IdentityResolver) ConfirmEmail(ctx context.Context, token string) (*User, error) {
	var user *User
	err := ir.Tokens.Redeem(ctx, token, PurposeEmailConfirmation, func(t *Token) error {
		var err error
		user, err = ir.Users.UpdateUser(ctx, t.UserID, func(u *User) error {
			u.IsVerified = true
			return nil
		})
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	} else if err != nil {
		return nil, storeErr(err)
	}
	return user, nil
}

// ResendConfirmation replaces the confirmation token of an unverified
// password account. Like RequestPasswordReset it returns a nil token without
// error when there is nothing to confirm.
func (ir *IdentityResolver) ResendConfirmation(ctx context.Context, email string) (*Token, error) {
	user, err := ir.Users.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, storeErr(err)
	}
	if user.IsVerified || !user.HasPassword() {
		return nil, nil
	}
	if err := ir.Tokens.Revoke(ctx, user.ID, PurposeEmailConfirmation); err != nil {
		return nil, err
	}
	return ir.Tokens.Issue(ctx, PurposeEmailConfirmation, user.ID, user.Email)
}

// RequestPasswordReset issues a reset token for password accounts. It returns
// a nil token without error for unknown emails and OAuth-only accounts so
// callers respond identically in every case.
func (ir *IdentityResolver) RequestPasswordReset(ctx context.Context, email string) (*Token, error) {
	user, err := ir.Users.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, storeErr(err)
	}
	if !user.HasPassword() {
		return nil, nil
	}
	return ir.Tokens.Issue(ctx, PurposePasswordReset, user.ID, user.Email)
}

// ResetPassword redeems a reset token and replaces the password hash. Other
// outstanding reset tokens of the user are revoked. Verification state is
// left as is.
func (ir *IdentityResolver) ResetPassword(ctx context.Context, token, newPassword string) (*User, error) {
	req := ResetPasswordRequest{Token: token, NewPassword: newPassword}
	if err := Validate(&req); err != nil {
		return nil, err
	}
	hash, err := ir.Hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	var user *User
	err = ir.Tokens.Redeem(ctx, token, PurposePasswordReset, func(t *Token) error {
		var err error
		user, err = ir.Users.UpdateUser(ctx, t.UserID, func(u *User) error {
			u.PasswordHash = hash
			return nil
		})
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	} else if err != nil {
		return nil, storeErr(err)
	}
	if err := ir.Tokens.Revoke(ctx, user.ID, PurposePasswordReset); err != nil {
		ir.logger().WarnContext(ctx, "failed to revoke reset tokens", "user_id", user.ID, "error", err)
	}
	ir.logger().InfoContext(ctx, "password reset", "user_id", user.ID)
	return user, nil
}

// EmailExists reports whether any account uses the email.
func (ir *IdentityResolver) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := ir.Users.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, storeErr(err)
	}
	return true, nil
}
