package deeptrace

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine readable failure kind. Codes are part of the
// HTTP contract and appear in JSON error bodies and OAuth failure redirects.
type ErrorCode string

const (
	ErrCodeDuplicateEmail        ErrorCode = "duplicate_email"
	ErrCodeUsernameTaken         ErrorCode = "username_taken"
	ErrCodeNotFound              ErrorCode = "not_found"
	ErrCodeInvalidPassword       ErrorCode = "invalid_password"
	ErrCodeWrongCredentialSource ErrorCode = "wrong_credential_source"
	ErrCodeNotVerified           ErrorCode = "not_verified"
	ErrCodeInvalidToken          ErrorCode = "invalid_or_expired_token"
	ErrCodeUnauthorized          ErrorCode = "unauthorized"
	ErrCodeTransientStore        ErrorCode = "transient_store_error"
	ErrCodeInvalidInput          ErrorCode = "invalid_input"
	ErrCodeRateLimited           ErrorCode = "rate_limited"
	ErrCodeOAuthFailed           ErrorCode = "oauth_failed"
)

// AuthError carries a code plus a human readable message. Field names the
// offending input field for validation failures.
type AuthError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"error"`
	Field   string    `json:"field,omitempty"`
	Err     error     `json:"-"`
}

func NewAuthError(code ErrorCode, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError with the same code, so callers can compare against
// the sentinels below even when the message or field differ.
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors. Compare with errors.Is.
var (
	ErrDuplicateEmail        = NewAuthError(ErrCodeDuplicateEmail, "an account with this email already exists", "email")
	ErrUsernameTaken         = NewAuthError(ErrCodeUsernameTaken, "username is already taken", "username")
	ErrNotFound              = NewAuthError(ErrCodeNotFound, "not found", "")
	ErrInvalidPassword       = NewAuthError(ErrCodeInvalidPassword, "invalid credentials", "password")
	ErrWrongCredentialSource = NewAuthError(ErrCodeWrongCredentialSource, "the entered email has signed up using a different sign up method", "email")
	ErrNotVerified           = NewAuthError(ErrCodeNotVerified, "email address has not been confirmed", "email")
	ErrInvalidOrExpiredToken = NewAuthError(ErrCodeInvalidToken, "invalid or expired token", "token")
	ErrUnauthorized          = NewAuthError(ErrCodeUnauthorized, "User not authenticated", "")
	ErrTransientStore        = NewAuthError(ErrCodeTransientStore, "storage temporarily unavailable", "")
	ErrInvalidInput          = NewAuthError(ErrCodeInvalidInput, "invalid input", "")
	ErrRateLimited           = NewAuthError(ErrCodeRateLimited, "too many attempts, try again later", "")
	ErrOAuthFailed           = NewAuthError(ErrCodeOAuthFailed, "oauth sign in failed", "")
)

// invalidInput builds a field specific validation error that still matches
// ErrInvalidInput.
func invalidInput(field, message string) *AuthError {
	return NewAuthError(ErrCodeInvalidInput, message, field)
}

// storeErr passes semantic store outcomes through and wraps everything else
// as a transient store failure with the cause preserved.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	return &AuthError{Code: ErrCodeTransientStore, Message: ErrTransientStore.Message, Err: err}
}

// CodeOf extracts the error code, defaulting to transient_store_error for
// errors that did not originate here.
func CodeOf(err error) ErrorCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeTransientStore
}

// HTTPStatus maps an error to the status code used by the route handlers.
func HTTPStatus(err error) int {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case ErrCodeDuplicateEmail, ErrCodeUsernameTaken:
		return http.StatusConflict
	case ErrCodeInvalidInput, ErrCodeInvalidToken:
		return http.StatusBadRequest
	case ErrCodeInvalidPassword, ErrCodeWrongCredentialSource, ErrCodeNotVerified, ErrCodeUnauthorized, ErrCodeOAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeTransientStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
