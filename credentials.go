package deeptrace

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	MinPasswordLength = 8

	// bcrypt ignores everything past 72 bytes
	MaxPasswordLength = 72

	MinUsernameLength = 3
	MaxUsernameLength = 30
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// RegisterRequest is the payload of POST /register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

// LoginRequest is the payload of POST /login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// PasswordResetRequest is the payload of POST /requestPasswordReset.
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the payload of POST /resetPassword.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,maxbytes=72"`
}

// ProfileUpdate lists the mutable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Username       *string `json:"username,omitempty" validate:"omitnil,username"`
	ProfilePicture *string `json:"profilePicture,omitempty" validate:"omitempty,url,max=2048"`
}

// AddMediaRequest is the payload of POST /addMediaUrl.
type AddMediaRequest struct {
	URL   string `json:"url" validate:"required,url,max=2048"`
	Type  string `json:"type,omitempty" validate:"max=32"`
	Title string `json:"title,omitempty" validate:"max=200"`
}

// DeleteMediaRequest is the payload of DELETE /deleteMedia.
type DeleteMediaRequest struct {
	ID string `json:"id" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return ValidUsername(fl.Field().String())
	})
	// Byte length, not rune count; bcrypt rejects inputs over 72 bytes.
	v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= limit
	})
	return v
}

// Validate checks a request struct and converts the first failure into an
// invalid_input AuthError naming the field.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalidInput("", err.Error())
	}
	fe := verrs[0]
	return invalidInput(fe.Field(), describeFieldError(fe))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "invalid email format"
	case "url":
		return fe.Field() + " must be a valid URL"
	case "username":
		return "username must be 3-30 characters of letters, numbers, '.', '_' or '-'"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "maxbytes":
		return fe.Field() + " must be at most " + fe.Param() + " bytes"
	}
	return fe.Field() + " is invalid"
}

// ValidUsername reports whether a username is acceptable for registration or
// a profile update.
func ValidUsername(username string) bool {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return false
	}
	return usernamePattern.MatchString(username)
}

// NormalizeEmail trims and lower-cases an email. Every store lookup and
// write goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UsernameKey is the case-insensitive uniqueness key for a username.
func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// DeriveUsername builds a username candidate from an OAuth display name:
// whitespace runs become "_", everything is lower-cased and characters
// outside the username alphabet are dropped. The email local part is used
// when the display name yields nothing usable.
func DeriveUsername(displayName, email string) string {
	candidate := sanitizeUsername(strings.Join(strings.Fields(displayName), "_"))
	if len(candidate) < MinUsernameLength {
		local, _, _ := strings.Cut(email, "@")
		candidate = sanitizeUsername(local)
	}
	for len(candidate) < MinUsernameLength {
		candidate += "_"
	}
	if len(candidate) > MaxUsernameLength-4 {
		candidate = candidate[:MaxUsernameLength-4]
	}
	return candidate
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// usernameWithSuffix returns base for attempt 1 and base+N afterwards.
func usernameWithSuffix(base string, attempt int) string {
	if attempt <= 1 {
		return base
	}
	return base + strconv.Itoa(attempt)
}
