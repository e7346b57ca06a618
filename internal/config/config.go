// Package config loads deeptrace settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendDatastore = "datastore"
	BackendGorm      = "gorm"
	BackendMemory    = "memory"
	BackendFS        = "fs"
)

// Config holds the application configuration
type Config struct {
	Port     int `validate:"min=1,max=65535"`
	GRPCPort int `validate:"min=0,max=65535"` // 0 disables the gRPC listener

	Env       string `validate:"oneof=development production test"`
	ClientURL string `validate:"required,url"`
	BaseURL   string `validate:"required,url"`

	SessionSecret string        `validate:"required,min=32"`
	SessionTTL    time.Duration `validate:"gt=0s"`

	GoogleClientID     string
	GoogleClientSecret string `validate:"required_with=GoogleClientID"`
	GoogleCallbackURL  string `validate:"omitempty,url"`

	StoreBackend       string `validate:"oneof=datastore gorm memory fs"`
	DatastoreProjectID string `validate:"required_if=StoreBackend datastore"`
	DatastoreNamespace string
	DatabaseDSN        string `validate:"required_if=StoreBackend gorm"`
	DataDir            string `validate:"required_if=StoreBackend fs"`

	LogLevel         string        `validate:"oneof=debug info warn error"`
	LoginMaxAttempts int           `validate:"min=1"`
	LoginWindow      time.Duration `validate:"gt=0s"`

	// TrustProxy honors X-Forwarded-For for client addresses.
	TrustProxy bool
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// A missing .env is fine, real env vars may be set instead.
	_ = godotenv.Load()

	env := getEnv("APP_ENV", getEnv("NODE_ENV", "development"))
	if getEnv("RENDER", "") != "" {
		env = "production"
	}

	cfg := &Config{
		Env:                strings.ToLower(env),
		ClientURL:          strings.TrimRight(getEnv("CLIENT_URL", "http://localhost:3000"), "/"),
		BaseURL:            strings.TrimRight(getEnv("BASE_URL", "http://localhost:5000"), "/"),
		SessionSecret:      getEnv("SESSION_SECRET", ""),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleCallbackURL:  getEnv("GOOGLE_CALLBACK_URL", ""),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		DatastoreProjectID: getEnv("DATASTORE_PROJECT_ID", ""),
		DatastoreNamespace: getEnv("DATASTORE_NAMESPACE", ""),
		DatabaseDSN:        getEnv("DATABASE_DSN", ""),
		DataDir:            getEnv("DATA_DIR", ""),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
	if cfg.GoogleCallbackURL == "" {
		cfg.GoogleCallbackURL = cfg.BaseURL + "/auth/google/callback"
	}

	var err error
	if cfg.Port, err = getInt("PORT", 5000); err != nil {
		return nil, err
	}
	if cfg.GRPCPort, err = getInt("GRPC_PORT", 0); err != nil {
		return nil, err
	}
	if cfg.LoginMaxAttempts, err = getInt("LOGIN_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LoginWindow, err = getDuration("LOGIN_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TrustProxy, err = getBool("TRUST_PROXY", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and reports every failing variable.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv retrieves an environment variable, treating empty as unset
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return d, nil
}
