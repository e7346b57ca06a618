// Package grpc carries deeptrace sessions into gRPC services. Clients send
// the session id in request metadata; the interceptors resolve it and place
// the signed-in user in the handler's context.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	dt "github.com/deeptrace/deeptrace"
)

// DefaultMetadataKeySessionID is the default gRPC metadata key for the session id.
const DefaultMetadataKeySessionID = "x-session-id"

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeySessionID is the gRPC metadata key for the session id.
	// Defaults to "x-session-id".
	MetadataKeySessionID string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{MetadataKeySessionID: DefaultMetadataKeySessionID}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeySessionID == "" {
		c.MetadataKeySessionID = DefaultMetadataKeySessionID
	}
}

// SessionIDFromContext extracts the session id from incoming metadata.
// Returns empty string if none was sent.
func SessionIDFromContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeySessionID); len(values) > 0 {
		return values[0]
	}
	return ""
}

// SessionIDToOutgoingContext adds the session id to outgoing gRPC metadata.
func SessionIDToOutgoingContext(ctx context.Context, sessionID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySessionID, sessionID)
}

type userKey struct{}

// ContextWithUser returns a context carrying the authenticated user.
func ContextWithUser(ctx context.Context, user *dt.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user placed by the interceptors, or nil.
func UserFromContext(ctx context.Context) *dt.User {
	user, _ := ctx.Value(userKey{}).(*dt.User)
	return user
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserFromContext(ctx) != nil
}
