// Package grpc authenticates gRPC calls with creatorauth session tokens.
//
// Clients send the same bearer token the HTTP API issues in the
// "authorization" metadata key. The interceptors verify it and store the
// account id in the context, where ca.UserIDFromContext finds it.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ca "github.com/panyam/creatorauth"
)

const (
	// DefaultMetadataKeyAuthorization carries "Bearer <session token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyUserID is set on outgoing calls a trusted gateway
	// makes on behalf of an already authenticated user.
	DefaultMetadataKeyUserID = "x-user-id"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeyUserID defaults to "x-user-id".
	MetadataKeyUserID string

	// TrustUserIDMetadata accepts MetadataKeyUserID without a token.
	// Only enable it behind a gateway that strips the key from client traffic.
	TrustUserIDMetadata bool
}

func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyUserID:        DefaultMetadataKeyUserID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
}

// UserIDFromContext returns the account id the interceptor authenticated, or "".
func UserIDFromContext(ctx context.Context) string {
	return ca.UserIDFromContext(ctx)
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// TokenFromIncomingContext returns the bearer token sent by the client, or "".
func TokenFromIncomingContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyAuthorization)
	if len(values) == 0 {
		return ""
	}
	parts := strings.SplitN(values[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// forwardedUserID reads the gateway supplied user id when trusted.
func forwardedUserID(ctx context.Context, config *Config) string {
	if !config.TrustUserIDMetadata {
		return ""
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyUserID); len(values) > 0 {
		return values[0]
	}
	return ""
}

// TokenToOutgoingContext attaches a session token to outgoing call metadata.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// UserIDToOutgoingContext forwards an authenticated user id to a backend
// that trusts this caller.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyUserID, userID)
}
