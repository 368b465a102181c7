package creatorauth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session token lifetime bounds
const (
	MinSessionTTL     = 1 * time.Hour
	MaxSessionTTL     = 24 * time.Hour
	DefaultSessionTTL = MaxSessionTTL
)

// SessionToken is a signed, stateless session credential.
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionIssuer signs and verifies HS256 session tokens.
type SessionIssuer struct {
	SecretKey []byte
	Issuer    string
	TTL       time.Duration
	Now       func() time.Time
}

func NewSessionIssuer(cfg *Config) *SessionIssuer {
	return &SessionIssuer{
		SecretKey: []byte(cfg.JWTSecretKey),
		Issuer:    cfg.JWTIssuer,
		TTL:       cfg.SessionTTL,
	}
}

func (s *SessionIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ClampSessionTTL forces ttl into [MinSessionTTL, MaxSessionTTL], zero meaning the default.
func ClampSessionTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return DefaultSessionTTL
	case ttl < MinSessionTTL:
		return MinSessionTTL
	case ttl > MaxSessionTTL:
		return MaxSessionTTL
	}
	return ttl
}

// Issue creates a session token for userID.
func (s *SessionIssuer) Issue(userID string) (SessionToken, error) {
	now := s.now()
	expiresAt := now.Add(ClampSessionTTL(s.TTL))

	claims := jwt.MapClaims{
		"sub":  userID,
		"type": "session",
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	}
	if s.Issuer != "" {
		claims["iss"] = s.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.SecretKey)
	if err != nil {
		return SessionToken{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return SessionToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify validates tokenString and returns the user id it was issued for.
func (s *SessionIssuer) Verify(tokenString string) (string, error) {
	invalid := func(cause error) error {
		return NewError(KindUnauthorized, ErrCodeInvalidSession, "invalid or expired session").Wrap(cause)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.SecretKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", invalid(err)
	}
	if !token.Valid {
		return "", invalid(fmt.Errorf("invalid token"))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", invalid(fmt.Errorf("invalid claims"))
	}
	if tokenType, ok := claims["type"].(string); !ok || tokenType != "session" {
		return "", invalid(fmt.Errorf("invalid token type"))
	}
	if s.Issuer != "" {
		if iss, ok := claims["iss"].(string); !ok || iss != s.Issuer {
			return "", invalid(fmt.Errorf("invalid issuer"))
		}
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", invalid(fmt.Errorf("missing subject"))
	}
	return userID, nil
}

type userIDKey struct{}

// ContextWithUserID returns a context carrying the authenticated user id.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}
