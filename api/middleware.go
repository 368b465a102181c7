package api

import (
	"net/http"
	"strings"

	ca "github.com/panyam/creatorauth"
)

// TokenVerifier checks a session token and returns the account id it was issued for.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// BearerAuth validates "Authorization: Bearer <session>" headers.
type BearerAuth struct {
	Verifier TokenVerifier

	// AuthHeader defaults to "Authorization"
	AuthHeader string

	OnAuthError func(w http.ResponseWriter, r *http.Request, err error)
}

// ValidateToken rejects requests without a valid session and stores the
// account id in the request context for ca.UserIDFromContext.
func (m *BearerAuth) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := m.validateRequest(r)
		if err != nil {
			m.handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ca.ContextWithUserID(r.Context(), userID)))
	})
}

func (m *BearerAuth) validateRequest(r *http.Request) (string, error) {
	header := m.AuthHeader
	if header == "" {
		header = "Authorization"
	}
	authHeader := r.Header.Get(header)
	if authHeader == "" {
		return "", invalidSession("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", invalidSession("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", invalidSession("empty token")
	}
	return m.Verifier.Verify(token)
}

func (m *BearerAuth) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, err)
		return
	}
	http.Error(w, err.Error(), http.StatusUnauthorized)
}

func invalidSession(msg string) error {
	return ca.NewError(ca.KindUnauthorized, ca.ErrCodeInvalidSession, msg)
}
