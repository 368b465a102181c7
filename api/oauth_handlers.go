package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	ca "github.com/panyam/creatorauth"
	"github.com/panyam/creatorauth/oauth2"
)

// beginOAuth stores a fresh state in the session and redirects to authURL(state).
func (s *Server) beginOAuth(w http.ResponseWriter, r *http.Request, authURL func(state string) string) {
	state, err := oauth2.GenerateState()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Session.Put(r.Context(), sessionKeyOAuthState, state)
	http.Redirect(w, r, authURL(state), http.StatusFound)
}

// checkOAuthState consumes the session state and compares it with the
// callback's. It also surfaces errors the provider reported.
func (s *Server) checkOAuthState(r *http.Request) (code, state string, err error) {
	expected := s.Session.PopString(r.Context(), sessionKeyOAuthState)
	q := r.URL.Query()
	state = q.Get("state")
	if expected == "" || state != expected {
		return "", "", ca.NewError(ca.KindUnauthorized, ca.ErrCodeInvalidOAuthState, "invalid oauth state")
	}
	if providerErr := q.Get("error"); providerErr != "" {
		return "", "", ca.NewError(ca.KindUpstream, ca.ErrCodeUpstream, "provider denied access: "+providerErr)
	}
	code = q.Get("code")
	if code == "" {
		return "", "", ca.ValidationError(ca.ErrCodeInvalidRequest, "code", "missing authorization code")
	}
	return code, state, nil
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	idp, ok := s.Providers.Identity(name)
	if !ok {
		s.writeError(w, r, unknownProvider(name))
		return
	}
	s.beginOAuth(w, r, idp.AuthCodeURL)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	idp, ok := s.Providers.Identity(name)
	if !ok {
		s.writeError(w, r, unknownProvider(name))
		return
	}
	code, state, err := s.checkOAuthState(r)
	if err != nil {
		s.callbackError(w, r, "/login", err)
		return
	}

	profile, err := idp.Exchange(r.Context(), code, state)
	if err != nil {
		s.callbackError(w, r, "/login", providerFailure(err))
		return
	}
	res, err := s.Machine.OAuthCallback(r.Context(), profile)
	if err != nil {
		s.callbackError(w, r, "/login", err)
		return
	}

	if s.FrontendURL == "" {
		writeJSON(w, http.StatusOK, res)
		return
	}
	// session token travels in the fragment, never the query
	frag := url.Values{
		"token":      {res.Session.Token},
		"next_step":  {string(res.NextStep)},
		"expires_at": {res.Session.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")},
	}
	http.Redirect(w, r, s.frontend("/oauth/callback")+"#"+frag.Encode(), http.StatusFound)
}

// callbackError redirects browser flows back to the frontend with the error code.
func (s *Server) callbackError(w http.ResponseWriter, r *http.Request, page string, err error) {
	if s.FrontendURL == "" {
		s.writeError(w, r, err)
		return
	}
	e := ca.AsError(err)
	s.logger().Warn("oauth callback failed", "path", r.URL.Path, "kind", e.Kind, "code", e.Code, "error", err)
	q := url.Values{"error": {e.Code}}
	http.Redirect(w, r, s.frontend(page)+"?"+q.Encode(), http.StatusFound)
}

func (s *Server) frontend(path string) string {
	return strings.TrimSuffix(s.FrontendURL, "/") + path
}

// providerFailure classifies a failed code exchange
func providerFailure(err error) error {
	if ca.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ca.UpstreamError(ca.ErrCodeProviderTimeout, err)
	}
	return ca.UpstreamError(ca.ErrCodeUpstream, err)
}

func unknownProvider(name string) error {
	return ca.ValidationError(ca.ErrCodeUnknownProvider, "provider", "unknown provider: "+name)
}
