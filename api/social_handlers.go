package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	ca "github.com/panyam/creatorauth"
)

func (s *Server) providerFromPath(r *http.Request) (ca.Provider, error) {
	id := ca.ProviderID(mux.Vars(r)["provider"])
	p, ok := s.Providers.Get(id)
	if !ok {
		return nil, unknownProvider(string(id))
	}
	return p, nil
}

// handleConnect starts linking a provider to the logged in user.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	p, err := s.providerFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Session.Put(r.Context(), sessionKeyLinkingUser, ca.UserIDFromContext(r.Context()))
	s.beginOAuth(w, r, p.AuthCodeURL)
}

func (s *Server) handleConnectCallback(w http.ResponseWriter, r *http.Request) {
	p, err := s.providerFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page := "/dashboard/connected-accounts"

	userID := s.Session.PopString(r.Context(), sessionKeyLinkingUser)
	code, state, err := s.checkOAuthState(r)
	if err != nil {
		s.callbackError(w, r, page, err)
		return
	}
	if userID == "" {
		s.callbackError(w, r, page, ca.NewError(ca.KindUnauthorized, ca.ErrCodeMissingLinkingState, "no account is being linked"))
		return
	}

	grant, err := p.ExchangeAuthCode(r.Context(), code, state)
	if err != nil {
		s.callbackError(w, r, page, providerFailure(err))
		return
	}
	acct, err := s.Vault.Link(r.Context(), userID, p.ID(), grant.LinkRequest())
	if err != nil {
		s.callbackError(w, r, page, err)
		return
	}

	if s.FrontendURL == "" {
		writeJSON(w, http.StatusOK, ca.ProfileOf(acct))
		return
	}
	http.Redirect(w, r, s.frontend(page)+"?success="+string(p.ID()), http.StatusFound)
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	p, err := s.providerFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.Vault.Unlink(r.Context(), ca.UserIDFromContext(r.Context()), p.ID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ca.ProfileOf(acct))
}

type analyticsResponse struct {
	Results map[ca.ProviderID]ca.ProviderResult `json:"results"`
}

// handleAnalytics fetches metrics for ?providers=a,b or, when absent, for
// every provider the user has linked.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := ca.UserIDFromContext(r.Context())

	var requested []ca.ProviderID
	for _, part := range strings.Split(r.URL.Query().Get("providers"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			requested = append(requested, ca.ProviderID(strings.ToLower(part)))
		}
	}
	if len(requested) == 0 {
		profile, err := s.Machine.GetProfile(r.Context(), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		for _, lp := range profile.LinkedProviders {
			requested = append(requested, lp.Provider)
		}
	}

	results := s.Aggregator.Aggregate(r.Context(), userID, requested)
	writeJSON(w, http.StatusOK, analyticsResponse{Results: results})
}
