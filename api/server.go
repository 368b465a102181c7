// Package api exposes the creatorauth operations over HTTP.
//
// # Routes
//
//	POST   /api/auth/signup
//	POST   /api/auth/validate-otp
//	POST   /api/auth/set-username
//	POST   /api/auth/set-password
//	POST   /api/auth/login
//	POST   /api/auth/check-status
//	POST   /api/auth/forgot-password
//	POST   /api/auth/reset-password
//	GET    /api/auth/oauth/{name}
//	GET    /api/auth/oauth/{name}/callback
//	GET    /api/user/profile              (bearer)
//	PUT    /api/user/profile              (bearer)
//	GET    /api/user/all?page=&limit=     (bearer, admin)
//	GET    /api/social/analytics          (bearer)
//	GET    /api/social/{provider}/connect (bearer)
//	GET    /api/social/{provider}/callback
//	DELETE /api/social/{provider}         (bearer)
//
// OAuth state and the user being linked are kept in an scs session between
// the redirect and the callback.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"

	ca "github.com/panyam/creatorauth"
)

const (
	sessionKeyOAuthState  = "oauthState"
	sessionKeyLinkingUser = "linkingUserID"
)

type Server struct {
	Machine    *ca.IdentityMachine
	Vault      *ca.TokenVault
	Aggregator *ca.Aggregator
	Providers  *ca.ProviderRegistry
	Session    *scs.SessionManager

	// FrontendURL receives browser redirects after OAuth callbacks. When
	// empty the callbacks answer with JSON instead.
	FrontendURL string

	Logger *slog.Logger
}

func NewServer(machine *ca.IdentityMachine, vault *ca.TokenVault, aggregator *ca.Aggregator, providers *ca.ProviderRegistry) *Server {
	session := scs.New()
	session.Lifetime = 15 * time.Minute
	session.Cookie.Name = "creatorauth_oauth"
	session.Cookie.HttpOnly = true
	session.Cookie.SameSite = http.SameSiteLaxMode
	return &Server{
		Machine:    machine,
		Vault:      vault,
		Aggregator: aggregator,
		Providers:  providers,
		Session:    session,
		Logger:     slog.Default(),
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Handler returns the router wrapped with session loading.
func (s *Server) Handler() http.Handler {
	return s.Session.LoadAndSave(s.Router())
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	auth := &BearerAuth{Verifier: s.Machine.Sessions, OnAuthError: s.writeError}

	a := r.PathPrefix("/api/auth").Subrouter()
	a.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	a.HandleFunc("/validate-otp", s.handleValidateOTP).Methods(http.MethodPost)
	a.HandleFunc("/set-username", s.handleSetUsername).Methods(http.MethodPost)
	a.HandleFunc("/set-password", s.handleSetPassword).Methods(http.MethodPost)
	a.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	a.HandleFunc("/check-status", s.handleCheckStatus).Methods(http.MethodPost)
	a.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	a.HandleFunc("/reset-password", s.handleResetPassword).Methods(http.MethodPost)
	a.HandleFunc("/oauth/{name}", s.handleOAuthStart).Methods(http.MethodGet)
	a.HandleFunc("/oauth/{name}/callback", s.handleOAuthCallback).Methods(http.MethodGet)

	u := r.PathPrefix("/api/user").Subrouter()
	u.Use(auth.ValidateToken)
	u.HandleFunc("/profile", s.handleGetProfile).Methods(http.MethodGet)
	u.HandleFunc("/profile", s.handleUpdateProfile).Methods(http.MethodPut)
	u.HandleFunc("/all", s.handleListAccounts).Methods(http.MethodGet)

	social := r.PathPrefix("/api/social").Subrouter()
	social.Handle("/analytics", auth.ValidateToken(http.HandlerFunc(s.handleAnalytics))).Methods(http.MethodGet)
	social.Handle("/{provider}/connect", auth.ValidateToken(http.HandlerFunc(s.handleConnect))).Methods(http.MethodGet)
	social.HandleFunc("/{provider}/callback", s.handleConnectCallback).Methods(http.MethodGet)
	social.Handle("/{provider}", auth.ValidateToken(http.HandlerFunc(s.handleUnlink))).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, ca.NotFoundError("route_not_found", "no such route"))
	})
	return r
}
