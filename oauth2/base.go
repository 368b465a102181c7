package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	ca "github.com/panyam/creatorauth"
)

// BaseOAuth2 holds the client credentials and oauth2 config shared by every
// provider in this package.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// HTTPClient is used for token exchange and provider API calls.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
}

func NewBaseOAuth2(cfg ca.ProviderConfig, endpoint oauth2.Endpoint, scopes ...string) *BaseOAuth2 {
	return &BaseOAuth2{
		ClientId:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.RedirectURL,
		oauthConfig: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

// SetOAuthEndpoint overrides the authorization and token URLs (useful for testing)
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// OAuthConfig returns the underlying oauth2 configuration
func (b *BaseOAuth2) OAuthConfig() *oauth2.Config {
	return &b.oauthConfig
}

func (b *BaseOAuth2) getHTTPClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

// clientContext makes the oauth2 library use our HTTP client
func (b *BaseOAuth2) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.getHTTPClient())
}

// bearerClient returns an HTTP client that sends accessToken on every request
func (b *BaseOAuth2) bearerClient(ctx context.Context, accessToken string) *http.Client {
	return oauth2.NewClient(b.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// AuthCodeURL asks for offline access so the provider issues a refresh token.
func (b *BaseOAuth2) AuthCodeURL(state string) string {
	return b.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (b *BaseOAuth2) exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	tok, err := b.oauthConfig.Exchange(b.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("code exchange returned no access token")
	}
	return tok, nil
}

// RefreshAccessToken trades a refresh token for a new access token.
// A revoked or expired refresh token is reported as ca.ErrProviderAuth.
func (b *BaseOAuth2) RefreshAccessToken(ctx context.Context, refreshToken string) (*ca.RefreshedToken, error) {
	if refreshToken == "" {
		return nil, ca.ErrRefreshUnsupported
	}
	src := b.oauthConfig.TokenSource(b.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && (rerr.ErrorCode == "invalid_grant" || (rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized)) {
			return nil, fmt.Errorf("%w: %v", ca.ErrProviderAuth, err)
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	out := &ca.RefreshedToken{AccessToken: tok.AccessToken, Expiry: tok.Expiry}
	if tok.RefreshToken != refreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}
