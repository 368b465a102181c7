package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	ca "github.com/panyam/creatorauth"
)

var googleProfileScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// GoogleOAuth2 is the "Sign in with Google" identity provider.
type GoogleOAuth2 struct {
	*BaseOAuth2

	// APIEndpoint overrides the Google API base URL (useful for testing)
	APIEndpoint string
}

func NewGoogleOAuth2(cfg ca.ProviderConfig) *GoogleOAuth2 {
	return &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(cfg, google.Endpoint, googleProfileScopes...),
	}
}

func (g *GoogleOAuth2) Name() string { return "google" }

// AuthCodeURL needs no refresh token for plain logins
func (g *GoogleOAuth2) AuthCodeURL(state string) string {
	return g.oauthConfig.AuthCodeURL(state)
}

func (g *GoogleOAuth2) Exchange(ctx context.Context, code, state string) (*ca.OAuthProfile, error) {
	tok, err := g.exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	profile, err := fetchGoogleProfile(ctx, g.bearerClient(ctx, tok.AccessToken), g.APIEndpoint)
	if err != nil {
		return nil, err
	}
	profile.Provider = g.Name()
	return profile, nil
}

// fetchGoogleProfile reads the signed-in user from the oauth2/v2 userinfo API
func fetchGoogleProfile(ctx context.Context, client *http.Client, endpoint string) (*ca.OAuthProfile, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, googleAPIError("failed getting user info", err)
	}
	profile := &ca.OAuthProfile{
		Subject: info.Id,
		Email:   info.Email,
		Name:    info.Name,
	}
	if info.VerifiedEmail != nil {
		profile.EmailVerified = *info.VerifiedEmail
	}
	return profile, nil
}

// googleAPIError marks rejected credentials with ca.ErrProviderAuth
func googleAPIError(msg string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w: %v", msg, ca.ErrProviderAuth, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
