package creatorauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// LinkRequest is the credential to store for a provider.
type LinkRequest struct {
	ExternalID   string     `json:"external_id"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (r *LinkRequest) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return ValidationError(ErrCodeInvalidRequest, "external_id", "external id is required")
	}
	if strings.TrimSpace(r.AccessToken) == "" {
		return ValidationError(ErrCodeInvalidRequest, "access_token", "access token is required")
	}
	return nil
}

func (r *LinkRequest) toSocialLink(now time.Time) SocialLink {
	return SocialLink{
		ExternalID:   r.ExternalID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
		LinkedAt:     now,
	}
}

// TokenVault stores per-user provider tokens and keeps them usable.
// Refreshes for one (user, provider) pair are serialized through Locker so
// concurrent callers that all see a rejected token trigger a single refresh.
type TokenVault struct {
	Store     AccountStore
	Providers *ProviderRegistry
	Locker    Locker
	Now       func() time.Time
	Logger    *slog.Logger
}

func NewTokenVault(store AccountStore, providers *ProviderRegistry, locker Locker) *TokenVault {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &TokenVault{Store: store, Providers: providers, Locker: locker, Logger: slog.Default()}
}

func (v *TokenVault) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *TokenVault) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}

func notLinked(provider ProviderID) *Error {
	return NotFoundError(ErrCodeProviderNotLinked, string(provider)+" is not linked")
}

func tokenExpired(provider ProviderID, cause error) *Error {
	e := NewError(KindExpired, ErrCodeTokenExpired, string(provider)+" access has expired, please reconnect")
	if cause != nil {
		return e.Wrap(cause)
	}
	return e
}

// Link stores (or replaces) the credential for provider.
func (v *TokenVault) Link(ctx context.Context, userID string, provider ProviderID, req LinkRequest) (*Account, error) {
	if !provider.Valid() {
		return nil, unknownProvider(provider)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	link := req.toSocialLink(v.now())
	acct, err := mutateAccount(ctx, v.Store, userID, func(a *Account) error {
		a.SetLink(provider, link)
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.logger().Info("provider linked", "account_id", userID, "provider", provider)
	return acct, nil
}

// Unlink removes the credential for provider entirely.
func (v *TokenVault) Unlink(ctx context.Context, userID string, provider ProviderID) (*Account, error) {
	if !provider.Valid() {
		return nil, unknownProvider(provider)
	}
	acct, err := mutateAccount(ctx, v.Store, userID, func(a *Account) error {
		if _, ok := a.LinkedProviders[provider]; !ok {
			return notLinked(provider)
		}
		delete(a.LinkedProviders, provider)
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.logger().Info("provider unlinked", "account_id", userID, "provider", provider)
	return acct, nil
}

func (v *TokenVault) currentLink(ctx context.Context, userID string, provider ProviderID) (SocialLink, error) {
	acct, err := v.Store.GetAccountByID(ctx, userID)
	if err != nil {
		return SocialLink{}, err
	}
	link, ok := acct.Link(provider)
	if !ok {
		return SocialLink{}, notLinked(provider)
	}
	return link, nil
}

// GetValidAccessToken returns the stored access token, refreshing it first
// when its known expiry has passed.
func (v *TokenVault) GetValidAccessToken(ctx context.Context, userID string, provider ProviderID) (string, error) {
	link, err := v.currentLink(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if link.ExpiresAt == nil || v.now().Before(*link.ExpiresAt) {
		return link.AccessToken, nil
	}
	if link.RefreshToken == "" {
		return "", tokenExpired(provider, nil)
	}
	refreshed, err := v.refresh(ctx, userID, provider, link.AccessToken)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// WithValidAccessToken runs call with the stored credential. If the provider
// rejects the token (ErrProviderAuth) it refreshes once and retries once.
// It never loops: a second rejection, a missing refresh token or a failed
// refresh all end in a token_expired error.
func (v *TokenVault) WithValidAccessToken(ctx context.Context, userID string, provider ProviderID, call func(ctx context.Context, link SocialLink) error) error {
	link, err := v.currentLink(ctx, userID, provider)
	if err != nil {
		return err
	}

	err = call(ctx, link)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrProviderAuth) {
		return providerError(err)
	}
	if link.RefreshToken == "" {
		return tokenExpired(provider, err)
	}

	refreshed, err := v.refresh(ctx, userID, provider, link.AccessToken)
	if err != nil {
		return err
	}

	err = call(ctx, refreshed)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrProviderAuth):
		return tokenExpired(provider, err)
	}
	return providerError(err)
}

// providerError classifies an error returned by a provider call.
func providerError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return UpstreamError(ErrCodeUpstream, err)
}

// refresh swaps staleToken for a new access token under the pair lock. If
// another caller already replaced staleToken the stored link is returned.
func (v *TokenVault) refresh(ctx context.Context, userID string, provider ProviderID, staleToken string) (SocialLink, error) {
	unlock, err := v.Locker.Lock(ctx, RefreshLockKey(userID, provider))
	if err != nil {
		return SocialLink{}, InternalError(err)
	}
	defer unlock()

	link, err := v.currentLink(ctx, userID, provider)
	if err != nil {
		return SocialLink{}, err
	}
	if link.AccessToken != staleToken {
		return link, nil
	}
	if link.RefreshToken == "" {
		return SocialLink{}, tokenExpired(provider, nil)
	}

	p, ok := v.Providers.Get(provider)
	if !ok {
		return SocialLink{}, unknownProvider(provider)
	}
	tok, err := p.RefreshAccessToken(ctx, link.RefreshToken)
	if err != nil {
		v.logger().Warn("token refresh failed", "account_id", userID, "provider", provider, "error", err)
		return SocialLink{}, tokenExpired(provider, err)
	}

	link.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		link.RefreshToken = tok.RefreshToken
	}
	link.ExpiresAt = nil
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		link.ExpiresAt = &expiry
	}

	_, err = mutateAccount(ctx, v.Store, userID, func(a *Account) error {
		if _, ok := a.LinkedProviders[provider]; !ok {
			return notLinked(provider)
		}
		a.SetLink(provider, link)
		return nil
	})
	if err != nil {
		return SocialLink{}, err
	}
	v.logger().Info("token refreshed", "account_id", userID, "provider", provider)
	return link, nil
}
