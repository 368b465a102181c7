package creatorauth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RawMetrics are the provider specific counters a provider API returned,
// keyed by the provider's own field names.
type RawMetrics map[string]int64

// ProviderGrant is the result of completing a provider's OAuth flow.
type ProviderGrant struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	ExternalID   string
	// Profile is set when the provider also reported the user's identity.
	Profile *OAuthProfile
}

// LinkRequest converts the grant into the request the vault stores.
func (g *ProviderGrant) LinkRequest() LinkRequest {
	req := LinkRequest{
		ExternalID:   g.ExternalID,
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
	}
	if !g.Expiry.IsZero() {
		expiry := g.Expiry
		req.ExpiresAt = &expiry
	}
	return req
}

// RefreshedToken is a new access token obtained with a refresh token.
// RefreshToken is empty unless the provider rotated it.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Provider is an analytics provider a user can link.
// FetchMetrics must wrap ErrProviderAuth when the access token is rejected.
type Provider interface {
	ID() ProviderID
	AuthCodeURL(state string) string
	ExchangeAuthCode(ctx context.Context, code, state string) (*ProviderGrant, error)
	FetchMetrics(ctx context.Context, accessToken, externalID string) (RawMetrics, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*RefreshedToken, error)
	NormalizeMetrics(raw RawMetrics) Metrics
}

// IdentityProvider is an OAuth provider users can log in with.
type IdentityProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code, state string) (*OAuthProfile, error)
}

// ProviderRegistry holds the configured providers.
type ProviderRegistry struct {
	mu         sync.RWMutex
	providers  map[ProviderID]Provider
	identities map[string]IdentityProvider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers:  map[ProviderID]Provider{},
		identities: map[string]IdentityProvider{},
	}
}

func (r *ProviderRegistry) Register(p Provider) *ProviderRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	return r
}

func (r *ProviderRegistry) RegisterIdentity(p IdentityProvider) *ProviderRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[p.Name()] = p
	return r
}

func (r *ProviderRegistry) Get(id ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

func (r *ProviderRegistry) Identity(name string) (IdentityProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.identities[name]
	return p, ok
}

// IDs lists registered analytics providers in sorted order.
func (r *ProviderRegistry) IDs() []ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderID, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func unknownProvider(id ProviderID) *Error {
	return ValidationError(ErrCodeUnknownProvider, "provider", "unknown provider: "+string(id))
}
