package oauth2

import (
	"context"
	"errors"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	ca "github.com/panyam/creatorauth"
)

// YouTubeOAuth2 links a creator's YouTube channel. It doubles as a login
// provider since the grant includes the Google profile scopes.
type YouTubeOAuth2 struct {
	*BaseOAuth2

	// APIEndpoint overrides the Google API base URL for both the YouTube
	// Data API and userinfo (useful for testing)
	APIEndpoint string
}

func NewYouTubeOAuth2(cfg ca.ProviderConfig) *YouTubeOAuth2 {
	scopes := append([]string{youtube.YoutubeReadonlyScope}, googleProfileScopes...)
	return &YouTubeOAuth2{
		BaseOAuth2: NewBaseOAuth2(cfg, google.Endpoint, scopes...),
	}
}

func (y *YouTubeOAuth2) ID() ca.ProviderID { return ca.ProviderYouTube }
func (y *YouTubeOAuth2) Name() string      { return string(ca.ProviderYouTube) }

func (y *YouTubeOAuth2) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(y.bearerClient(ctx, accessToken))}
	if y.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(y.APIEndpoint))
	}
	return youtube.NewService(ctx, opts...)
}

// channel returns the authenticated user's channel, or the one with id
func (y *YouTubeOAuth2) channel(ctx context.Context, accessToken, id string, parts ...string) (*youtube.Channel, error) {
	svc, err := y.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	call := svc.Channels.List(parts)
	if id != "" {
		call = call.Id(id)
	} else {
		call = call.Mine(true)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, googleAPIError("failed listing channels", err)
	}
	if len(resp.Items) == 0 {
		return nil, errors.New("no YouTube channel associated with this account")
	}
	return resp.Items[0], nil
}

func (y *YouTubeOAuth2) ExchangeAuthCode(ctx context.Context, code, state string) (*ca.ProviderGrant, error) {
	tok, err := y.exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	ch, err := y.channel(ctx, tok.AccessToken, "", "id")
	if err != nil {
		return nil, err
	}
	profile, err := fetchGoogleProfile(ctx, y.bearerClient(ctx, tok.AccessToken), y.APIEndpoint)
	if err != nil {
		return nil, err
	}
	profile.Provider = y.Name()
	return &ca.ProviderGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		ExternalID:   ch.Id,
		Profile:      profile,
	}, nil
}

// Exchange logs the user in and links the channel in one step.
func (y *YouTubeOAuth2) Exchange(ctx context.Context, code, state string) (*ca.OAuthProfile, error) {
	grant, err := y.ExchangeAuthCode(ctx, code, state)
	if err != nil {
		return nil, err
	}
	profile := grant.Profile
	profile.Link = &ca.ProviderLink{Provider: ca.ProviderYouTube, LinkRequest: grant.LinkRequest()}
	return profile, nil
}

func (y *YouTubeOAuth2) FetchMetrics(ctx context.Context, accessToken, externalID string) (ca.RawMetrics, error) {
	ch, err := y.channel(ctx, accessToken, externalID, "statistics")
	if err != nil {
		return nil, err
	}
	if ch.Statistics == nil {
		return nil, errors.New("channel statistics unavailable")
	}
	s := ch.Statistics
	return ca.RawMetrics{
		"viewCount":       int64(s.ViewCount),
		"commentCount":    int64(s.CommentCount),
		"subscriberCount": int64(s.SubscriberCount),
		"videoCount":      int64(s.VideoCount),
	}, nil
}

// NormalizeMetrics: the channel statistics carry no like or share totals.
func (y *YouTubeOAuth2) NormalizeMetrics(raw ca.RawMetrics) ca.Metrics {
	return ca.Metrics{
		Impressions: ca.Supported(raw["viewCount"]),
		Comments:    ca.Supported(raw["commentCount"]),
		Followers:   ca.Supported(raw["subscriberCount"]),
		Likes:       ca.Unsupported,
		Shares:      ca.Unsupported,
	}
}
