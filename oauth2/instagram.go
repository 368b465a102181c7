package oauth2

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"

	ca "github.com/panyam/creatorauth"
)

const (
	instagramAuthURL  = "https://www.instagram.com/oauth/authorize"
	instagramTokenURL = "https://api.instagram.com/oauth/access_token"
	instagramGraphURL = "https://graph.instagram.com/v21.0"

	// Likes and comments are summed over this many recent posts
	instagramMediaLimit = 25
)

// InstagramOAuth2 links an Instagram professional account through the
// Instagram API with Instagram Login. Instagram issues no refresh tokens.
type InstagramOAuth2 struct {
	*BaseOAuth2

	// GraphURL overrides the Graph API base URL (useful for testing)
	GraphURL string
}

func NewInstagramOAuth2(cfg ca.ProviderConfig) *InstagramOAuth2 {
	endpoint := oauth2.Endpoint{
		AuthURL:   instagramAuthURL,
		TokenURL:  instagramTokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return &InstagramOAuth2{
		BaseOAuth2: NewBaseOAuth2(cfg, endpoint, "instagram_business_basic"),
		GraphURL:   instagramGraphURL,
	}
}

func (i *InstagramOAuth2) ID() ca.ProviderID { return ca.ProviderInstagram }

func (i *InstagramOAuth2) AuthCodeURL(state string) string {
	return i.oauthConfig.AuthCodeURL(state)
}

type instagramUser struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FollowersCount int64  `json:"followers_count"`
	MediaCount     int64  `json:"media_count"`
}

type instagramMedia struct {
	Data []struct {
		ID            string `json:"id"`
		LikeCount     int64  `json:"like_count"`
		CommentsCount int64  `json:"comments_count"`
	} `json:"data"`
}

func (i *InstagramOAuth2) graphGet(ctx context.Context, path string, params url.Values, accessToken string, out any) error {
	params.Set("access_token", accessToken)
	return getJSON(ctx, i.getHTTPClient(), i.GraphURL+path+"?"+params.Encode(), nil, out)
}

func (i *InstagramOAuth2) me(ctx context.Context, accessToken string) (*instagramUser, error) {
	var user instagramUser
	err := i.graphGet(ctx, "/me", url.Values{"fields": {"id,username,followers_count,media_count"}}, accessToken, &user)
	if err != nil {
		return nil, fmt.Errorf("failed getting instagram user: %w", err)
	}
	return &user, nil
}

func (i *InstagramOAuth2) ExchangeAuthCode(ctx context.Context, code, state string) (*ca.ProviderGrant, error) {
	tok, err := i.exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	user, err := i.me(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	return &ca.ProviderGrant{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
		ExternalID:  user.ID,
	}, nil
}

func (i *InstagramOAuth2) FetchMetrics(ctx context.Context, accessToken, externalID string) (ca.RawMetrics, error) {
	user, err := i.me(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var media instagramMedia
	params := url.Values{
		"fields": {"id,like_count,comments_count"},
		"limit":  {fmt.Sprint(instagramMediaLimit)},
	}
	if err := i.graphGet(ctx, "/me/media", params, accessToken, &media); err != nil {
		return nil, fmt.Errorf("failed getting instagram media: %w", err)
	}

	raw := ca.RawMetrics{
		"followers_count": user.FollowersCount,
		"media_count":     user.MediaCount,
		"like_count":      0,
		"comments_count":  0,
	}
	for _, m := range media.Data {
		raw["like_count"] += m.LikeCount
		raw["comments_count"] += m.CommentsCount
	}
	return raw, nil
}

func (i *InstagramOAuth2) RefreshAccessToken(ctx context.Context, refreshToken string) (*ca.RefreshedToken, error) {
	return nil, ca.ErrRefreshUnsupported
}

func (i *InstagramOAuth2) NormalizeMetrics(raw ca.RawMetrics) ca.Metrics {
	return ca.Metrics{
		Followers:   ca.Supported(raw["followers_count"]),
		Likes:       ca.Supported(raw["like_count"]),
		Comments:    ca.Supported(raw["comments_count"]),
		Shares:      ca.Unsupported,
		Impressions: ca.Unsupported,
	}
}
