package oauth2

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	ca "github.com/panyam/creatorauth"
)

const (
	twitterAuthURL  = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL = "https://api.twitter.com/2/oauth2/token"
	twitterAPIURL   = "https://api.twitter.com/2"
)

// TwitterOAuth2 links an X (Twitter) account using OAuth 2.0 with PKCE.
//
// The PKCE verifier is derived from the client secret and the state, so the
// callback can recompute it without keeping server side state. The state is
// already random and single use.
type TwitterOAuth2 struct {
	*BaseOAuth2

	// APIURL overrides the v2 API base URL (useful for testing)
	APIURL string
}

func NewTwitterOAuth2(cfg ca.ProviderConfig) *TwitterOAuth2 {
	endpoint := oauth2.Endpoint{
		AuthURL:   twitterAuthURL,
		TokenURL:  twitterTokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	return &TwitterOAuth2{
		BaseOAuth2: NewBaseOAuth2(cfg, endpoint, "tweet.read", "users.read", "offline.access"),
		APIURL:     twitterAPIURL,
	}
}

func (t *TwitterOAuth2) ID() ca.ProviderID { return ca.ProviderTwitter }

func (t *TwitterOAuth2) pkceVerifier(state string) string {
	sum := sha256.Sum256([]byte(t.ClientSecret + ":" + state))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (t *TwitterOAuth2) AuthCodeURL(state string) string {
	return t.oauthConfig.AuthCodeURL(state, oauth2.S256ChallengeOption(t.pkceVerifier(state)))
}

type twitterUser struct {
	Data struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		PublicMetrics struct {
			FollowersCount int64 `json:"followers_count"`
			FollowingCount int64 `json:"following_count"`
			TweetCount     int64 `json:"tweet_count"`
			ListedCount    int64 `json:"listed_count"`
			LikeCount      int64 `json:"like_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

func (t *TwitterOAuth2) me(ctx context.Context, accessToken string) (*twitterUser, error) {
	var user twitterUser
	header := http.Header{"Authorization": {"Bearer " + accessToken}}
	if err := getJSON(ctx, t.getHTTPClient(), t.APIURL+"/users/me?user.fields=public_metrics", header, &user); err != nil {
		return nil, fmt.Errorf("failed getting twitter user: %w", err)
	}
	if user.Data.ID == "" {
		return nil, errors.New("twitter returned no user")
	}
	return &user, nil
}

func (t *TwitterOAuth2) ExchangeAuthCode(ctx context.Context, code, state string) (*ca.ProviderGrant, error) {
	tok, err := t.exchange(ctx, code, oauth2.VerifierOption(t.pkceVerifier(state)))
	if err != nil {
		return nil, err
	}
	user, err := t.me(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	return &ca.ProviderGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		ExternalID:   user.Data.ID,
	}, nil
}

func (t *TwitterOAuth2) FetchMetrics(ctx context.Context, accessToken, externalID string) (ca.RawMetrics, error) {
	user, err := t.me(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	m := user.Data.PublicMetrics
	return ca.RawMetrics{
		"followers_count": m.FollowersCount,
		"following_count": m.FollowingCount,
		"tweet_count":     m.TweetCount,
		"listed_count":    m.ListedCount,
		"like_count":      m.LikeCount,
	}, nil
}

func (t *TwitterOAuth2) NormalizeMetrics(raw ca.RawMetrics) ca.Metrics {
	return ca.Metrics{
		Followers:   ca.Supported(raw["followers_count"]),
		Likes:       ca.Supported(raw["like_count"]),
		Comments:    ca.Unsupported,
		Shares:      ca.Unsupported,
		Impressions: ca.Unsupported,
	}
}
