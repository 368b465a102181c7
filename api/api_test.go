package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ca "github.com/panyam/creatorauth"
	"github.com/panyam/creatorauth/api"
	"github.com/panyam/creatorauth/stores/fs"
)

const testPassword = "Secret123"

// captureMailer keeps the last message sent to each address
type captureMailer struct {
	mu   sync.Mutex
	last map[string]string
}

func (m *captureMailer) SendMessage(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		m.last = map[string]string{}
	}
	m.last[to] = body
	return nil
}

var codeRegex = regexp.MustCompile(`\b(\d{6})\b`)

func (m *captureMailer) code(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	match := codeRegex.FindStringSubmatch(m.last[to])
	require.NotNil(t, match, "no code mailed to %s", to)
	return match[1]
}

type fakeProvider struct {
	id ca.ProviderID
}

func (p *fakeProvider) ID() ca.ProviderID { return p.id }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) ExchangeAuthCode(ctx context.Context, code, state string) (*ca.ProviderGrant, error) {
	if code != "good-code" {
		return nil, ca.UpstreamError(ca.ErrCodeUpstream, nil)
	}
	return &ca.ProviderGrant{AccessToken: "access-1", RefreshToken: "refresh-1", ExternalID: "channel-1"}, nil
}

func (p *fakeProvider) FetchMetrics(ctx context.Context, accessToken, externalID string) (ca.RawMetrics, error) {
	return ca.RawMetrics{"followers": 42, "comments": 0}, nil
}

func (p *fakeProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*ca.RefreshedToken, error) {
	return nil, ca.ErrRefreshUnsupported
}

func (p *fakeProvider) NormalizeMetrics(raw ca.RawMetrics) ca.Metrics {
	return ca.Metrics{
		Followers: ca.Supported(raw["followers"]),
		Comments:  ca.Supported(raw["comments"]),
	}
}

// fakeIdentity logs in whoever's email is passed as the code
type fakeIdentity struct{}

func (fakeIdentity) Name() string { return "google" }

func (fakeIdentity) AuthCodeURL(state string) string {
	return "https://idp.test/authorize?state=" + url.QueryEscape(state)
}

func (fakeIdentity) Exchange(ctx context.Context, code, state string) (*ca.OAuthProfile, error) {
	return &ca.OAuthProfile{Provider: "google", Subject: "sub-" + code, Email: code, EmailVerified: true}, nil
}

type testEnv struct {
	server *api.Server
	ts     *httptest.Server
	client *http.Client
	mailer *captureMailer
	store  *fs.AccountStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := (&ca.Config{JWTSecretKey: "test-secret-key-0123456789"}).EnsureDefaults()
	store := fs.NewAccountStore(t.TempDir())
	mailer := &captureMailer{}

	machine := ca.NewIdentityMachine(cfg, store, mailer)
	machine.Credentials.Hasher = ca.BcryptHasher{Cost: bcrypt.MinCost}

	registry := ca.NewProviderRegistry().
		Register(&fakeProvider{id: ca.ProviderYouTube}).
		RegisterIdentity(fakeIdentity{})
	vault := ca.NewTokenVault(store, registry, ca.NewLocalLocker())
	aggregator := ca.NewAggregator(cfg, vault, registry)

	srv := api.NewServer(machine, vault, aggregator, registry)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnv{server: srv, ts: ts, client: client, mailer: mailer, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// call sends a request and decodes the JSON response
func (e *testEnv) call(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	resp := e.do(t, method, path, token, body)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// activate runs the whole email signup and returns a session token
func (e *testEnv) activate(t *testing.T, email, username string) string {
	t.Helper()
	status, _ := e.call(t, "POST", "/api/auth/signup", "", map[string]string{"email": email})
	require.Equal(t, http.StatusCreated, status)

	status, _ = e.call(t, "POST", "/api/auth/validate-otp", "", map[string]string{"email": email, "code": e.mailer.code(t, email)})
	require.Equal(t, http.StatusOK, status)

	status, _ = e.call(t, "POST", "/api/auth/set-username", "", map[string]string{"email": email, "username": username})
	require.Equal(t, http.StatusOK, status)

	status, body := e.call(t, "POST", "/api/auth/set-password", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, status)
	return body["session"].(map[string]any)["token"].(string)
}

func TestSignupJourney(t *testing.T) {
	env := newTestEnv(t)
	email := "creator@example.com"

	status, body := env.call(t, "POST", "/api/auth/signup", "", map[string]string{"email": "Creator@Example.com"})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "challenge_sent", body["outcome"])

	// a second signup while the code is valid sends nothing new
	status, body = env.call(t, "POST", "/api/auth/signup", "", map[string]string{"email": email})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "challenge_pending", body["outcome"])

	status, body = env.call(t, "POST", "/api/auth/validate-otp", "", map[string]string{"email": email, "code": env.mailer.code(t, email)})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "set_username", body["next_step"])

	status, body = env.call(t, "POST", "/api/auth/check-status", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "verified_no_username", body["state"])

	status, body = env.call(t, "POST", "/api/auth/set-username", "", map[string]string{"email": email, "username": "creator_1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "set_password", body["next_step"])

	status, body = env.call(t, "POST", "/api/auth/set-password", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "done", body["next_step"])
	token := body["session"].(map[string]any)["token"].(string)
	require.NotEmpty(t, token)

	status, body = env.call(t, "GET", "/api/user/profile", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, email, body["email"])
	assert.Equal(t, "creator_1", body["username"])
	assert.NotContains(t, body, "password_hash")

	status, body = env.call(t, "POST", "/api/auth/login", "", map[string]string{"username": "CREATOR_1", "password": testPassword})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["session"].(map[string]any)["token"])
}

func TestSignupErrors(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t, "taken@example.com", "taken")

	tests := []struct {
		name   string
		path   string
		body   map[string]string
		status int
		kind   string
		code   string
	}{
		{"invalid email", "/api/auth/signup", map[string]string{"email": "not-an-email"}, http.StatusBadRequest, "validation_error", "invalid_email"},
		{"already active", "/api/auth/signup", map[string]string{"email": "taken@example.com"}, http.StatusConflict, "conflict", "already_active"},
		{"unknown account", "/api/auth/validate-otp", map[string]string{"email": "ghost@example.com", "code": "123456"}, http.StatusNotFound, "not_found", "account_not_found"},
		{"wrong password", "/api/auth/login", map[string]string{"email": "taken@example.com", "password": "Wrong1234"}, http.StatusUnauthorized, "invalid_credential", "invalid_credentials"},
		{"weak password", "/api/auth/reset-password", map[string]string{"email": "taken@example.com", "code": "000000", "password": "short"}, http.StatusBadRequest, "validation_error", "weak_password"},
		{"no reset pending", "/api/auth/reset-password", map[string]string{"email": "taken@example.com", "code": "000000", "password": "Another123"}, http.StatusConflict, "precondition_failed", "no_challenge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.call(t, "POST", tt.path, "", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, body["kind"])
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestWrongOTP(t *testing.T) {
	env := newTestEnv(t)
	email := "otp@example.com"
	env.call(t, "POST", "/api/auth/signup", "", map[string]string{"email": email})
	code := env.mailer.code(t, email)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	status, body := env.call(t, "POST", "/api/auth/validate-otp", "", map[string]string{"email": email, "code": wrong})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_code", body["code"])
	assert.Equal(t, "code", body["field"])

	// the pending code survives a failed attempt
	status, _ = env.call(t, "POST", "/api/auth/validate-otp", "", map[string]string{"email": email, "code": code})
	assert.Equal(t, http.StatusOK, status)
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest("POST", env.ts.URL+"/api/auth/signup", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	email := "reset@example.com"
	env.activate(t, email, "resetter")

	status, _ := env.call(t, "POST", "/api/auth/forgot-password", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, status)

	status, body := env.call(t, "POST", "/api/auth/reset-password", "", map[string]string{
		"email": email, "code": env.mailer.code(t, email), "password": "Brandnew99",
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["session"].(map[string]any)["token"])

	status, _ = env.call(t, "POST", "/api/auth/login", "", map[string]string{"email": email, "password": testPassword})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = env.call(t, "POST", "/api/auth/login", "", map[string]string{"email": email, "password": "Brandnew99"})
	assert.Equal(t, http.StatusOK, status)
}

func TestBearerRequired(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/user/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	status, body := env.call(t, "GET", "/api/user/profile", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_session", body["code"])

	status, _ = env.call(t, "GET", "/api/social/analytics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	token := env.activate(t, "update@example.com", "updater")

	status, body := env.call(t, "PUT", "/api/user/profile", token, map[string]string{"username": "renamed"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "username_immutable", body["code"])

	status, body = env.call(t, "PUT", "/api/user/profile", token, map[string]string{"email": "moved@example.com"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "moved@example.com", body["email"])
	assert.Equal(t, false, body["is_verified"])
}

func TestListAccountsRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	token := env.activate(t, "admin@example.com", "admin")
	env.activate(t, "other@example.com", "other")

	status, body := env.call(t, "GET", "/api/user/all", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_admin", body["code"])

	ctx := context.Background()
	acct, err := env.store.GetAccountByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	acct.IsAdmin = true
	require.NoError(t, env.store.UpdateAccount(ctx, acct))

	status, body = env.call(t, "GET", "/api/user/all?page=1&limit=1", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(2), body["pages"])
	assert.Len(t, body["accounts"], 1)

	status, body = env.call(t, "GET", "/api/user/all?page=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "page", body["field"])
}

// stateFrom extracts the state parameter from a provider redirect
func stateFrom(t *testing.T, resp *http.Response) string {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestOAuthLogin(t *testing.T) {
	env := newTestEnv(t)

	state := stateFrom(t, env.do(t, "GET", "/api/auth/oauth/google", "", nil))
	status, body := env.call(t, "GET", "/api/auth/oauth/google/callback?code=oauth@example.com&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["created"])
	assert.Equal(t, "set_username", body["next_step"])

	// state is single use
	status, body = env.call(t, "GET", "/api/auth/oauth/google/callback?code=oauth@example.com&state="+url.QueryEscape(state), "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_oauth_state", body["code"])

	status, _ = env.call(t, "GET", "/api/auth/oauth/nosuch", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOAuthStateMismatch(t *testing.T) {
	env := newTestEnv(t)
	stateFrom(t, env.do(t, "GET", "/api/auth/oauth/google", "", nil))

	status, body := env.call(t, "GET", "/api/auth/oauth/google/callback?code=x@example.com&state=forged", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_oauth_state", body["code"])
}

func TestOAuthLoginRedirectsToFrontend(t *testing.T) {
	env := newTestEnv(t)
	env.server.FrontendURL = "https://app.test/"

	state := stateFrom(t, env.do(t, "GET", "/api/auth/oauth/google", "", nil))
	resp := env.do(t, "GET", "/api/auth/oauth/google/callback?code=front@example.com&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://app.test/oauth/callback#"), loc)
	frag, err := url.ParseQuery(loc[strings.Index(loc, "#")+1:])
	require.NoError(t, err)
	assert.NotEmpty(t, frag.Get("token"))
	assert.Equal(t, "set_username", frag.Get("next_step"))

	resp = env.do(t, "GET", "/api/auth/oauth/google/callback?code=front@example.com&state=bad", "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://app.test/login?error=invalid_oauth_state", resp.Header.Get("Location"))
}

func TestSocialConnectAnalyticsUnlink(t *testing.T) {
	env := newTestEnv(t)
	token := env.activate(t, "social@example.com", "social")

	state := stateFrom(t, env.do(t, "GET", "/api/social/youtube/connect", token, nil))
	status, body := env.call(t, "GET", "/api/social/youtube/callback?code=good-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusOK, status)
	linked := body["linked_providers"].([]any)
	require.Len(t, linked, 1)
	assert.Equal(t, "youtube", linked[0].(map[string]any)["provider"])
	assert.Equal(t, "channel-1", linked[0].(map[string]any)["external_id"])

	status, body = env.call(t, "GET", "/api/social/analytics", token, nil)
	require.Equal(t, http.StatusOK, status)
	results := body["results"].(map[string]any)
	yt := results["youtube"].(map[string]any)
	assert.Equal(t, true, yt["ok"])
	metrics := yt["metrics"].(map[string]any)
	assert.Equal(t, float64(42), metrics["followers"])
	assert.Equal(t, float64(0), metrics["comments"])
	assert.Equal(t, "unsupported", metrics["likes"])

	status, body = env.call(t, "GET", "/api/social/analytics?providers=youtube,instagram", token, nil)
	require.Equal(t, http.StatusOK, status)
	results = body["results"].(map[string]any)
	assert.Len(t, results, 2)
	ig := results["instagram"].(map[string]any)
	assert.Equal(t, false, ig["ok"])
	assert.NotNil(t, ig["error"])

	status, body = env.call(t, "DELETE", "/api/social/youtube", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["linked_providers"])

	status, body = env.call(t, "DELETE", "/api/social/youtube", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "provider_not_linked", body["code"])
}

func TestSocialCallbackWithoutConnect(t *testing.T) {
	env := newTestEnv(t)

	// an oauth login state is not enough to link
	state := stateFrom(t, env.do(t, "GET", "/api/auth/oauth/google", "", nil))
	status, body := env.call(t, "GET", "/api/social/youtube/callback?code=good-code&state="+url.QueryEscape(state), "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing_linking_user", body["code"])
}

func TestSocialConnectRedirects(t *testing.T) {
	env := newTestEnv(t)
	env.server.FrontendURL = "https://app.test"
	token := env.activate(t, "redirect@example.com", "redirector")

	state := stateFrom(t, env.do(t, "GET", "/api/social/youtube/connect", token, nil))
	resp := env.do(t, "GET", "/api/social/youtube/callback?code=good-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://app.test/dashboard/connected-accounts?success=youtube", resp.Header.Get("Location"))

	state = stateFrom(t, env.do(t, "GET", "/api/social/youtube/connect", token, nil))
	resp = env.do(t, "GET", "/api/social/youtube/callback?code=bad-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://app.test/dashboard/connected-accounts?error=upstream", resp.Header.Get("Location"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.call(t, "GET", "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "route_not_found", body["code"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGone, api.StatusFor(ca.KindExpired))
	assert.Equal(t, http.StatusBadGateway, api.StatusFor(ca.KindUpstream))
	assert.Equal(t, http.StatusConflict, api.StatusFor(ca.KindPreconditionFailed))
	assert.Equal(t, http.StatusInternalServerError, api.StatusFor("mystery"))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, api.StatusOf(ca.InternalError(errors.New("disk full"))))
	assert.Equal(t, http.StatusBadGateway, api.StatusOf(ca.UpstreamError(ca.ErrCodeUpstream, errors.New("503"))))
	assert.Equal(t, http.StatusNotFound, api.StatusOf(ca.NotFoundError(ca.ErrCodeAccountNotFound, "missing")))
}
