package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ca "github.com/panyam/creatorauth"
)

// AuthClient talks to one creatorauth server and remembers its session.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithHTTPClient copies timeout, redirect and cookie settings from client.
// Its transport, if any, is wrapped with session handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}
	if store == nil {
		store = NewMemoryCredentialStore()
	}

	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &sessionTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns an http.Client that sends the current session.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Token returns the current session token, or "" when there is no live session.
func (c *AuthClient) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return "", err
	}
	if cred.IsExpired() {
		return "", c.forgetLocked()
	}
	return cred.SessionToken, nil
}

func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is an unexpired session
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	return err == nil && cred != nil && !cred.IsExpired()
}

// Logout drops the stored session. Sessions are stateless so nothing is sent
// to the server.
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forgetLocked()
}

func (c *AuthClient) forgetLocked() error {
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

func (c *AuthClient) remember(res *ca.SessionResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred := &ServerCredential{
		SessionToken: res.Session.Token,
		UserID:       res.Profile.ID,
		Email:        res.Profile.Email,
		Username:     res.Profile.Username,
		ExpiresAt:    res.Session.ExpiresAt,
		CreatedAt:    time.Now(),
	}
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (c *AuthClient) Signup(ctx context.Context, email string) (*ca.SignupResult, error) {
	return call[ca.SignupResult](ctx, c, http.MethodPost, "/api/auth/signup", ca.SignupRequest{Email: email})
}

func (c *AuthClient) ValidateOTP(ctx context.Context, email, code string) (*ca.StepResult, error) {
	return call[ca.StepResult](ctx, c, http.MethodPost, "/api/auth/validate-otp", ca.ValidateOTPRequest{Email: email, Code: code})
}

func (c *AuthClient) SetUsername(ctx context.Context, email, username string) (*ca.StepResult, error) {
	return call[ca.StepResult](ctx, c, http.MethodPost, "/api/auth/set-username", ca.SetUsernameRequest{Email: email, Username: username})
}

// SetPassword completes onboarding and keeps the returned session.
func (c *AuthClient) SetPassword(ctx context.Context, req ca.SetPasswordRequest) (*ca.SessionResult, error) {
	return c.session(ctx, "/api/auth/set-password", req)
}

// Login authenticates by email or username and keeps the returned session.
func (c *AuthClient) Login(ctx context.Context, req ca.LoginRequest) (*ca.SessionResult, error) {
	return c.session(ctx, "/api/auth/login", req)
}

func (c *AuthClient) ForgotPassword(ctx context.Context, email string) (*ca.ForgotPasswordResult, error) {
	return call[ca.ForgotPasswordResult](ctx, c, http.MethodPost, "/api/auth/forgot-password", ca.ForgotPasswordRequest{Email: email})
}

func (c *AuthClient) ResetPassword(ctx context.Context, req ca.ResetPasswordRequest) (*ca.SessionResult, error) {
	return c.session(ctx, "/api/auth/reset-password", req)
}

func (c *AuthClient) CheckStatus(ctx context.Context, email string) (*ca.AccountStatus, error) {
	return call[ca.AccountStatus](ctx, c, http.MethodPost, "/api/auth/check-status", map[string]string{"email": email})
}

func (c *AuthClient) Profile(ctx context.Context) (*ca.Profile, error) {
	return call[ca.Profile](ctx, c, http.MethodGet, "/api/user/profile", nil)
}

func (c *AuthClient) UpdateProfile(ctx context.Context, req ca.UpdateProfileRequest) (*ca.Profile, error) {
	return call[ca.Profile](ctx, c, http.MethodPut, "/api/user/profile", req)
}

// Analytics fetches metrics for providers, or for every linked provider when none are given.
func (c *AuthClient) Analytics(ctx context.Context, providers ...ca.ProviderID) (map[ca.ProviderID]ca.ProviderResult, error) {
	path := "/api/social/analytics"
	if len(providers) > 0 {
		names := make([]string, len(providers))
		for i, p := range providers {
			names[i] = string(p)
		}
		path += "?providers=" + url.QueryEscape(strings.Join(names, ","))
	}
	var out struct {
		Results map[ca.ProviderID]ca.ProviderResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *AuthClient) Unlink(ctx context.Context, provider ca.ProviderID) (*ca.Profile, error) {
	return call[ca.Profile](ctx, c, http.MethodDelete, "/api/social/"+url.PathEscape(string(provider)), nil)
}

func (c *AuthClient) session(ctx context.Context, path string, body any) (*ca.SessionResult, error) {
	var out ca.SessionResult
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	if err := c.remember(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func call[T any](ctx context.Context, c *AuthClient, method, path string, body any) (*T, error) {
	var out T
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type apiError struct {
	Error string       `json:"error"`
	Kind  ca.ErrorKind `json:"kind"`
	Code  string       `json:"code"`
	Field string       `json:"field"`
}

// do sends body as JSON and decodes a 2xx response into out. Error responses
// come back as *ca.Error so callers can match them with errors.Is.
func (c *AuthClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e apiError
		if err := json.Unmarshal(data, &e); err != nil || e.Kind == "" {
			return ca.UpstreamError(ca.ErrCodeUpstream, fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, path))
		}
		return &ca.Error{Kind: e.Kind, Code: e.Code, Message: e.Error, Field: e.Field}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
