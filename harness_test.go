package creatorauth_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	ca "github.com/panyam/creatorauth"
	"github.com/panyam/creatorauth/stores/fs"
)

const testPassword = "Secret123"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	to, subject, body string
}

// memMailer records messages and can be told to fail
type memMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail error
}

func (m *memMailer) SendMessage(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func (m *memMailer) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *memMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var mailCode = regexp.MustCompile(`\b(\d{6})\b`)

func (m *memMailer) lastCode(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].to == to {
			if match := mailCode.FindStringSubmatch(m.sent[i].body); match != nil {
				return match[1]
			}
		}
	}
	t.Fatalf("no code was mailed to %s", to)
	return ""
}

type harness struct {
	machine *ca.IdentityMachine
	store   *fs.AccountStore
	mailer  *memMailer
	clock   *testClock
	config  *ca.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := (&ca.Config{JWTSecretKey: "harness-secret-key-123"}).EnsureDefaults()
	store := fs.NewAccountStore(t.TempDir())
	mailer := &memMailer{}
	clock := newClock()

	m := ca.NewIdentityMachine(cfg, store, mailer)
	m.Credentials.Hasher = ca.BcryptHasher{Cost: bcrypt.MinCost}
	m.Challenges.Now = clock.Now
	m.Sessions.Now = clock.Now
	return &harness{machine: m, store: store, mailer: mailer, clock: clock, config: cfg}
}

func (h *harness) ctx() context.Context { return context.Background() }

// verify signs up email and validates the mailed code
func (h *harness) verify(t *testing.T, email string) {
	t.Helper()
	if _, err := h.machine.Signup(h.ctx(), ca.SignupRequest{Email: email}); err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	code := h.mailer.lastCode(t, email)
	if _, err := h.machine.ValidateOTP(h.ctx(), ca.ValidateOTPRequest{Email: email, Code: code}); err != nil {
		t.Fatalf("validate %s: %v", email, err)
	}
}

// activate takes email all the way to an active account
func (h *harness) activate(t *testing.T, email, username string) *ca.SessionResult {
	t.Helper()
	h.verify(t, email)
	if _, err := h.machine.SetUsername(h.ctx(), ca.SetUsernameRequest{Email: email, Username: username}); err != nil {
		t.Fatalf("set username %s: %v", email, err)
	}
	res, err := h.machine.SetPassword(h.ctx(), ca.SetPasswordRequest{Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("set password %s: %v", email, err)
	}
	return res
}

func (h *harness) account(t *testing.T, email string) *ca.Account {
	t.Helper()
	acct, err := h.store.GetAccountByEmail(h.ctx(), email)
	if err != nil {
		t.Fatalf("get %s: %v", email, err)
	}
	return acct
}

// expectCode fails unless err is a *ca.Error of kind with code
func expectCode(t *testing.T, err error, kind ca.ErrorKind, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s/%s, got nil", kind, code)
	}
	var e *ca.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *ca.Error, got %T: %v", err, err)
	}
	if e.Kind != kind || (code != "" && e.Code != code) {
		t.Fatalf("expected %s/%s, got %s/%s (%v)", kind, code, e.Kind, e.Code, err)
	}
}

// fakeProvider accepts exactly one access token at a time. Refreshing
// replaces the accepted token with nextToken.
type fakeProvider struct {
	id ca.ProviderID

	mu         sync.Mutex
	valid      string
	nextToken  string
	rotate     bool
	refreshErr error
	fetchErr   error
	delay      time.Duration
	// stayRejected keeps rejecting even freshly refreshed tokens
	stayRejected bool

	refreshes atomic.Int32
	fetches   atomic.Int32
}

func newFakeProvider(id ca.ProviderID, valid string) *fakeProvider {
	return &fakeProvider{id: id, valid: valid, nextToken: "fresh-token"}
}

func (p *fakeProvider) ID() ca.ProviderID { return p.id }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.test/auth?state=" + state
}

func (p *fakeProvider) ExchangeAuthCode(ctx context.Context, code, state string) (*ca.ProviderGrant, error) {
	return &ca.ProviderGrant{AccessToken: "code-" + code, ExternalID: "ext-" + code}, nil
}

func (p *fakeProvider) FetchMetrics(ctx context.Context, accessToken, externalID string) (ca.RawMetrics, error) {
	p.fetches.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	p.mu.Lock()
	valid := p.valid
	p.mu.Unlock()
	if accessToken != valid {
		return nil, fmt.Errorf("%w: status 401", ca.ErrProviderAuth)
	}
	return ca.RawMetrics{"followers": 7, "likes": 3}, nil
}

func (p *fakeProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*ca.RefreshedToken, error) {
	p.refreshes.Add(1)
	// widen the window for concurrent callers
	time.Sleep(20 * time.Millisecond)
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stayRejected {
		p.valid = p.nextToken
	}
	out := &ca.RefreshedToken{AccessToken: p.nextToken, Expiry: time.Now().Add(time.Hour)}
	if p.rotate {
		out.RefreshToken = "rotated-refresh"
	}
	return out, nil
}

func (p *fakeProvider) NormalizeMetrics(raw ca.RawMetrics) ca.Metrics {
	return ca.Metrics{
		Followers: ca.Supported(raw["followers"]),
		Likes:     ca.Supported(raw["likes"]),
	}
}
