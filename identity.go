package creatorauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// IdentityMachine owns the account lifecycle from first signup (or OAuth
// login) to an active account. Every transition is a single read-modify-write
// of one account record.
type IdentityMachine struct {
	Store       AccountStore
	Challenges  *ChallengeManager
	Credentials *CredentialBinder
	Sessions    *SessionIssuer
	Mailer      Mailer
	AppName     string
	Logger      *slog.Logger
}

// NewIdentityMachine wires a machine from cfg.
func NewIdentityMachine(cfg *Config, store AccountStore, mailer Mailer) *IdentityMachine {
	return &IdentityMachine{
		Store:      store,
		Challenges: NewChallengeManager(cfg.OTPValidity),
		Credentials: &CredentialBinder{
			Store:  store,
			Hasher: BcryptHasher{Cost: cfg.BcryptCost},
			Policy: DefaultPasswordPolicy,
		},
		Sessions: NewSessionIssuer(cfg),
		Mailer:   mailer,
		AppName:  cfg.AppName,
		Logger:   slog.Default(),
	}
}

func (m *IdentityMachine) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func normalizeAndCheckEmail(email *string) error {
	*email = NormalizeEmail(*email)
	if !validEmail(*email) {
		return ValidationError(ErrCodeInvalidEmail, "email", "a valid email address is required")
	}
	return nil
}

func requireField(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError(ErrCodeInvalidRequest, field, field+" is required")
	}
	return nil
}

// =============================================================================
// Signup
// =============================================================================

type SignupRequest struct {
	Email string `json:"email"`
}

func (r *SignupRequest) Validate() error {
	return normalizeAndCheckEmail(&r.Email)
}

// SignupOutcome says what signup did.
type SignupOutcome string

const (
	SignupChallengeSent    SignupOutcome = "challenge_sent"
	SignupChallengePending SignupOutcome = "challenge_pending"
	SignupAlreadyVerified  SignupOutcome = "already_verified"
)

type SignupResult struct {
	Outcome   SignupOutcome `json:"outcome"`
	Status    AccountStatus `json:"status"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// Signup starts email verification for an address. Calling it again while
// a code is still valid sends nothing and reports SignupChallengePending.
func (m *IdentityMachine) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	acct, err := m.Store.GetAccountByEmail(ctx, req.Email)
	if err == nil {
		return m.signupExisting(ctx, acct)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	acct = NewAccount(req.Email, m.Challenges.now())
	ch, _, err := m.Challenges.Issue(acct, PurposeSignup)
	if err != nil {
		return nil, err
	}
	if err := m.Store.CreateAccount(ctx, acct); err != nil {
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		// Another signup for this email won the insert.
		winner, err := m.Store.GetAccountByEmail(ctx, req.Email)
		if err != nil {
			return nil, err
		}
		return m.signupExisting(ctx, winner)
	}
	m.logger().Info("account created", "account_id", acct.ID, "email", acct.Email)
	return m.deliverChallenge(ctx, acct, ch)
}

func (m *IdentityMachine) signupExisting(ctx context.Context, acct *Account) (*SignupResult, error) {
	switch acct.State() {
	case StateActive:
		return nil, ConflictError(ErrCodeAlreadyActive, "account is already active, please log in").WithField("email")
	case StateVerifiedNoUsername, StateVerifiedNoPassword:
		return &SignupResult{Outcome: SignupAlreadyVerified, Status: statusOf(acct)}, nil
	}

	ch, existing, err := m.Challenges.Issue(acct, PurposeSignup)
	if err != nil {
		return nil, err
	}
	if existing {
		expiresAt := ch.ExpiresAt
		return &SignupResult{Outcome: SignupChallengePending, Status: statusOf(acct), ExpiresAt: &expiresAt}, nil
	}
	if err := m.Store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return m.deliverChallenge(ctx, acct, ch)
}

// deliverChallenge mails a freshly persisted challenge. If delivery fails the
// challenge is withdrawn so a later request can issue a new one.
func (m *IdentityMachine) deliverChallenge(ctx context.Context, acct *Account, ch Challenge) (*SignupResult, error) {
	if err := m.sendChallenge(ctx, acct, ch); err != nil {
		return nil, err
	}
	expiresAt := ch.ExpiresAt
	return &SignupResult{Outcome: SignupChallengeSent, Status: statusOf(acct), ExpiresAt: &expiresAt}, nil
}

func (m *IdentityMachine) sendChallenge(ctx context.Context, acct *Account, ch Challenge) error {
	subject, body := challengeMessage(m.AppName, ch, m.Challenges.validity())
	err := m.Mailer.SendMessage(ctx, acct.Email, subject, body)
	if err == nil {
		return nil
	}
	m.logger().Warn("failed to send verification email", "account_id", acct.ID, "error", err)
	ClearChallenge(acct)
	if uerr := m.Store.UpdateAccount(ctx, acct); uerr != nil {
		m.logger().Warn("failed to withdraw challenge", "account_id", acct.ID, "error", uerr)
	}
	return UpstreamError(ErrCodeMailFailed, err)
}

// =============================================================================
// OTP validation
// =============================================================================

type ValidateOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r *ValidateOTPRequest) Validate() error {
	if err := normalizeAndCheckEmail(&r.Email); err != nil {
		return err
	}
	r.Code = strings.TrimSpace(r.Code)
	return requireField(r.Code, "code")
}

type StepResult struct {
	Status   AccountStatus `json:"status"`
	NextStep NextStep      `json:"next_step"`
}

func stepResultOf(acct *Account) *StepResult {
	return &StepResult{Status: statusOf(acct), NextStep: nextStepOf(acct)}
}

// ValidateOTP verifies the signup code, marks the email verified and consumes the code.
func (m *IdentityMachine) ValidateOTP(ctx context.Context, req ValidateOTPRequest) (*StepResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := m.Store.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if outcome := m.Challenges.Validate(acct, PurposeSignup, req.Code); outcome != OTPValid {
		return nil, otpError(outcome)
	}
	acct.Verification.IsVerified = true
	if err := m.Store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	m.logger().Info("email verified", "account_id", acct.ID)
	return stepResultOf(acct), nil
}

// =============================================================================
// Username and password
// =============================================================================

type SetUsernameRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

func (r *SetUsernameRequest) Validate() error {
	if err := normalizeAndCheckEmail(&r.Email); err != nil {
		return err
	}
	r.Username = strings.TrimSpace(r.Username)
	return ValidateUsername(r.Username)
}

func (m *IdentityMachine) SetUsername(ctx context.Context, req SetUsernameRequest) (*StepResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := m.Store.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if err := m.Credentials.BindUsername(ctx, acct, req.Username); err != nil {
		return nil, err
	}
	if err := m.Store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return stepResultOf(acct), nil
}

type SetPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// Username may be supplied by accounts created through OAuth that have
	// not chosen one yet; it is bound first in the same update.
	Username string `json:"username,omitempty"`
}

func (r *SetPasswordRequest) Validate() error {
	if err := normalizeAndCheckEmail(&r.Email); err != nil {
		return err
	}
	r.Username = strings.TrimSpace(r.Username)
	return requireField(r.Password, "password")
}

// SessionResult is returned by every operation that logs the user in.
type SessionResult struct {
	Session  SessionToken `json:"session"`
	Profile  Profile      `json:"profile"`
	NextStep NextStep     `json:"next_step"`
}

func (m *IdentityMachine) sessionFor(acct *Account) (*SessionResult, error) {
	tok, err := m.Sessions.Issue(acct.ID)
	if err != nil {
		return nil, err
	}
	return &SessionResult{Session: tok, Profile: ProfileOf(acct), NextStep: nextStepOf(acct)}, nil
}

// SetPassword sets the first password and logs the user in.
func (m *IdentityMachine) SetPassword(ctx context.Context, req SetPasswordRequest) (*SessionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := m.Store.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if !acct.Verification.IsVerified {
		return nil, NewError(KindPreconditionFailed, ErrCodeNotVerified, "email must be verified first")
	}
	if req.Username != "" {
		switch {
		case acct.Username == "":
			if err := m.Credentials.BindUsername(ctx, acct, req.Username); err != nil {
				return nil, err
			}
		case UsernameKey(acct.Username) != UsernameKey(req.Username):
			return nil, NewError(KindPreconditionFailed, ErrCodeUsernameAlreadySet, "username is already set").WithField("username")
		}
	}
	if err := m.Credentials.BindPassword(acct, req.Password, false); err != nil {
		return nil, err
	}
	if err := m.Store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return m.sessionFor(acct)
}

// =============================================================================
// Login
// =============================================================================

// LoginRequest identifies the account by email or by username.
type LoginRequest struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	if strings.TrimSpace(r.Email) == "" && r.Username == "" {
		return ValidationError(ErrCodeInvalidRequest, "email", "email or username is required")
	}
	if r.Email != "" {
		if err := normalizeAndCheckEmail(&r.Email); err != nil {
			return err
		}
	}
	return requireField(r.Password, "password")
}

func (m *IdentityMachine) Login(ctx context.Context, req LoginRequest) (*SessionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var acct *Account
	var err error
	if req.Email != "" {
		acct, err = m.Store.GetAccountByEmail(ctx, req.Email)
	} else {
		acct, err = m.Store.GetAccountByUsername(ctx, req.Username)
	}
	if err != nil {
		return nil, err
	}
	if !acct.Verification.IsVerified {
		return nil, NewError(KindForbidden, ErrCodeNotVerified, "email is not verified")
	}
	if !acct.HasPassword() {
		return nil, NewError(KindPreconditionFailed, ErrCodePasswordNotSet, "no password is set for this account, sign in with your provider or set a password")
	}
	if !m.Credentials.CheckPassword(acct, req.Password) {
		return nil, NewError(KindInvalidCredential, ErrCodeInvalidCredentials, "invalid credentials")
	}
	m.logger().Info("login", "account_id", acct.ID)
	return m.sessionFor(acct)
}

// =============================================================================
// OAuth
// =============================================================================

// OAuthProfile is what an identity provider reports after a successful login.
type OAuthProfile struct {
	Provider      string `json:"provider"`
	Subject       string `json:"subject"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	// Link is set when the login provider is also an analytics provider
	// and granted access to the user's channel.
	Link *ProviderLink `json:"-"`
}

// ProviderLink pairs an analytics provider with the grant to store for it.
type ProviderLink struct {
	Provider ProviderID
	LinkRequest
}

type OAuthResult struct {
	SessionResult
	Created bool `json:"created"`
}

// OAuthCallback finds or creates the account for the provider's email, marks
// it verified and records the provider identity.
func (m *IdentityMachine) OAuthCallback(ctx context.Context, profile *OAuthProfile) (*OAuthResult, error) {
	if profile == nil || profile.Provider == "" || profile.Subject == "" {
		return nil, NewError(KindUpstream, ErrCodeMalformedProfile, "provider returned an incomplete profile")
	}
	email := NormalizeEmail(profile.Email)
	if !validEmail(email) {
		return nil, NewError(KindUpstream, ErrCodeMalformedProfile, "provider returned no usable email")
	}
	if !profile.EmailVerified {
		return nil, NewError(KindForbidden, ErrCodeProviderUnverified, "provider has not verified this email")
	}
	if profile.Link != nil {
		if !profile.Link.Provider.Valid() {
			return nil, unknownProvider(profile.Link.Provider)
		}
		if err := profile.Link.Validate(); err != nil {
			return nil, NewError(KindUpstream, ErrCodeMalformedProfile, "provider returned an incomplete grant").Wrap(err)
		}
	}

	now := m.Challenges.now()
	apply := func(acct *Account) {
		acct.Verification.IsVerified = true
		ClearChallenge(acct)
		if acct.Identities == nil {
			acct.Identities = map[string]string{}
		}
		acct.Identities[profile.Provider] = profile.Subject
		if profile.Link != nil {
			acct.SetLink(profile.Link.Provider, profile.Link.toSocialLink(now))
		}
	}

	created := false
	acct, err := m.Store.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		acct = NewAccount(email, now)
		apply(acct)
		if err = m.Store.CreateAccount(ctx, acct); err == nil {
			created = true
		} else if errors.Is(err, ErrConflict) {
			// lost the insert race, update the winner instead
			acct, err = m.Store.GetAccountByEmail(ctx, email)
		}
	}
	if err != nil {
		return nil, err
	}
	if !created {
		acct, err = mutateAccount(ctx, m.Store, acct.ID, func(a *Account) error {
			if profile.Link == nil && a.Verification.IsVerified && a.Verification.OTPCode == "" &&
				a.Identities[profile.Provider] == profile.Subject {
				return errNoChange
			}
			apply(a)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	m.logger().Info("oauth login", "account_id", acct.ID, "provider", profile.Provider, "created", created)
	session, err := m.sessionFor(acct)
	if err != nil {
		return nil, err
	}
	return &OAuthResult{SessionResult: *session, Created: created}, nil
}

// =============================================================================
// Password reset
// =============================================================================

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r *ForgotPasswordRequest) Validate() error {
	return normalizeAndCheckEmail(&r.Email)
}

type ForgotPasswordResult struct {
	Pending   bool      `json:"pending"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ForgotPassword mails a password reset code. A still valid reset code is not resent.
func (m *IdentityMachine) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (*ForgotPasswordResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := m.Store.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if !acct.Verification.IsVerified {
		return nil, NewError(KindForbidden, ErrCodeNotVerified, "email is not verified")
	}
	if acct.Username == "" {
		return nil, NewError(KindPreconditionFailed, ErrCodeUsernameRequired, "a username must be set before a password")
	}
	ch, existing, err := m.Challenges.Issue(acct, PurposePasswordReset)
	if err != nil {
		return nil, err
	}
	if existing {
		return &ForgotPasswordResult{Pending: true, ExpiresAt: ch.ExpiresAt}, nil
	}
	if err := m.Store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	if err := m.sendChallenge(ctx, acct, ch); err != nil {
		return nil, err
	}
	return &ForgotPasswordResult{ExpiresAt: ch.ExpiresAt}, nil
}

type ResetPasswordRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (r *ResetPasswordRequest) Validate() error {
	if err := normalizeAndCheckEmail(&r.Email); err != nil {
		return err
	}
	r.Code = strings.TrimSpace(r.Code)
	if err := requireField(r.Code, "code"); err != nil {
		return err
	}
	return requireField(r.Password, "password")
}

// ResetPassword replaces the password after checking the reset code.
func (m *IdentityMachine) ResetPassword(ctx context.Context, req ResetPasswordRequest) (*SessionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := m.Store.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if err := m.Credentials.Policy.Check(req.Password); err != nil {
		return nil, err
	}
	if outcome := m.Challenges.Validate(acct, PurposePasswordReset, req.Code); outcome != OTPValid {
		return nil, otpError(outcome)
	}
	if err := m.Credentials.BindPassword(acct, req.Password, true); err != nil {
		return nil, err
	}
	if err := m.Store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	m.logger().Info("password reset", "account_id", acct.ID)
	return m.sessionFor(acct)
}

// =============================================================================
// Status
// =============================================================================

// CheckStatus reports signup progress for an email. Unknown emails report Exists=false.
func (m *IdentityMachine) CheckStatus(ctx context.Context, email string) (*AccountStatus, error) {
	if err := normalizeAndCheckEmail(&email); err != nil {
		return nil, err
	}
	acct, err := m.Store.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		status := statusOf(nil)
		return &status, nil
	}
	if err != nil {
		return nil, err
	}
	status := statusOf(acct)
	return &status, nil
}
