package creatorauth

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderID names an analytics provider a user can link.
type ProviderID string

const (
	ProviderYouTube   ProviderID = "youtube"
	ProviderInstagram ProviderID = "instagram"
	ProviderTwitter   ProviderID = "twitter"
)

// AnalyticsProviders is the closed set of linkable providers.
var AnalyticsProviders = []ProviderID{ProviderYouTube, ProviderInstagram, ProviderTwitter}

// Valid reports whether p is one of AnalyticsProviders.
func (p ProviderID) Valid() bool {
	for _, known := range AnalyticsProviders {
		if p == known {
			return true
		}
	}
	return false
}

// OTPPurpose distinguishes what a pending challenge may be used for.
type OTPPurpose string

const (
	PurposeSignup        OTPPurpose = "signup"
	PurposePasswordReset OTPPurpose = "password_reset"
)

// Verification holds the email verification flag and at most one pending challenge.
// Code, purpose and expiry are always set and cleared together.
type Verification struct {
	OTPCode      string     `json:"otp_code,omitempty"`
	OTPPurpose   OTPPurpose `json:"otp_purpose,omitempty"`
	OTPExpiresAt *time.Time `json:"otp_expires_at,omitempty"`
	IsVerified   bool       `json:"is_verified"`
}

// HasChallenge reports whether a challenge is pending, expired or not.
func (v *Verification) HasChallenge() bool {
	return v.OTPCode != "" && v.OTPExpiresAt != nil
}

// SocialLink is the stored credential for one linked analytics provider.
type SocialLink struct {
	ExternalID   string     `json:"external_id"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LinkedAt     time.Time  `json:"linked_at"`
}

// Account is the single durable record for one email address.
type Account struct {
	ID              string                    `json:"id"`
	Email           string                    `json:"email"`
	Username        string                    `json:"username,omitempty"`
	PasswordHash    string                    `json:"password_hash,omitempty"`
	Verification    Verification              `json:"verification"`
	IsAdmin         bool                      `json:"is_admin"`
	LinkedProviders map[ProviderID]SocialLink `json:"linked_providers,omitempty"`
	// Identities maps an OAuth login provider (eg "google") to the subject it reported.
	Identities map[string]string `json:"identities,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Version    int               `json:"version"` // For optimistic concurrency
}

// NewAccount creates an unverified account for email.
func NewAccount(email string, now time.Time) *Account {
	return &Account{
		ID:              uuid.NewString(),
		Email:           NormalizeEmail(email),
		LinkedProviders: map[ProviderID]SocialLink{},
		Identities:      map[string]string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// AccountState is derived from an account's fields, never stored.
type AccountState int

const (
	StateUnknown AccountState = iota
	StatePendingVerification
	StateVerifiedNoUsername
	StateVerifiedNoPassword
	StateActive
)

func (s AccountState) String() string {
	switch s {
	case StatePendingVerification:
		return "pending_verification"
	case StateVerifiedNoUsername:
		return "verified_no_username"
	case StateVerifiedNoPassword:
		return "verified_no_password"
	case StateActive:
		return "active"
	}
	return "unknown"
}

func (a *Account) State() AccountState {
	if a == nil {
		return StateUnknown
	}
	switch {
	case !a.Verification.IsVerified:
		return StatePendingVerification
	case a.Username == "":
		return StateVerifiedNoUsername
	case a.PasswordHash == "":
		return StateVerifiedNoPassword
	}
	return StateActive
}

func (a *Account) HasPassword() bool { return a.PasswordHash != "" }

// Link returns the stored link for provider.
func (a *Account) Link(provider ProviderID) (SocialLink, bool) {
	link, ok := a.LinkedProviders[provider]
	return link, ok
}

// SetLink stores link for provider, creating the map if needed.
func (a *Account) SetLink(provider ProviderID, link SocialLink) {
	if a.LinkedProviders == nil {
		a.LinkedProviders = map[ProviderID]SocialLink{}
	}
	a.LinkedProviders[provider] = link
}

// LinkedProviderIDs lists linked providers in AnalyticsProviders order.
func (a *Account) LinkedProviderIDs() []ProviderID {
	var out []ProviderID
	for _, p := range AnalyticsProviders {
		if _, ok := a.LinkedProviders[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UsernameKey is the case-insensitive uniqueness key of a username.
func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// AccountStatus summarizes an account's progress for clients.
type AccountStatus struct {
	Exists      bool   `json:"exists"`
	IsVerified  bool   `json:"is_verified"`
	HasUsername bool   `json:"has_username"`
	HasPassword bool   `json:"has_password"`
	State       string `json:"state"`
}

func statusOf(a *Account) AccountStatus {
	if a == nil {
		return AccountStatus{State: StateUnknown.String()}
	}
	return AccountStatus{
		Exists:      true,
		IsVerified:  a.Verification.IsVerified,
		HasUsername: a.Username != "",
		HasPassword: a.PasswordHash != "",
		State:       a.State().String(),
	}
}

// NextStep tells a client which step of onboarding comes next.
type NextStep string

const (
	StepVerifyEmail NextStep = "verify_email"
	StepSetUsername NextStep = "set_username"
	StepSetPassword NextStep = "set_password"
	StepDone        NextStep = "done"
)

func nextStepOf(a *Account) NextStep {
	switch a.State() {
	case StateVerifiedNoUsername:
		return StepSetUsername
	case StateVerifiedNoPassword:
		return StepSetPassword
	case StateActive:
		return StepDone
	}
	return StepVerifyEmail
}
