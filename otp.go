package creatorauth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

// DefaultOTPValidity is how long an issued code stays valid.
const DefaultOTPValidity = 10 * time.Minute

// OTPOutcome is the result of checking a submitted code.
type OTPOutcome int

const (
	OTPValid OTPOutcome = iota
	OTPExpired
	OTPMismatch
	OTPNoChallenge
)

func (o OTPOutcome) String() string {
	switch o {
	case OTPValid:
		return "valid"
	case OTPExpired:
		return "expired"
	case OTPMismatch:
		return "mismatch"
	}
	return "no_challenge"
}

// Challenge is an issued one-time code.
type Challenge struct {
	Code      string
	Purpose   OTPPurpose
	ExpiresAt time.Time
}

// ChallengeManager issues and checks one-time codes stored on the account record.
// It never persists anything itself: callers save the account in the same
// update that advances its state.
type ChallengeManager struct {
	Validity time.Duration
	Now      func() time.Time
	Generate func() (string, error)
}

func NewChallengeManager(validity time.Duration) *ChallengeManager {
	return &ChallengeManager{Validity: validity}
}

func (m *ChallengeManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *ChallengeManager) validity() time.Duration {
	if m.Validity <= 0 {
		return DefaultOTPValidity
	}
	return m.Validity
}

// Issue attaches a new challenge for purpose to acct. If a challenge for the
// same purpose is still valid it is returned unchanged with existing=true.
func (m *ChallengeManager) Issue(acct *Account, purpose OTPPurpose) (ch Challenge, existing bool, err error) {
	now := m.now()
	v := &acct.Verification
	if v.HasChallenge() && v.OTPPurpose == purpose && !now.After(*v.OTPExpiresAt) {
		return Challenge{Code: v.OTPCode, Purpose: purpose, ExpiresAt: *v.OTPExpiresAt}, true, nil
	}

	generate := m.Generate
	if generate == nil {
		generate = GenerateOTP
	}
	code, err := generate()
	if err != nil {
		return Challenge{}, false, err
	}
	expiresAt := now.Add(m.validity())
	v.OTPCode = code
	v.OTPPurpose = purpose
	v.OTPExpiresAt = &expiresAt
	return Challenge{Code: code, Purpose: purpose, ExpiresAt: expiresAt}, false, nil
}

// Validate checks code against the pending challenge for purpose.
// On OTPValid the challenge is cleared from acct.
func (m *ChallengeManager) Validate(acct *Account, purpose OTPPurpose, code string) OTPOutcome {
	v := &acct.Verification
	if !v.HasChallenge() || v.OTPPurpose != purpose {
		return OTPNoChallenge
	}
	if m.now().After(*v.OTPExpiresAt) {
		return OTPExpired
	}
	if subtle.ConstantTimeCompare([]byte(v.OTPCode), []byte(code)) != 1 {
		return OTPMismatch
	}
	ClearChallenge(acct)
	return OTPValid
}

// ClearChallenge removes any pending challenge.
func ClearChallenge(acct *Account) {
	acct.Verification.OTPCode = ""
	acct.Verification.OTPPurpose = ""
	acct.Verification.OTPExpiresAt = nil
}

// GenerateOTP returns a uniformly random 6 digit code, leading zeros kept.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func otpError(outcome OTPOutcome) error {
	switch outcome {
	case OTPNoChallenge:
		return NewError(KindPreconditionFailed, ErrCodeNoChallenge, "no verification code is pending")
	case OTPExpired:
		return NewError(KindExpired, ErrCodeOTPExpired, "verification code has expired")
	case OTPMismatch:
		return NewError(KindInvalidCredential, ErrCodeInvalidCode, "invalid verification code").WithField("code")
	}
	return nil
}
