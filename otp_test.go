package creatorauth_test

import (
	"regexp"
	"testing"
	"time"

	ca "github.com/panyam/creatorauth"
)

func TestGenerateOTP(t *testing.T) {
	format := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 200; i++ {
		code, err := ca.GenerateOTP()
		if err != nil {
			t.Fatal(err)
		}
		if !format.MatchString(code) {
			t.Fatalf("unexpected code %q", code)
		}
	}
}

func TestChallengeManager_Issue(t *testing.T) {
	clock := newClock()
	n := 0
	m := &ca.ChallengeManager{Validity: 10 * time.Minute, Now: clock.Now, Generate: func() (string, error) {
		n++
		return []string{"000123", "654321", "111111"}[n-1], nil
	}}
	acct := ca.NewAccount("otp@example.com", clock.Now())

	ch, existing, err := m.Issue(acct, ca.PurposeSignup)
	if err != nil || existing || ch.Code != "000123" {
		t.Fatalf("unexpected first issue %+v existing=%v err=%v", ch, existing, err)
	}

	// still valid: same code comes back
	clock.Advance(5 * time.Minute)
	ch, existing, _ = m.Issue(acct, ca.PurposeSignup)
	if !existing || ch.Code != "000123" {
		t.Errorf("expected the pending code to be reused, got %+v", ch)
	}

	// another purpose replaces it
	ch, existing, _ = m.Issue(acct, ca.PurposePasswordReset)
	if existing || ch.Code != "654321" || acct.Verification.OTPPurpose != ca.PurposePasswordReset {
		t.Errorf("expected a reset code, got %+v", ch)
	}

	clock.Advance(11 * time.Minute)
	ch, existing, _ = m.Issue(acct, ca.PurposePasswordReset)
	if existing || ch.Code != "111111" {
		t.Errorf("expected a new code after expiry, got %+v", ch)
	}
	if want := clock.Now().Add(10 * time.Minute); !ch.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, ch.ExpiresAt)
	}
}

func TestChallengeManager_Validate(t *testing.T) {
	clock := newClock()
	m := &ca.ChallengeManager{Now: clock.Now, Generate: func() (string, error) { return "424242", nil }}

	tests := []struct {
		name    string
		purpose ca.OTPPurpose
		code    string
		advance time.Duration
		want    ca.OTPOutcome
	}{
		{"valid", ca.PurposeSignup, "424242", 0, ca.OTPValid},
		{"mismatch", ca.PurposeSignup, "424243", 0, ca.OTPMismatch},
		{"wrong purpose", ca.PurposePasswordReset, "424242", 0, ca.OTPNoChallenge},
		{"at expiry", ca.PurposeSignup, "424242", ca.DefaultOTPValidity, ca.OTPValid},
		{"expired", ca.PurposeSignup, "424242", ca.DefaultOTPValidity + time.Second, ca.OTPExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := ca.NewAccount("v@example.com", clock.Now())
			if _, _, err := m.Issue(acct, ca.PurposeSignup); err != nil {
				t.Fatal(err)
			}
			m.Now = func() time.Time { return clock.Now().Add(tt.advance) }
			defer func() { m.Now = clock.Now }()

			if got := m.Validate(acct, tt.purpose, tt.code); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if cleared := !acct.Verification.HasChallenge(); cleared != (tt.want == ca.OTPValid) {
				t.Errorf("challenge cleared=%v for outcome %s", cleared, tt.want)
			}
		})
	}

	acct := ca.NewAccount("none@example.com", clock.Now())
	if got := m.Validate(acct, ca.PurposeSignup, "424242"); got != ca.OTPNoChallenge {
		t.Errorf("expected no_challenge, got %s", got)
	}
}
