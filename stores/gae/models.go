//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"
	ca "github.com/panyam/creatorauth"
)

// AccountEntity is the Datastore entity for accounts.
// Key name is the account id.
type AccountEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Email        string         `datastore:"email"`
	Username     string         `datastore:"username"`
	UsernameKey  string         `datastore:"username_key"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	IsVerified   bool           `datastore:"is_verified"`
	IsAdmin      bool           `datastore:"is_admin"`
	OTPCode      string         `datastore:"otp_code,noindex"`
	OTPPurpose   string         `datastore:"otp_purpose,noindex"`
	OTPExpiresAt time.Time      `datastore:"otp_expires_at,noindex"`
	Links        []byte         `datastore:"links,noindex"`      // JSON encoded
	Identities   []byte         `datastore:"identities,noindex"` // JSON encoded
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
	Version      int            `datastore:"version"`
}

// IndexEntity reserves a unique value (an email or a username key) for one
// account. Key name is the value itself.
type IndexEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

func (e *AccountEntity) ToAccount() (*ca.Account, error) {
	acct := &ca.Account{
		ID:           e.Key.Name,
		Email:        e.Email,
		Username:     e.Username,
		PasswordHash: e.PasswordHash,
		Verification: ca.Verification{
			OTPCode:    e.OTPCode,
			OTPPurpose: ca.OTPPurpose(e.OTPPurpose),
			IsVerified: e.IsVerified,
		},
		IsAdmin:         e.IsAdmin,
		LinkedProviders: map[ca.ProviderID]ca.SocialLink{},
		Identities:      map[string]string{},
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		Version:         e.Version,
	}
	if !e.OTPExpiresAt.IsZero() {
		t := e.OTPExpiresAt
		acct.Verification.OTPExpiresAt = &t
	}
	if len(e.Links) > 0 {
		if err := json.Unmarshal(e.Links, &acct.LinkedProviders); err != nil {
			return nil, err
		}
	}
	if len(e.Identities) > 0 {
		if err := json.Unmarshal(e.Identities, &acct.Identities); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

func AccountToEntity(a *ca.Account, key *datastore.Key) (*AccountEntity, error) {
	e := &AccountEntity{
		Key:          key,
		Email:        ca.NormalizeEmail(a.Email),
		Username:     a.Username,
		UsernameKey:  ca.UsernameKey(a.Username),
		PasswordHash: a.PasswordHash,
		IsVerified:   a.Verification.IsVerified,
		IsAdmin:      a.IsAdmin,
		OTPCode:      a.Verification.OTPCode,
		OTPPurpose:   string(a.Verification.OTPPurpose),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Version:      a.Version,
	}
	if a.Verification.OTPExpiresAt != nil {
		e.OTPExpiresAt = *a.Verification.OTPExpiresAt
	}
	var err error
	if len(a.LinkedProviders) > 0 {
		if e.Links, err = json.Marshal(a.LinkedProviders); err != nil {
			return nil, err
		}
	}
	if len(a.Identities) > 0 {
		if e.Identities, err = json.Marshal(a.Identities); err != nil {
			return nil, err
		}
	}
	return e, nil
}
