//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	ca "github.com/panyam/creatorauth"
)

// StringMap is a helper type for storing string maps as JSON in GORM
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringMap: %T", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// AccountModel is the GORM model for accounts.
// username_key is the lower-cased username; NULL until one is chosen so the
// unique index only applies to set usernames.
type AccountModel struct {
	ID           string     `gorm:"primaryKey;size:64"`
	Email        string     `gorm:"size:255;not null;uniqueIndex"`
	Username     *string    `gorm:"size:64"`
	UsernameKey  *string    `gorm:"size:64;uniqueIndex"`
	PasswordHash string     `gorm:"size:255;not null;default:''"`
	IsVerified   bool       `gorm:"not null;default:false"`
	IsAdmin      bool       `gorm:"not null;default:false"`
	OTPCode      string     `gorm:"column:otp_code;size:16;not null;default:''"`
	OTPPurpose   string     `gorm:"column:otp_purpose;size:32;not null;default:''"`
	OTPExpiresAt *time.Time `gorm:"column:otp_expires_at"`
	Identities   StringMap  `gorm:"type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int `gorm:"not null;default:1"`

	Links []SocialLinkModel `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

// SocialLinkModel is the GORM model for linked analytics providers
type SocialLinkModel struct {
	AccountID    string `gorm:"primaryKey;size:64"`
	Provider     string `gorm:"primaryKey;size:32"`
	ExternalID   string `gorm:"size:255;not null"`
	AccessToken  string `gorm:"type:text;not null"`
	RefreshToken string `gorm:"type:text;not null;default:''"`
	ExpiresAt    *time.Time
	LinkedAt     time.Time
}

func (SocialLinkModel) TableName() string {
	return "social_links"
}

func (m *AccountModel) ToAccount() *ca.Account {
	acct := &ca.Account{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Verification: ca.Verification{
			OTPCode:      m.OTPCode,
			OTPPurpose:   ca.OTPPurpose(m.OTPPurpose),
			OTPExpiresAt: m.OTPExpiresAt,
			IsVerified:   m.IsVerified,
		},
		IsAdmin:         m.IsAdmin,
		LinkedProviders: map[ca.ProviderID]ca.SocialLink{},
		Identities:      map[string]string{},
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		Version:         m.Version,
	}
	if m.Username != nil {
		acct.Username = *m.Username
	}
	for k, v := range m.Identities {
		acct.Identities[k] = v
	}
	for _, l := range m.Links {
		acct.LinkedProviders[ca.ProviderID(l.Provider)] = ca.SocialLink{
			ExternalID:   l.ExternalID,
			AccessToken:  l.AccessToken,
			RefreshToken: l.RefreshToken,
			ExpiresAt:    l.ExpiresAt,
			LinkedAt:     l.LinkedAt,
		}
	}
	return acct
}

func AccountToModel(a *ca.Account) *AccountModel {
	m := &AccountModel{
		ID:           a.ID,
		Email:        ca.NormalizeEmail(a.Email),
		PasswordHash: a.PasswordHash,
		IsVerified:   a.Verification.IsVerified,
		IsAdmin:      a.IsAdmin,
		OTPCode:      a.Verification.OTPCode,
		OTPPurpose:   string(a.Verification.OTPPurpose),
		OTPExpiresAt: a.Verification.OTPExpiresAt,
		Identities:   StringMap(a.Identities),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Version:      a.Version,
		Links:        linksToModels(a),
	}
	if a.Username != "" {
		username := a.Username
		key := ca.UsernameKey(a.Username)
		m.Username = &username
		m.UsernameKey = &key
	}
	return m
}

func linksToModels(a *ca.Account) []SocialLinkModel {
	var out []SocialLinkModel
	for _, provider := range a.LinkedProviderIDs() {
		l := a.LinkedProviders[provider]
		out = append(out, SocialLinkModel{
			AccountID:    a.ID,
			Provider:     string(provider),
			ExternalID:   l.ExternalID,
			AccessToken:  l.AccessToken,
			RefreshToken: l.RefreshToken,
			ExpiresAt:    l.ExpiresAt,
			LinkedAt:     l.LinkedAt,
		})
	}
	return out
}
