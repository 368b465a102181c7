package creatorauth

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// LinkedProvider is the public view of a SocialLink; tokens are never exposed.
type LinkedProvider struct {
	Provider   ProviderID `json:"provider"`
	ExternalID string     `json:"external_id"`
	LinkedAt   time.Time  `json:"linked_at"`
}

// Profile is the public view of an account.
type Profile struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	Username        string           `json:"username,omitempty"`
	IsVerified      bool             `json:"is_verified"`
	IsAdmin         bool             `json:"is_admin"`
	HasPassword     bool             `json:"has_password"`
	LinkedProviders []LinkedProvider `json:"linked_providers"`
	CreatedAt       time.Time        `json:"created_at"`
}

func ProfileOf(a *Account) Profile {
	p := Profile{
		ID:              a.ID,
		Email:           a.Email,
		Username:        a.Username,
		IsVerified:      a.Verification.IsVerified,
		IsAdmin:         a.IsAdmin,
		HasPassword:     a.HasPassword(),
		LinkedProviders: []LinkedProvider{},
		CreatedAt:       a.CreatedAt,
	}
	for _, id := range a.LinkedProviderIDs() {
		link := a.LinkedProviders[id]
		p.LinkedProviders = append(p.LinkedProviders, LinkedProvider{Provider: id, ExternalID: link.ExternalID, LinkedAt: link.LinkedAt})
	}
	return p
}

func (m *IdentityMachine) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	acct, err := m.Store.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := ProfileOf(acct)
	return &p, nil
}

// UpdateProfileRequest carries optional changes; nil fields are left alone.
type UpdateProfileRequest struct {
	Email    *string `json:"email,omitempty"`
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (r *UpdateProfileRequest) Validate() error {
	if r.Email != nil {
		if err := normalizeAndCheckEmail(r.Email); err != nil {
			return err
		}
	}
	if r.Username != nil {
		u := strings.TrimSpace(*r.Username)
		r.Username = &u
		if err := ValidateUsername(u); err != nil {
			return err
		}
	}
	if r.Password != nil {
		return requireField(*r.Password, "password")
	}
	return nil
}

// UpdateProfile applies profile changes. A username can be set once but never
// changed. Changing the email resets verification.
func (m *IdentityMachine) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*Profile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := m.Store.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Username != nil {
		switch {
		case acct.Username == "":
			if err := m.Credentials.BindUsername(ctx, acct, *req.Username); err != nil {
				return nil, err
			}
		case UsernameKey(acct.Username) != UsernameKey(*req.Username):
			return nil, NewError(KindPreconditionFailed, ErrCodeUsernameImmutable, "username cannot be changed").WithField("username")
		}
	}

	if req.Password != nil {
		if err := m.Credentials.BindPassword(acct, *req.Password, true); err != nil {
			return nil, err
		}
	}

	if req.Email != nil && *req.Email != acct.Email {
		holder, err := m.Store.GetAccountByEmail(ctx, *req.Email)
		switch {
		case err == nil && holder.ID != acct.ID:
			return nil, EmailTaken()
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		}
		acct.Email = *req.Email
		acct.Verification.IsVerified = false
		ClearChallenge(acct)
	}

	if err := m.Store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	p := ProfileOf(acct)
	return &p, nil
}

// Page selects a slice of a listing. Number starts at 1.
type Page struct {
	Number int
	Size   int
}

const maxPageSize = 100

func (p Page) normalized() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 10
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	// keeps (Number-1)*Size within int
	if p.Number > math.MaxInt/p.Size {
		p.Number = math.MaxInt / p.Size
	}
	return p
}

type AccountPage struct {
	Accounts []Profile `json:"accounts"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Pages    int       `json:"pages"`
}

// ListAccounts pages through all accounts. Only admins may call it.
func (m *IdentityMachine) ListAccounts(ctx context.Context, requesterID string, page Page) (*AccountPage, error) {
	requester, err := m.Store.GetAccountByID(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if !requester.IsAdmin {
		return nil, NewError(KindForbidden, ErrCodeNotAdmin, "admin access required")
	}

	page = page.normalized()
	accts, total, err := m.Store.ListAccounts(ctx, (page.Number-1)*page.Size, page.Size)
	if err != nil {
		return nil, err
	}
	out := &AccountPage{
		Accounts: make([]Profile, 0, len(accts)),
		Total:    total,
		Page:     page.Number,
		Pages:    (total + page.Size - 1) / page.Size,
	}
	for _, a := range accts {
		out.Accounts = append(out.Accounts, ProfileOf(a))
	}
	return out, nil
}
