package creatorauth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the fixed work factor for password hashes.
const DefaultBcryptCost = 10

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (h BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// PasswordPolicy requires MinLength characters including an uppercase letter,
// a lowercase letter and a digit or one of !@#$%^&*.
type PasswordPolicy struct {
	MinLength int
}

var DefaultPasswordPolicy = PasswordPolicy{MinLength: 8}

func (p PasswordPolicy) Check(password string) error {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = 8
	}
	weak := func(msg string) error {
		return ValidationError(ErrCodeWeakPassword, "password", msg)
	}
	if utf8.RuneCountInString(password) < minLen {
		return weak(fmt.Sprintf("password must be at least %d characters", minLen))
	}
	// bcrypt ignores everything past 72 bytes
	if len(password) > 72 {
		return weak("password must be at most 72 bytes")
	}
	var upper, lower, digitOrSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r) || strings.ContainsRune("!@#$%^&*", r):
			digitOrSymbol = true
		}
	}
	if !upper || !lower || !digitOrSymbol {
		return weak("password must contain an uppercase letter, a lowercase letter and a digit or symbol")
	}
	return nil
}

// ValidateUsername checks the username format: 3-20 chars of letters, digits, underscore and hyphen.
func ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 20 {
		return ValidationError(ErrCodeInvalidUsername, "username", "username must be 3-20 characters")
	}
	if !usernameRegex.MatchString(username) {
		return ValidationError(ErrCodeInvalidUsername, "username", "username can only contain letters, numbers, underscores, and hyphens")
	}
	return nil
}

// CredentialBinder enforces the ordering and uniqueness rules for attaching
// a username and a password to an account. It mutates the in-memory account;
// the store's unique index on the username key is the final arbiter when the
// caller persists it.
type CredentialBinder struct {
	Store  AccountStore
	Hasher Hasher
	Policy PasswordPolicy
}

// BindUsername sets the username once on a verified account.
func (b *CredentialBinder) BindUsername(ctx context.Context, acct *Account, candidate string) error {
	if !acct.Verification.IsVerified {
		return NewError(KindPreconditionFailed, ErrCodeNotVerified, "email must be verified before choosing a username")
	}
	if acct.Username != "" {
		return NewError(KindPreconditionFailed, ErrCodeUsernameAlreadySet, "username is already set")
	}
	candidate = strings.TrimSpace(candidate)
	if err := ValidateUsername(candidate); err != nil {
		return err
	}

	holder, err := b.Store.GetAccountByUsername(ctx, candidate)
	switch {
	case err == nil && holder.ID != acct.ID:
		return ConflictError(ErrCodeUsernameTaken, "username is already taken").WithField("username")
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}
	acct.Username = candidate
	return nil
}

// BindPassword hashes and stores password. A username must already be bound.
// allowReplace lets profile updates and resets overwrite an existing hash.
func (b *CredentialBinder) BindPassword(acct *Account, password string, allowReplace bool) error {
	if acct.Username == "" {
		return NewError(KindPreconditionFailed, ErrCodeUsernameRequired, "a username must be set before a password")
	}
	if acct.PasswordHash != "" && !allowReplace {
		return NewError(KindPreconditionFailed, ErrCodePasswordAlreadySet, "password is already set")
	}
	if err := b.Policy.Check(password); err != nil {
		return err
	}
	hash, err := b.hasher().Hash(password)
	if err != nil {
		return err
	}
	acct.PasswordHash = hash
	return nil
}

// CheckPassword compares password with the stored hash.
func (b *CredentialBinder) CheckPassword(acct *Account, password string) bool {
	if acct.PasswordHash == "" {
		return false
	}
	return b.hasher().Compare(acct.PasswordHash, password) == nil
}

func (b *CredentialBinder) hasher() Hasher {
	if b.Hasher == nil {
		return BcryptHasher{Cost: DefaultBcryptCost}
	}
	return b.Hasher
}
