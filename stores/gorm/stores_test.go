//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ca "github.com/panyam/creatorauth"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "accounts.db") + "?_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestAccountStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	acct := ca.NewAccount("Creator@Example.com", time.Now())
	require.NoError(t, store.CreateAccount(ctx, acct))
	assert.Equal(t, 1, acct.Version)
	assert.Equal(t, "creator@example.com", acct.Email)

	got, err := store.GetAccountByEmail(ctx, "CREATOR@example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.False(t, got.Verification.IsVerified)
	assert.Empty(t, got.Username)

	_, err = store.GetAccountByID(ctx, "missing")
	assert.ErrorIs(t, err, ca.ErrNotFound)
}

func TestAccountStore_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	require.NoError(t, store.CreateAccount(ctx, ca.NewAccount("dup@example.com", time.Now())))
	err := store.CreateAccount(ctx, ca.NewAccount("dup@example.com", time.Now()))
	assert.ErrorIs(t, err, &ca.Error{Kind: ca.KindConflict, Code: ca.ErrCodeEmailTaken})
}

func TestAccountStore_UsernameUnique(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	a := ca.NewAccount("a@example.com", time.Now())
	b := ca.NewAccount("b@example.com", time.Now())
	require.NoError(t, store.CreateAccount(ctx, a))
	require.NoError(t, store.CreateAccount(ctx, b))

	a.Username = "Creator_1"
	require.NoError(t, store.UpdateAccount(ctx, a))
	assert.Equal(t, 2, a.Version)

	found, err := store.GetAccountByUsername(ctx, "creator_1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
	assert.Equal(t, "Creator_1", found.Username)

	b.Username = "CREATOR_1"
	err = store.UpdateAccount(ctx, b)
	assert.ErrorIs(t, err, &ca.Error{Kind: ca.KindConflict, Code: ca.ErrCodeUsernameTaken})
}

func TestAccountStore_StaleUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	acct := ca.NewAccount("stale@example.com", time.Now())
	require.NoError(t, store.CreateAccount(ctx, acct))

	first, err := store.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	second, err := store.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)

	first.PasswordHash = "hash-1"
	require.NoError(t, store.UpdateAccount(ctx, first))

	second.PasswordHash = "hash-2"
	assert.ErrorIs(t, store.UpdateAccount(ctx, second), ca.ErrConcurrentUpdate)

	stored, err := store.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", stored.PasswordHash)
	assert.Equal(t, 2, stored.Version)

	ghost := ca.NewAccount("ghost@example.com", time.Now())
	ghost.Version = 1
	assert.ErrorIs(t, store.UpdateAccount(ctx, ghost), ca.ErrNotFound)
}

func TestAccountStore_LinksReplaced(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	acct := ca.NewAccount("links@example.com", time.Now())
	acct.Identities["google"] = "sub-42"
	require.NoError(t, store.CreateAccount(ctx, acct))

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	acct.SetLink(ca.ProviderYouTube, ca.SocialLink{ExternalID: "UC1", AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: &expiry})
	acct.SetLink(ca.ProviderTwitter, ca.SocialLink{ExternalID: "tw1", AccessToken: "at-2"})
	require.NoError(t, store.UpdateAccount(ctx, acct))

	got, err := store.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ca.ProviderID{ca.ProviderYouTube, ca.ProviderTwitter}, got.LinkedProviderIDs())
	assert.Equal(t, "sub-42", got.Identities["google"])
	yt, _ := got.Link(ca.ProviderYouTube)
	assert.Equal(t, "rt-1", yt.RefreshToken)
	require.NotNil(t, yt.ExpiresAt)
	assert.True(t, yt.ExpiresAt.Equal(expiry))

	delete(got.LinkedProviders, ca.ProviderTwitter)
	require.NoError(t, store.UpdateAccount(ctx, got))

	again, err := store.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, []ca.ProviderID{ca.ProviderYouTube}, again.LinkedProviderIDs())
}

func TestAccountStore_ListAccounts(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		acct := ca.NewAccount(string(rune('a'+i))+"@example.com", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.CreateAccount(ctx, acct))
	}

	page, total, err := store.ListAccounts(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c@example.com", page[0].Email)
	assert.Equal(t, "d@example.com", page[1].Email)

	_, _, err = store.ListAccounts(ctx, -1, 2)
	assert.Equal(t, ca.KindValidation, ca.KindOf(err))
}
