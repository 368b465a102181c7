package fs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ca "github.com/panyam/creatorauth"
)

func newTestStore(t *testing.T) *AccountStore {
	t.Helper()
	return NewAccountStore(t.TempDir())
}

func TestAccountStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	acct := ca.NewAccount("Alice@Example.com", time.Now())
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if acct.Version != 1 {
		t.Errorf("Expected version 1, got %d", acct.Version)
	}

	byEmail, err := store.GetAccountByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail failed: %v", err)
	}
	if byEmail.ID != acct.ID {
		t.Errorf("Expected ID %s, got %s", acct.ID, byEmail.ID)
	}

	byID, err := store.GetAccountByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Errorf("Expected normalized email, got %s", byID.Email)
	}

	if _, err := store.GetAccountByEmail(ctx, "nobody@example.com"); !errors.Is(err, ca.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if _, err := store.GetAccountByUsername(ctx, "nobody"); !errors.Is(err, ca.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestAccountStore_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.CreateAccount(ctx, ca.NewAccount("dup@example.com", time.Now())); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	err := store.CreateAccount(ctx, ca.NewAccount("DUP@example.com", time.Now()))
	if !errors.Is(err, &ca.Error{Kind: ca.KindConflict, Code: ca.ErrCodeEmailTaken}) {
		t.Errorf("Expected email_taken conflict, got %v", err)
	}
}

func TestAccountStore_UpdateVersioning(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	acct := ca.NewAccount("v@example.com", time.Now())
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	first, _ := store.GetAccountByID(ctx, acct.ID)
	second, _ := store.GetAccountByID(ctx, acct.ID)

	first.Verification.IsVerified = true
	if err := store.UpdateAccount(ctx, first); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("Expected version 2, got %d", first.Version)
	}

	second.IsAdmin = true
	if err := store.UpdateAccount(ctx, second); !errors.Is(err, ca.ErrConcurrentUpdate) {
		t.Errorf("Expected concurrent update conflict, got %v", err)
	}

	stored, _ := store.GetAccountByID(ctx, acct.ID)
	if !stored.Verification.IsVerified || stored.IsAdmin {
		t.Errorf("Stale write should not have been applied: %+v", stored)
	}
}

func TestAccountStore_UsernameIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := ca.NewAccount("a@example.com", time.Now())
	b := ca.NewAccount("b@example.com", time.Now())
	for _, acct := range []*ca.Account{a, b} {
		if err := store.CreateAccount(ctx, acct); err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
	}

	a.Username = "Creator"
	if err := store.UpdateAccount(ctx, a); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}

	found, err := store.GetAccountByUsername(ctx, "creator")
	if err != nil {
		t.Fatalf("GetAccountByUsername failed: %v", err)
	}
	if found.ID != a.ID {
		t.Errorf("Expected %s, got %s", a.ID, found.ID)
	}

	b.Username = "CREATOR"
	err = store.UpdateAccount(ctx, b)
	if !errors.Is(err, &ca.Error{Kind: ca.KindConflict, Code: ca.ErrCodeUsernameTaken}) {
		t.Errorf("Expected username_taken conflict, got %v", err)
	}
}

func TestAccountStore_EmailChangeMovesIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	acct := ca.NewAccount("old@example.com", time.Now())
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	acct.Email = "new@example.com"
	if err := store.UpdateAccount(ctx, acct); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}

	if _, err := store.GetAccountByEmail(ctx, "old@example.com"); !errors.Is(err, ca.ErrNotFound) {
		t.Errorf("Old email should be released, got %v", err)
	}
	if _, err := store.GetAccountByEmail(ctx, "new@example.com"); err != nil {
		t.Errorf("New email should resolve: %v", err)
	}
	if err := store.CreateAccount(ctx, ca.NewAccount("old@example.com", time.Now())); err != nil {
		t.Errorf("Old email should be reusable: %v", err)
	}
}

func TestAccountStore_ConcurrentCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.CreateAccount(ctx, ca.NewAccount("race@example.com", time.Now()))
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		} else if !errors.Is(err, ca.ErrConflict) {
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("Expected exactly one successful create, got %d", successes)
	}
}

func TestAccountStore_ListAccounts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now()
	for i, email := range []string{"1@example.com", "2@example.com", "3@example.com"} {
		if err := store.CreateAccount(ctx, ca.NewAccount(email, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
	}

	page, total, err := store.ListAccounts(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected total 3, got %d", total)
	}
	if len(page) != 1 || page[0].Email != "2@example.com" {
		t.Errorf("Expected second account, got %+v", page)
	}

	empty, _, err := store.ListAccounts(ctx, 10, 5)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty page, got %v / %v", empty, err)
	}

	if _, _, err := store.ListAccounts(ctx, -5, 5); !errors.Is(err, ca.ErrValidation) {
		t.Errorf("Expected validation error for negative offset, got %v", err)
	}
}

func TestAccountStore_LinksRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	acct := ca.NewAccount("links@example.com", time.Now())
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	acct.SetLink(ca.ProviderYouTube, ca.SocialLink{ExternalID: "UC123", AccessToken: "at", RefreshToken: "rt", ExpiresAt: &expiry})
	acct.Identities["google"] = "sub-1"
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	got, err := store.GetAccountByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	link, ok := got.Link(ca.ProviderYouTube)
	if !ok || link.RefreshToken != "rt" || link.ExpiresAt == nil || !link.ExpiresAt.Equal(expiry) {
		t.Errorf("Link did not round trip: %+v", link)
	}
	if got.Identities["google"] != "sub-1" {
		t.Errorf("Identities did not round trip: %+v", got.Identities)
	}
}
