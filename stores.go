package creatorauth

import (
	"context"
	"errors"
)

// AccountStore persists accounts. Implementations must enforce unique email
// and unique username key at the storage level and report violations as
// Conflict errors (ErrCodeEmailTaken / ErrCodeUsernameTaken).
type AccountStore interface {
	// CreateAccount inserts acct and sets its Version to 1.
	CreateAccount(ctx context.Context, acct *Account) error

	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)

	// UpdateAccount replaces the stored record if its version still equals
	// acct.Version, then increments acct.Version. A stale version fails with
	// ErrConcurrentUpdate.
	UpdateAccount(ctx context.Context, acct *Account) error

	// ListAccounts returns accounts ordered by creation time and the total count.
	ListAccounts(ctx context.Context, offset, limit int) ([]*Account, int, error)
}

// Store errors shared by the adapters
func AccountNotFound() *Error {
	return NotFoundError(ErrCodeAccountNotFound, "account not found")
}

func EmailTaken() *Error {
	return ConflictError(ErrCodeEmailTaken, "email is already registered").WithField("email")
}

func UsernameTaken() *Error {
	return ConflictError(ErrCodeUsernameTaken, "username is already taken").WithField("username")
}

func StaleVersion() *Error {
	return ConflictError(ErrCodeConcurrentUpdate, "account was modified concurrently")
}

// errNoChange tells mutateAccount that fn found nothing to write.
var errNoChange = errors.New("no change")

// mutateAccount applies fn to a fresh copy of the account and saves it,
// retrying a few times when another writer got there first.
func mutateAccount(ctx context.Context, store AccountStore, id string, fn func(*Account) error) (*Account, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		acct, err := store.GetAccountByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(acct); err != nil {
			if errors.Is(err, errNoChange) {
				return acct, nil
			}
			return nil, err
		}
		err = store.UpdateAccount(ctx, acct)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
