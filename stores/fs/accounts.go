package fs

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ca "github.com/panyam/creatorauth"
)

// indexEntry maps a unique key (email or username) to the owning account
type indexEntry struct {
	Key       string    `json:"key"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountStore implements ca.AccountStore using filesystem storage.
//
// # File Structure
//
//	{StoragePath}/
//	├── accounts/
//	│   └── {id}.json          # the full account record
//	├── emails/
//	│   └── {email}.json       # {"key": "a@example.com", "account_id": "..."}
//	└── usernames/
//	    └── {username_key}.json
//
// # Concurrency Model
//
// All writes go through one mutex, which makes the email and username index
// files unique within a process and lets UpdateAccount compare versions
// before writing. Each file is written atomically (temp file + rename).
// Running several processes against the same directory is not supported.
//
// # Setup
//
//	store := fs.NewAccountStore("/var/data/creatorauth")
//	machine := creatorauth.NewIdentityMachine(cfg, store, mailer)
type AccountStore struct {
	StoragePath string
	mu          sync.Mutex
}

// NewAccountStore creates a new filesystem-backed AccountStore
func NewAccountStore(storagePath string) *AccountStore {
	return &AccountStore{StoragePath: storagePath}
}

func (s *AccountStore) accountPath(id string) string {
	return filepath.Join(s.StoragePath, "accounts", filepath.Base(id)+".json")
}

func (s *AccountStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", url.PathEscape(email)+".json")
}

func (s *AccountStore) usernamePath(key string) string {
	return filepath.Join(s.StoragePath, "usernames", url.PathEscape(key)+".json")
}

func (s *AccountStore) readAccount(id string) (*ca.Account, error) {
	var acct ca.Account
	found, err := readJSON(s.accountPath(id), &acct)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ca.AccountNotFound()
	}
	return &acct, nil
}

// lookup resolves an index file to its account id, "" when absent
func (s *AccountStore) lookup(path string) (string, error) {
	var entry indexEntry
	found, err := readJSON(path, &entry)
	if err != nil || !found {
		return "", err
	}
	return entry.AccountID, nil
}

func (s *AccountStore) CreateAccount(ctx context.Context, acct *ca.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := ca.NormalizeEmail(acct.Email)
	if owner, err := s.lookup(s.emailPath(email)); err != nil {
		return err
	} else if owner != "" {
		return ca.EmailTaken()
	}
	var usernameKey string
	if acct.Username != "" {
		usernameKey = ca.UsernameKey(acct.Username)
		if owner, err := s.lookup(s.usernamePath(usernameKey)); err != nil {
			return err
		} else if owner != "" {
			return ca.UsernameTaken()
		}
	}

	now := time.Now()
	acct.Email = email
	acct.Version = 1
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now
	if err := writeJSON(s.accountPath(acct.ID), acct); err != nil {
		return err
	}
	if err := writeJSON(s.emailPath(email), indexEntry{Key: email, AccountID: acct.ID, CreatedAt: now}); err != nil {
		return err
	}
	if usernameKey != "" {
		return writeJSON(s.usernamePath(usernameKey), indexEntry{Key: usernameKey, AccountID: acct.ID, CreatedAt: now})
	}
	return nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*ca.Account, error) {
	return s.readAccount(id)
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*ca.Account, error) {
	id, err := s.lookup(s.emailPath(ca.NormalizeEmail(email)))
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ca.AccountNotFound()
	}
	return s.readAccount(id)
}

func (s *AccountStore) GetAccountByUsername(ctx context.Context, username string) (*ca.Account, error) {
	key := ca.UsernameKey(username)
	if key == "" {
		return nil, ca.AccountNotFound()
	}
	id, err := s.lookup(s.usernamePath(key))
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ca.AccountNotFound()
	}
	return s.readAccount(id)
}

func (s *AccountStore) UpdateAccount(ctx context.Context, acct *ca.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readAccount(acct.ID)
	if err != nil {
		return err
	}
	if current.Version != acct.Version {
		return ca.StaleVersion()
	}

	now := time.Now()
	email := ca.NormalizeEmail(acct.Email)
	emailChanged := email != current.Email
	if emailChanged {
		if owner, err := s.lookup(s.emailPath(email)); err != nil {
			return err
		} else if owner != "" && owner != acct.ID {
			return ca.EmailTaken()
		}
	}
	oldKey, newKey := ca.UsernameKey(current.Username), ca.UsernameKey(acct.Username)
	usernameChanged := oldKey != newKey
	if usernameChanged && newKey != "" {
		if owner, err := s.lookup(s.usernamePath(newKey)); err != nil {
			return err
		} else if owner != "" && owner != acct.ID {
			return ca.UsernameTaken()
		}
	}

	acct.Email = email
	acct.Version = current.Version + 1
	acct.UpdatedAt = now
	if err := writeJSON(s.accountPath(acct.ID), acct); err != nil {
		acct.Version = current.Version
		return err
	}

	if emailChanged {
		if err := writeJSON(s.emailPath(email), indexEntry{Key: email, AccountID: acct.ID, CreatedAt: now}); err != nil {
			return err
		}
		os.Remove(s.emailPath(current.Email))
	}
	if usernameChanged {
		if newKey != "" {
			if err := writeJSON(s.usernamePath(newKey), indexEntry{Key: newKey, AccountID: acct.ID, CreatedAt: now}); err != nil {
				return err
			}
		}
		if oldKey != "" {
			os.Remove(s.usernamePath(oldKey))
		}
	}
	return nil
}

func (s *AccountStore) ListAccounts(ctx context.Context, offset, limit int) ([]*ca.Account, int, error) {
	if offset < 0 {
		return nil, 0, ca.ValidationError(ca.ErrCodeInvalidRequest, "offset", "offset must not be negative")
	}
	dir := filepath.Join(s.StoragePath, "accounts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*ca.Account{}, 0, nil
		}
		return nil, 0, err
	}

	var all []*ca.Account
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		acct, err := s.readAccount(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		all = append(all, acct)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*ca.Account{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}
