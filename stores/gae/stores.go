//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ca "github.com/panyam/creatorauth"
)

// Kind constants for Datastore entities
const (
	KindAccount         = "Account"
	KindAccountEmail    = "AccountEmail"
	KindAccountUsername = "AccountUsername"
)

// AccountStore implements ca.AccountStore using Google Cloud Datastore
type AccountStore struct {
	client    *datastore.Client
	namespace string
}

// NewAccountStore creates a new Datastore-backed AccountStore
func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *AccountStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

// indexOwner returns the account id holding an index key, "" when free
func indexOwner(tx *datastore.Transaction, key *datastore.Key) (string, error) {
	var idx IndexEntity
	if err := tx.Get(key, &idx); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return "", nil
		}
		return "", err
	}
	return idx.AccountID, nil
}

func (s *AccountStore) CreateAccount(ctx context.Context, acct *ca.Account) error {
	now := time.Now()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now
	acct.Version = 1

	key := s.namespacedKey(KindAccount, acct.ID)
	entity, err := AccountToEntity(acct, key)
	if err != nil {
		return err
	}

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		emailKey := s.namespacedKey(KindAccountEmail, entity.Email)
		if owner, err := indexOwner(tx, emailKey); err != nil {
			return err
		} else if owner != "" {
			return ca.EmailTaken()
		}
		if entity.UsernameKey != "" {
			usernameKey := s.namespacedKey(KindAccountUsername, entity.UsernameKey)
			if owner, err := indexOwner(tx, usernameKey); err != nil {
				return err
			} else if owner != "" {
				return ca.UsernameTaken()
			}
			if _, err := tx.Put(usernameKey, &IndexEntity{AccountID: acct.ID, CreatedAt: now}); err != nil {
				return err
			}
		}
		if _, err := tx.Put(emailKey, &IndexEntity{AccountID: acct.ID, CreatedAt: now}); err != nil {
			return err
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		acct.Version = 0
		return err
	}
	acct.Email = entity.Email
	return nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*ca.Account, error) {
	var entity AccountEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindAccount, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ca.AccountNotFound()
		}
		return nil, err
	}
	return entity.ToAccount()
}

func (s *AccountStore) getByIndex(ctx context.Context, kind, value string) (*ca.Account, error) {
	if value == "" {
		return nil, ca.AccountNotFound()
	}
	var idx IndexEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, value), &idx); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ca.AccountNotFound()
		}
		return nil, err
	}
	return s.GetAccountByID(ctx, idx.AccountID)
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*ca.Account, error) {
	return s.getByIndex(ctx, KindAccountEmail, ca.NormalizeEmail(email))
}

func (s *AccountStore) GetAccountByUsername(ctx context.Context, username string) (*ca.Account, error) {
	return s.getByIndex(ctx, KindAccountUsername, ca.UsernameKey(username))
}

func (s *AccountStore) UpdateAccount(ctx context.Context, acct *ca.Account) error {
	now := time.Now()
	key := s.namespacedKey(KindAccount, acct.ID)

	next := *acct
	next.Version = acct.Version + 1
	next.UpdatedAt = now
	entity, err := AccountToEntity(&next, key)
	if err != nil {
		return err
	}

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current AccountEntity
		if err := tx.Get(key, &current); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ca.AccountNotFound()
			}
			return err
		}
		if current.Version != acct.Version {
			return ca.StaleVersion()
		}

		if entity.Email != current.Email {
			emailKey := s.namespacedKey(KindAccountEmail, entity.Email)
			if owner, err := indexOwner(tx, emailKey); err != nil {
				return err
			} else if owner != "" && owner != acct.ID {
				return ca.EmailTaken()
			}
			if _, err := tx.Put(emailKey, &IndexEntity{AccountID: acct.ID, CreatedAt: now}); err != nil {
				return err
			}
			if err := tx.Delete(s.namespacedKey(KindAccountEmail, current.Email)); err != nil {
				return err
			}
		}
		if entity.UsernameKey != current.UsernameKey {
			if entity.UsernameKey != "" {
				usernameKey := s.namespacedKey(KindAccountUsername, entity.UsernameKey)
				if owner, err := indexOwner(tx, usernameKey); err != nil {
					return err
				} else if owner != "" && owner != acct.ID {
					return ca.UsernameTaken()
				}
				if _, err := tx.Put(usernameKey, &IndexEntity{AccountID: acct.ID, CreatedAt: now}); err != nil {
					return err
				}
			}
			if current.UsernameKey != "" {
				if err := tx.Delete(s.namespacedKey(KindAccountUsername, current.UsernameKey)); err != nil {
					return err
				}
			}
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		return err
	}
	acct.Email = entity.Email
	acct.UpdatedAt = now
	acct.Version = next.Version
	return nil
}

func (s *AccountStore) ListAccounts(ctx context.Context, offset, limit int) ([]*ca.Account, int, error) {
	if offset < 0 {
		return nil, 0, ca.ValidationError(ca.ErrCodeInvalidRequest, "offset", "offset must not be negative")
	}
	base := datastore.NewQuery(KindAccount).Namespace(s.namespace)
	total, err := s.client.Count(ctx, base)
	if err != nil {
		return nil, 0, err
	}

	q := base.Order("created_at").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	out := []*ca.Account{}
	it := s.client.Run(ctx, q)
	for {
		var entity AccountEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		acct, err := entity.ToAccount()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, acct)
	}
	return out, total, nil
}
