//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	ca "github.com/panyam/creatorauth"
)

// AutoMigrate creates the account tables. Postgres deployments use the
// embedded goose migrations instead (see OpenPostgres).
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&SocialLinkModel{},
	)
}

// AccountStore implements ca.AccountStore using GORM
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// translateError maps unique violations to Conflict errors. Postgres reports
// the violated constraint by name; SQLite only in the message.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return duplicateError(pgErr.ConstraintName)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return duplicateError(err.Error())
	}
	return err
}

func duplicateError(detail string) error {
	if strings.Contains(detail, "username") {
		return ca.UsernameTaken()
	}
	return ca.EmailTaken()
}

func (s *AccountStore) CreateAccount(ctx context.Context, acct *ca.Account) error {
	now := time.Now()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now
	acct.Version = 1
	model := AccountToModel(acct)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		acct.Version = 0
		return translateError(err)
	}
	acct.Email = model.Email
	return nil
}

func (s *AccountStore) getBy(ctx context.Context, query string, arg any) (*ca.Account, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).Preload("Links").First(&model, query, arg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ca.AccountNotFound()
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*ca.Account, error) {
	return s.getBy(ctx, "id = ?", id)
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*ca.Account, error) {
	return s.getBy(ctx, "email = ?", ca.NormalizeEmail(email))
}

func (s *AccountStore) GetAccountByUsername(ctx context.Context, username string) (*ca.Account, error) {
	key := ca.UsernameKey(username)
	if key == "" {
		return nil, ca.AccountNotFound()
	}
	return s.getBy(ctx, "username_key = ?", key)
}

// UpdateAccount writes the account and replaces its links in one transaction.
// The version check is part of the UPDATE's WHERE clause.
func (s *AccountStore) UpdateAccount(ctx context.Context, acct *ca.Account) error {
	model := AccountToModel(acct)
	model.UpdatedAt = time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AccountModel{}).
			Where("id = ? AND version = ?", acct.ID, acct.Version).
			Updates(map[string]any{
				"email":          model.Email,
				"username":       model.Username,
				"username_key":   model.UsernameKey,
				"password_hash":  model.PasswordHash,
				"is_verified":    model.IsVerified,
				"is_admin":       model.IsAdmin,
				"otp_code":       model.OTPCode,
				"otp_purpose":    model.OTPPurpose,
				"otp_expires_at": model.OTPExpiresAt,
				"identities":     model.Identities,
				"updated_at":     model.UpdatedAt,
				"version":        acct.Version + 1,
			})
		if res.Error != nil {
			return translateError(res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&AccountModel{}).Where("id = ?", acct.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ca.AccountNotFound()
			}
			return ca.StaleVersion()
		}

		if err := tx.Where("account_id = ?", acct.ID).Delete(&SocialLinkModel{}).Error; err != nil {
			return err
		}
		if len(model.Links) > 0 {
			if err := tx.Create(&model.Links).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	acct.Email = model.Email
	acct.UpdatedAt = model.UpdatedAt
	acct.Version++
	return nil
}

func (s *AccountStore) ListAccounts(ctx context.Context, offset, limit int) ([]*ca.Account, int, error) {
	if offset < 0 {
		return nil, 0, ca.ValidationError(ca.ErrCodeInvalidRequest, "offset", "offset must not be negative")
	}
	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&AccountModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := db.Preload("Links").Order("created_at, id").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []AccountModel
	if err := q.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*ca.Account, len(models))
	for i := range models {
		out[i] = models[i].ToAccount()
	}
	return out, int(total), nil
}
