package mysqlrepo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"portal-auth/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateEmail  = errors.New("email already registered")
)

// AccountRepository is the lookup surface the auth engine needs from the
// account table. The full CRUD resource routers live elsewhere.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uint) (*models.Account, error)
	SetGoogleLinked(ctx context.Context, id uint) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up account by email: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return &account, nil
}

// SetGoogleLinked idempotently marks the account as OAuth-linked.
func (r *accountRepository) SetGoogleLinked(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("google_linked", true)
	if res.Error != nil {
		return fmt.Errorf("failed to set google_linked: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// already true also reports zero affected rows under MySQL, so verify
		// the account actually exists before treating this as an error
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
