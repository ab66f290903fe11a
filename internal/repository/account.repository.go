package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

type AccountRepository struct {
	*pg.DB
}

func NewAccountRepository(db *pg.DB) *AccountRepository {
	return &AccountRepository{
		db,
	}
}

func (r *AccountRepository) Create(ctx context.Context, acc *model.Account) (*model.Account, error) {
	entity := toAccountEntity(acc)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toAccountModel(entity), nil
}

func (r *AccountRepository) Get(ctx context.Context, userID int64) (*model.Account, error) {
	var entity AccountEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return toAccountModel(&entity), nil
}

func (r *AccountRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var entity AccountEntity
	err := r.Read(ctx).WithContext(ctx).
		Select("credits").
		Where("user_id = ?", userID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	return entity.Credits, nil
}

// DeductBalance decrements credits by amount only when the balance covers
// it, in a single conditional UPDATE. Concurrent deductions against an
// insufficient balance therefore resolve so that exactly as many succeed as
// the balance supports; the rest land here with zero rows affected.
func (r *AccountRepository) DeductBalance(ctx context.Context, userID int64, amount int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&AccountEntity{}).
		Where("user_id = ? AND credits >= ?", userID, amount).
		Updates(map[string]interface{}{
			"credits":     gorm.Expr("credits - ?", amount),
			"total_spent": gorm.Expr("total_spent + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return r.checkDeductionFailureReason(ctx, userID, amount)
	}

	return nil
}

// checkDeductionFailureReason determines why the conditional update matched
// no row: a missing account or a balance below the requested amount.
func (r *AccountRepository) checkDeductionFailureReason(ctx context.Context, userID int64, amount int64) error {
	var entity AccountEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	if entity.Credits < amount {
		return ErrInsufficientCredits
	}

	return ErrAccountNotFound
}

// AddBalance increments credits and the earned counter. Additions cannot
// violate the non-negative invariant, so no condition beyond row existence.
func (r *AccountRepository) AddBalance(ctx context.Context, userID int64, amount int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&AccountEntity{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"credits":      gorm.Expr("credits + ?", amount),
			"total_earned": gorm.Expr("total_earned + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
