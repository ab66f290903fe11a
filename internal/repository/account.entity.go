package repository

import (
	"github.com/nimasrn/credits-gateway/internal/model"
)

type AccountEntity struct {
	UserID      int64 `db:"user_id"      gorm:"primaryKey;column:user_id"`
	Credits     int64 `db:"credits"      gorm:"column:credits;not null;default:0"`
	TotalEarned int64 `db:"total_earned" gorm:"column:total_earned;not null;default:0"`
	TotalSpent  int64 `db:"total_spent"  gorm:"column:total_spent;not null;default:0"`
}

func (AccountEntity) TableName() string {
	return "accounts"
}

func toAccountEntity(m *model.Account) *AccountEntity {
	if m == nil {
		return nil
	}
	return &AccountEntity{
		UserID:      m.UserID,
		Credits:     m.Credits,
		TotalEarned: m.TotalEarned,
		TotalSpent:  m.TotalSpent,
	}
}

func toAccountModel(e *AccountEntity) *model.Account {
	if e == nil {
		return nil
	}
	return &model.Account{
		UserID:      e.UserID,
		Credits:     e.Credits,
		TotalEarned: e.TotalEarned,
		TotalSpent:  e.TotalSpent,
	}
}
