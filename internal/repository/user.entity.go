package repository

import (
	"time"

	"github.com/nimasrn/credits-gateway/internal/model"
)

type UserEntity struct {
	ID           int64      `db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	Email        string     `db:"email"         gorm:"column:email;not null;unique"`
	ReferralCode string     `db:"referral_code" gorm:"column:referral_code;not null;unique"`
	ReferredBy   *int64     `db:"referred_by"   gorm:"column:referred_by"`
	LoginStreak  int        `db:"login_streak"  gorm:"column:login_streak;not null;default:0"`
	LastLoginAt  *time.Time `db:"last_login_at" gorm:"column:last_login_at"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserEntity(m *model.User) *UserEntity {
	if m == nil {
		return nil
	}
	return &UserEntity{
		ID:           m.ID,
		Email:        m.Email,
		ReferralCode: m.ReferralCode,
		ReferredBy:   m.ReferredBy,
		LoginStreak:  m.LoginStreak,
		LastLoginAt:  m.LastLoginAt,
	}
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:           e.ID,
		Email:        e.Email,
		ReferralCode: e.ReferralCode,
		ReferredBy:   e.ReferredBy,
		LoginStreak:  e.LoginStreak,
		LastLoginAt:  e.LastLoginAt,
	}
}
