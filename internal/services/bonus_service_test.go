package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/credits-gateway/internal/audit"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCreditGranter struct {
	mock.Mock
}

func (m *MockCreditGranter) Add(ctx context.Context, userID int64, amount int64, kind model.TransactionKind, description string, ref *model.ExternalRef) (*LedgerResult, error) {
	args := m.Called(ctx, userID, amount, kind, description, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LedgerResult), args.Error(1)
}

func newBonus(accountRepo *MockAccountRepository, unlockRepo *MockUnlockRepository, userRepo *MockUserRepository, granter *MockCreditGranter) *BonusService {
	return NewBonusService(accountRepo, unlockRepo, userRepo, granter, audit.Nop{})
}

func TestBonusService_GrantDailyBonus(t *testing.T) {
	ctx := context.Background()

	t.Run("first ever claim starts the streak", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		userRepo := new(MockUserRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, userRepo, granter)

		userRepo.On("FindByID", ctx, int64(1)).Return(&model.User{ID: 1}, nil)
		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		userRepo.On("UpdateStreak", ctx, int64(1), 1, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).Return(true, nil)
		granter.On("Add", ctx, int64(1), int64(2), model.KindDailyBonus, "daily login bonus", (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 12}, nil)

		res, err := service.GrantDailyBonus(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Streak)
		assert.Equal(t, int64(2), res.Granted)
		assert.Equal(t, int64(12), res.NewBalance)
		assert.Empty(t, res.Unlocked)
	})

	t.Run("second claim on the same day is rejected", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		userRepo := new(MockUserRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, userRepo, granter)

		now := time.Now().UTC()
		userRepo.On("FindByID", ctx, int64(1)).Return(&model.User{ID: 1, LoginStreak: 3, LastLoginAt: &now}, nil)

		res, err := service.GrantDailyBonus(ctx, 1)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrDailyBonusClaimed)

		granter.AssertNotCalled(t, "Add")
		userRepo.AssertNotCalled(t, "UpdateStreak")
	})

	t.Run("claim on the next day extends the streak", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		userRepo := new(MockUserRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, userRepo, granter)

		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		userRepo.On("FindByID", ctx, int64(1)).Return(&model.User{ID: 1, LoginStreak: 3, LastLoginAt: &yesterday}, nil)
		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		userRepo.On("UpdateStreak", ctx, int64(1), 4, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).Return(true, nil)
		granter.On("Add", ctx, int64(1), int64(2), model.KindDailyBonus, "daily login bonus", (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 14}, nil)

		res, err := service.GrantDailyBonus(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Streak)
	})

	t.Run("a missed day resets the streak", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		userRepo := new(MockUserRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, userRepo, granter)

		lastWeek := time.Now().UTC().AddDate(0, 0, -5)
		userRepo.On("FindByID", ctx, int64(1)).Return(&model.User{ID: 1, LoginStreak: 6, LastLoginAt: &lastWeek}, nil)
		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		userRepo.On("UpdateStreak", ctx, int64(1), 1, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).Return(true, nil)
		granter.On("Add", ctx, int64(1), int64(2), model.KindDailyBonus, "daily login bonus", (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 14}, nil)

		res, err := service.GrantDailyBonus(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Streak)
	})

	t.Run("losing the streak update race grants nothing", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		userRepo := new(MockUserRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, userRepo, granter)

		// The read still sees yesterday's login; by the time the update runs
		// a concurrent claim has already recorded today.
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		userRepo.On("FindByID", ctx, int64(1)).Return(&model.User{ID: 1, LoginStreak: 3, LastLoginAt: &yesterday}, nil)
		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		userRepo.On("UpdateStreak", ctx, int64(1), 4, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
			Return(false, nil)

		res, err := service.GrantDailyBonus(ctx, 1)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrDailyBonusClaimed)

		granter.AssertNotCalled(t, "Add")
	})

	t.Run("seventh consecutive day unlocks the streak achievement", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		userRepo := new(MockUserRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, userRepo, granter)

		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		userRepo.On("FindByID", ctx, int64(1)).Return(&model.User{ID: 1, LoginStreak: 6, LastLoginAt: &yesterday}, nil)
		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		userRepo.On("UpdateStreak", ctx, int64(1), 7, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).Return(true, nil)
		granter.On("Add", ctx, int64(1), int64(2), model.KindDailyBonus, "daily login bonus", (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 14}, nil)
		unlockRepo.On("TryInsert", ctx, int64(1), "week_streak").Return(true, nil)
		granter.On("Add", ctx, int64(1), int64(10), model.KindAchievement, "Seven Day Streak", (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 24}, nil)

		res, err := service.GrantDailyBonus(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 7, res.Streak)
		require.Len(t, res.Unlocked, 1)
		assert.Equal(t, "week_streak", res.Unlocked[0].RuleID)
		assert.Equal(t, int64(10), res.Unlocked[0].Credits)
	})
}

func TestBonusService_RedeemReferral(t *testing.T) {
	ctx := context.Background()

	t.Run("credits both sides once", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		userRepo := new(MockUserRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, userRepo, granter)

		userRepo.On("FindByReferralCode", ctx, "MYSTIC42").Return(&model.User{ID: 2, ReferralCode: "MYSTIC42"}, nil)
		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		unlockRepo.On("TryInsert", ctx, int64(1), "referral_redeemed").Return(true, nil)
		granter.On("Add", ctx, int64(1), int64(5), model.KindReferralBonus, mock.AnythingOfType("string"), (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 5}, nil)
		granter.On("Add", ctx, int64(2), int64(5), model.KindReferralBonus, mock.AnythingOfType("string"), (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 105}, nil)

		res, err := service.RedeemReferral(ctx, 1, "MYSTIC42")
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.ReferrerID)
		assert.Equal(t, int64(5), res.Granted)
		assert.Equal(t, int64(5), res.NewBalance)

		granter.AssertExpectations(t)
	})

	t.Run("unknown code", func(t *testing.T) {
		userRepo := new(MockUserRepository)
		service := newBonus(new(MockAccountRepository), new(MockUnlockRepository), userRepo, new(MockCreditGranter))

		userRepo.On("FindByReferralCode", ctx, "NOPE").Return(nil, repository.ErrUserNotFound)

		_, err := service.RedeemReferral(ctx, 1, "NOPE")
		assert.ErrorIs(t, err, ErrInvalidReferralCode)
	})

	t.Run("own code is rejected", func(t *testing.T) {
		userRepo := new(MockUserRepository)
		service := newBonus(new(MockAccountRepository), new(MockUnlockRepository), userRepo, new(MockCreditGranter))

		userRepo.On("FindByReferralCode", ctx, "SELF").Return(&model.User{ID: 1, ReferralCode: "SELF"}, nil)

		_, err := service.RedeemReferral(ctx, 1, "SELF")
		assert.ErrorIs(t, err, ErrInvalidReferralCode)
	})

	t.Run("second redemption is rejected", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		userRepo := new(MockUserRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, userRepo, granter)

		userRepo.On("FindByReferralCode", ctx, "MYSTIC42").Return(&model.User{ID: 2, ReferralCode: "MYSTIC42"}, nil)
		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		unlockRepo.On("TryInsert", ctx, int64(1), "referral_redeemed").Return(false, nil)

		_, err := service.RedeemReferral(ctx, 1, "MYSTIC42")
		assert.ErrorIs(t, err, ErrReferralRedeemed)

		granter.AssertNotCalled(t, "Add")
	})
}

func TestBonusService_EvaluateReading(t *testing.T) {
	ctx := context.Background()

	t.Run("first reading unlocks once", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, new(MockUserRepository), granter)

		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		unlockRepo.On("TryInsert", ctx, int64(1), "first_reading").Return(true, nil)
		granter.On("Add", ctx, int64(1), int64(3), model.KindAchievement, "First Reading", (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 3}, nil)

		unlocked := service.EvaluateReading(ctx, 1, "single", 1)
		require.Len(t, unlocked, 1)
		assert.Equal(t, "first_reading", unlocked[0].RuleID)
	})

	t.Run("an already fired rule stays silent", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, new(MockUserRepository), granter)

		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		unlockRepo.On("TryInsert", ctx, int64(1), "celtic_cross_reading").Return(false, nil)

		unlocked := service.EvaluateReading(ctx, 1, "celtic_cross", 5)
		assert.Empty(t, unlocked)
		granter.AssertNotCalled(t, "Add")
	})

	t.Run("celtic cross and tenth reading can fire together", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, new(MockUserRepository), granter)

		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		unlockRepo.On("TryInsert", ctx, int64(1), "tenth_reading").Return(true, nil)
		unlockRepo.On("TryInsert", ctx, int64(1), "celtic_cross_reading").Return(true, nil)
		granter.On("Add", ctx, int64(1), int64(5), model.KindAchievement, "Ten Readings", (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 10}, nil)
		granter.On("Add", ctx, int64(1), int64(5), model.KindAchievement, "Celtic Cross Explorer", (*model.ExternalRef)(nil)).
			Return(&LedgerResult{NewBalance: 15}, nil)

		unlocked := service.EvaluateReading(ctx, 1, "celtic_cross", 10)
		assert.Len(t, unlocked, 2)
	})

	t.Run("a storage failure is swallowed", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		unlockRepo := new(MockUnlockRepository)
		granter := new(MockCreditGranter)
		service := newBonus(accountRepo, unlockRepo, new(MockUserRepository), granter)

		accountRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		unlockRepo.On("TryInsert", ctx, int64(1), "first_reading").Return(false, errors.New("connection refused"))

		unlocked := service.EvaluateReading(ctx, 1, "single", 1)
		assert.Empty(t, unlocked)
	})
}
