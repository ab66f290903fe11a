package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/credits-gateway/internal/audit"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

const (
	dailyBonusCredits    = 2
	referralBonusCredits = 5

	ruleFirstReading    = "first_reading"
	ruleTenthReading    = "tenth_reading"
	ruleCelticCross     = "celtic_cross_reading"
	ruleWeekStreak      = "week_streak"
	ruleReferralRedeem  = "referral_redeemed"
	weekStreakThreshold = 7
)

type UnlockRepository interface {
	TryInsert(ctx context.Context, userID int64, ruleID string) (bool, error)
	IsUnlocked(ctx context.Context, userID int64, ruleID string) (bool, error)
	ListRuleIDs(ctx context.Context, userID int64) ([]string, error)
}

// CreditGranter is the slice of the ledger the bonus coordinator needs.
type CreditGranter interface {
	Add(ctx context.Context, userID int64, amount int64, kind model.TransactionKind, description string, ref *model.ExternalRef) (*LedgerResult, error)
}

// Achievement describes a rule and its one-time reward.
type Achievement struct {
	RuleID  string `json:"rule_id"`
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
}

var achievements = map[string]Achievement{
	ruleFirstReading:   {RuleID: ruleFirstReading, Name: "First Reading", Credits: 3},
	ruleTenthReading:   {RuleID: ruleTenthReading, Name: "Ten Readings", Credits: 5},
	ruleCelticCross:    {RuleID: ruleCelticCross, Name: "Celtic Cross Explorer", Credits: 5},
	ruleWeekStreak:     {RuleID: ruleWeekStreak, Name: "Seven Day Streak", Credits: 10},
	ruleReferralRedeem: {RuleID: ruleReferralRedeem, Name: "Referred Friend", Credits: referralBonusCredits},
}

// DailyBonusResult reports a successful daily claim.
type DailyBonusResult struct {
	Granted    int64         `json:"granted"`
	Streak     int           `json:"streak"`
	NewBalance int64         `json:"new_balance"`
	Unlocked   []Achievement `json:"unlocked,omitempty"`
}

// ReferralResult reports a successful referral redemption.
type ReferralResult struct {
	Granted       int64 `json:"granted"`
	ReferrerID    int64 `json:"referrer_id"`
	ReferrerGrant int64 `json:"referrer_granted"`
	NewBalance    int64 `json:"new_balance"`
}

// BonusService coordinates engagement rewards on top of the ledger. Each
// unlock row is the claim: whoever inserts it grants the reward, everyone
// else sees a no-op, so a reward can never pay out twice.
type BonusService struct {
	accountRepo AccountRepository
	unlockRepo  UnlockRepository
	userRepo    UserRepository
	ledger      CreditGranter
	audit       audit.Auditor
}

func NewBonusService(accountRepo AccountRepository, unlockRepo UnlockRepository, userRepo UserRepository, ledger CreditGranter, auditor audit.Auditor) *BonusService {
	return &BonusService{
		accountRepo: accountRepo,
		unlockRepo:  unlockRepo,
		userRepo:    userRepo,
		ledger:      ledger,
		audit:       auditor,
	}
}

// EvaluateReading checks reading-triggered achievements after a spend.
// Best effort: the reading already succeeded, so failures here are logged
// and swallowed rather than surfaced to the caller.
func (s *BonusService) EvaluateReading(ctx context.Context, userID int64, spread string, completedReadings int64) []Achievement {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while evaluating achievements", "user_id", userID, "panic", r)
		}
	}()

	var unlocked []Achievement

	if completedReadings == 1 {
		if a, ok := s.tryGrant(ctx, userID, ruleFirstReading); ok {
			unlocked = append(unlocked, a)
		}
	}
	if completedReadings == 10 {
		if a, ok := s.tryGrant(ctx, userID, ruleTenthReading); ok {
			unlocked = append(unlocked, a)
		}
	}
	if spread == "celtic_cross" {
		if a, ok := s.tryGrant(ctx, userID, ruleCelticCross); ok {
			unlocked = append(unlocked, a)
		}
	}

	return unlocked
}

// GrantDailyBonus credits the once-per-day login bonus and maintains the
// login streak. The day boundary is UTC.
func (s *BonusService) GrantDailyBonus(ctx context.Context, userID int64) (*DailyBonusResult, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	streak := 1
	if user.LastLoginAt != nil {
		last := user.LastLoginAt.UTC()
		if sameDay(last, now) {
			return nil, ErrDailyBonusClaimed
		}
		if sameDay(last.AddDate(0, 0, 1), now) {
			streak = user.LoginStreak + 1
		}
	}

	var res DailyBonusResult
	err = s.accountRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		// The conditional streak update is the day guard: the read above is
		// only a preview, concurrent claims are arbitrated here.
		claimed, err := s.userRepo.UpdateStreak(ctx, userID, streak, now, startOfDay)
		if err != nil {
			return fmt.Errorf("update login streak: %w", err)
		}
		if !claimed {
			return ErrDailyBonusClaimed
		}
		granted, err := s.ledger.Add(ctx, userID, dailyBonusCredits, model.KindDailyBonus, "daily login bonus", nil)
		if err != nil {
			return err
		}
		res = DailyBonusResult{
			Granted:    dailyBonusCredits,
			Streak:     streak,
			NewBalance: granted.NewBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if streak >= weekStreakThreshold {
		if a, ok := s.tryGrant(ctx, userID, ruleWeekStreak); ok {
			res.Unlocked = append(res.Unlocked, a)
		}
	}

	s.audit.Log(ctx, "bonus.daily", "user", userID, map[string]interface{}{
		"streak":  streak,
		"granted": dailyBonusCredits,
	})

	return &res, nil
}

// RedeemReferral grants the referral bonus to both sides, once per user.
// The unlock row on the redeeming user arbitrates duplicate attempts.
func (s *BonusService) RedeemReferral(ctx context.Context, userID int64, code string) (*ReferralResult, error) {
	referrer, err := s.userRepo.FindByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidReferralCode
		}
		return nil, err
	}
	if referrer.ID == userID {
		return nil, ErrInvalidReferralCode
	}

	var res ReferralResult
	err = s.accountRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		created, err := s.unlockRepo.TryInsert(ctx, userID, ruleReferralRedeem)
		if err != nil {
			return fmt.Errorf("claim referral unlock: %w", err)
		}
		if !created {
			return ErrReferralRedeemed
		}

		granted, err := s.ledger.Add(ctx, userID, referralBonusCredits, model.KindReferralBonus,
			fmt.Sprintf("referral bonus (code %s)", code), nil)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Add(ctx, referrer.ID, referralBonusCredits, model.KindReferralBonus,
			fmt.Sprintf("referral bonus for inviting user %d", userID), nil); err != nil {
			return err
		}

		res = ReferralResult{
			Granted:       referralBonusCredits,
			ReferrerID:    referrer.ID,
			ReferrerGrant: referralBonusCredits,
			NewBalance:    granted.NewBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, "bonus.referral", "user", userID, map[string]interface{}{
		"referrer_id": referrer.ID,
		"granted":     referralBonusCredits,
	})

	return &res, nil
}

// ListUnlocked returns the achievements the user has earned, in unlock order.
func (s *BonusService) ListUnlocked(ctx context.Context, userID int64) ([]Achievement, error) {
	ids, err := s.unlockRepo.ListRuleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Achievement, 0, len(ids))
	for _, id := range ids {
		if a, ok := achievements[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// tryGrant claims the unlock and pays the reward in one transaction. A lost
// claim or any storage error yields ok=false; nothing propagates.
func (s *BonusService) tryGrant(ctx context.Context, userID int64, ruleID string) (Achievement, bool) {
	a, known := achievements[ruleID]
	if !known {
		return Achievement{}, false
	}

	var granted bool
	err := s.accountRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		created, err := s.unlockRepo.TryInsert(ctx, userID, ruleID)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		if _, err := s.ledger.Add(ctx, userID, a.Credits, model.KindAchievement, a.Name, nil); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		logger.Error("failed to grant achievement", "user_id", userID, "rule_id", ruleID, "error", err)
		return Achievement{}, false
	}
	if !granted {
		return Achievement{}, false
	}

	s.audit.Log(ctx, "bonus.achievement", "user", userID, map[string]interface{}{
		"rule_id": ruleID,
		"credits": a.Credits,
	})

	return a, true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
