package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrZeroAmount            = errors.New("adjustment amount cannot be zero")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrAccountNotFound       = errors.New("account not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidPackage        = errors.New("unknown credit package")
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrNoPendingTransaction  = errors.New("no pending transaction for payment reference")
	ErrCaptureFailed         = errors.New("payment capture failed")
	ErrDailyBonusClaimed     = errors.New("daily bonus already claimed today")
	ErrInvalidReferralCode   = errors.New("invalid referral code")
	ErrReferralRedeemed      = errors.New("referral bonus already redeemed")
)

// InsufficientCreditsError reports the shortfall so callers can render an
// actionable message. errors.Is(err, ErrInsufficientCredits) matches it.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
