package services

import (
	"context"
	"fmt"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

// ReadingResult is a completed paid reading: the spend plus any achievements
// it unlocked.
type ReadingResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Cost        int64              `json:"cost"`
	NewBalance  int64              `json:"new_balance"`
	Unlocked    []Achievement      `json:"unlocked,omitempty"`
}

// ReadingService charges for readings. The deduct is the hard part and must
// succeed; achievement evaluation afterwards is strictly best effort.
type ReadingService struct {
	ledger  *LedgerService
	bonus   *BonusService
	txnRepo TransactionRepository
}

func NewReadingService(ledger *LedgerService, bonus *BonusService, txnRepo TransactionRepository) *ReadingService {
	return &ReadingService{
		ledger:  ledger,
		bonus:   bonus,
		txnRepo: txnRepo,
	}
}

// PerformReading deducts the spread's cost and evaluates achievements on the
// resulting reading count. A bonus failure never rolls back or fails the
// reading itself.
func (s *ReadingService) PerformReading(ctx context.Context, userID int64, spread string) (*ReadingResult, error) {
	cost := model.SpreadCost(spread)

	res, err := s.ledger.Deduct(ctx, userID, cost, model.KindSpend, fmt.Sprintf("%s reading", spread))
	if err != nil {
		return nil, err
	}

	out := &ReadingResult{
		Transaction: res.Transaction,
		Cost:        cost,
		NewBalance:  res.NewBalance,
	}

	count, err := s.txnRepo.CountCompletedByKind(ctx, userID, model.KindSpend)
	if err != nil {
		logger.Error("failed to count readings for achievement evaluation", "user_id", userID, "error", err)
		return out, nil
	}

	unlocked := s.bonus.EvaluateReading(ctx, userID, spread, count)
	if len(unlocked) > 0 {
		out.Unlocked = unlocked
		balance, err := s.ledger.GetBalance(ctx, userID)
		if err == nil {
			out.NewBalance = balance
		}
	}

	return out, nil
}
