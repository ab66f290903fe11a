package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/credits-gateway/internal/audit"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/pkg/prom"
)

type AccountRepository interface {
	Create(ctx context.Context, acc *model.Account) (*model.Account, error)
	Get(ctx context.Context, userID int64) (*model.Account, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	DeductBalance(ctx context.Context, userID int64, amount int64) error
	AddBalance(ctx context.Context, userID int64, amount int64) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	Get(ctx context.Context, id int64) (*model.Transaction, error)
	FindByRef(ctx context.Context, provider, paymentID string) (*model.Transaction, error)
	MarkStatus(ctx context.Context, id int64, from, to model.TransactionStatus) (bool, error)
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	CountCompletedByKind(ctx context.Context, userID int64, kind model.TransactionKind) (int64, error)
}

// LedgerResult is what every balance mutation hands back: the appended
// transaction and the balance after it.
type LedgerResult struct {
	Transaction *model.Transaction `json:"transaction"`
	NewBalance  int64              `json:"new_balance"`
	Replayed    bool               `json:"replayed,omitempty"`
}

// LedgerService is the sole gateway to balance mutation. Every operation
// pairs the conditional balance update with the transaction-log append in
// one storage transaction, so no interleaving of callers and no mid-flight
// failure can leave one without the other.
type LedgerService struct {
	accountRepo AccountRepository
	txnRepo     TransactionRepository
	audit       audit.Auditor
}

func NewLedgerService(accountRepo AccountRepository, txnRepo TransactionRepository, auditor audit.Auditor) *LedgerService {
	return &LedgerService{
		accountRepo: accountRepo,
		txnRepo:     txnRepo,
		audit:       auditor,
	}
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	balance, err := s.accountRepo.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	acc, err := s.accountRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}

// CheckSufficient is a read-only preview for fast-fail UX. It authorizes
// nothing: the conditional update inside Deduct is the correctness guard.
func (s *LedgerService) CheckSufficient(ctx context.Context, userID int64, amount int64) (*model.SufficiencyCheck, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.SufficiencyCheck{
		Sufficient: balance >= amount,
		Balance:    balance,
		Required:   amount,
	}, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	return s.txnRepo.List(ctx, f)
}

// Deduct consumes amount credits. The repository's conditional update
// decides sufficiency; on zero rows affected nothing is written and the
// caller gets the shortfall.
func (s *LedgerService) Deduct(ctx context.Context, userID int64, amount int64, kind model.TransactionKind, description string) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	start := time.Now()
	var res LedgerResult
	err := s.accountRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.accountRepo.DeductBalance(ctx, userID, amount); err != nil {
			if errors.Is(err, repository.ErrInsufficientCredits) {
				balance, berr := s.accountRepo.GetBalance(ctx, userID)
				if berr != nil {
					return fmt.Errorf("read balance after failed deduct: %w", berr)
				}
				return &InsufficientCreditsError{Balance: balance, Required: amount}
			}
			if errors.Is(err, repository.ErrAccountNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("deduct balance: %w", err)
		}

		txn, err := s.txnRepo.Create(ctx, &model.Transaction{
			UserID:      userID,
			Kind:        kind,
			Amount:      -amount,
			Description: description,
			Status:      model.StatusCompleted,
		})
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}

		balance, err := s.accountRepo.GetBalance(ctx, userID)
		if err != nil {
			return fmt.Errorf("read new balance: %w", err)
		}

		res = LedgerResult{Transaction: txn, NewBalance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prom.AddCreditsOperationDuration(time.Since(start).Seconds(), "deduct")
	s.audit.Log(ctx, "credits.deduct", "transaction", res.Transaction.ID, map[string]interface{}{
		"user_id": userID,
		"amount":  amount,
		"kind":    string(kind),
	})

	return &res, nil
}

// Add grants amount credits. When ref is supplied and a COMPLETED
// transaction already carries it, the prior result is returned untouched;
// the unique index on the ref is the hard backstop under races.
func (s *LedgerService) Add(ctx context.Context, userID int64, amount int64, kind model.TransactionKind, description string, ref *model.ExternalRef) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if ref != nil {
		if replay, err := s.replayByRef(ctx, userID, ref); replay != nil || err != nil {
			return replay, err
		}
	}

	res, err := s.append(ctx, userID, amount, kind, description, ref, nil)
	if err != nil && ref != nil {
		// A concurrent first-time Add for the same ref lost the unique-index
		// race inside append; the winner's row is the result for both.
		if replay, rerr := s.replayByRef(ctx, userID, ref); rerr == nil && replay != nil {
			return replay, nil
		}
	}
	return res, err
}

// replayByRef returns the prior result when a COMPLETED transaction already
// carries ref, (nil, nil) when none does.
func (s *LedgerService) replayByRef(ctx context.Context, userID int64, ref *model.ExternalRef) (*LedgerResult, error) {
	existing, err := s.txnRepo.FindByRef(ctx, ref.Provider, ref.PaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.Status != model.StatusCompleted {
		return nil, nil
	}

	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &LedgerResult{Transaction: existing, NewBalance: balance, Replayed: true}, nil
}

// Refund grants back previously spent credits, optionally linked to the
// transaction it reverses.
func (s *LedgerService) Refund(ctx context.Context, userID int64, amount int64, reason string, originalTxID *int64) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.append(ctx, userID, amount, model.KindRefund, reason, nil, originalTxID)
}

// Adjust applies a signed administrative correction.
func (s *LedgerService) Adjust(ctx context.Context, userID int64, amount int64, reason string) (*LedgerResult, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if amount > 0 {
		return s.append(ctx, userID, amount, model.KindAdminAdjustment, reason, nil, nil)
	}
	return s.Deduct(ctx, userID, -amount, model.KindAdminAdjustment, reason)
}

func (s *LedgerService) append(ctx context.Context, userID int64, amount int64, kind model.TransactionKind, description string, ref *model.ExternalRef, relatedID *int64) (*LedgerResult, error) {
	start := time.Now()
	var res LedgerResult
	err := s.accountRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.accountRepo.AddBalance(ctx, userID, amount); err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("add balance: %w", err)
		}

		txn := &model.Transaction{
			UserID:      userID,
			Kind:        kind,
			Amount:      amount,
			Description: description,
			RelatedID:   relatedID,
			Status:      model.StatusCompleted,
		}
		if ref != nil {
			provider := ref.Provider
			paymentID := ref.PaymentID
			txn.Provider = &provider
			txn.ProviderPaymentID = &paymentID
		}

		created, err := s.txnRepo.Create(ctx, txn)
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}

		balance, err := s.accountRepo.GetBalance(ctx, userID)
		if err != nil {
			return fmt.Errorf("read new balance: %w", err)
		}

		res = LedgerResult{Transaction: created, NewBalance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prom.AddCreditsOperationDuration(time.Since(start).Seconds(), "add")
	s.audit.Log(ctx, "credits.add", "transaction", res.Transaction.ID, map[string]interface{}{
		"user_id": userID,
		"amount":  amount,
		"kind":    string(kind),
	})

	return &res, nil
}
