package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/credits-gateway/internal/audit"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/prom"
)

// errConfirmRaced aborts the crediting transaction when another caller
// flipped the row first; the loser replays the winner's outcome.
var errConfirmRaced = errors.New("confirmation raced")

// Confirmation is the outcome of a payment confirmation. Replayed marks
// duplicate deliveries: the ledger was not touched again.
type Confirmation struct {
	TransactionID int64                   `json:"transaction_id"`
	Status        model.TransactionStatus `json:"status"`
	Credited      int64                   `json:"credited"`
	NewBalance    int64                   `json:"new_balance"`
	Replayed      bool                    `json:"replayed,omitempty"`
}

// ReconcilerService applies exactly-once crediting when a provider confirms
// payment, whether the confirmation arrives as a synchronous capture result
// or an asynchronous webhook, and however many times it is redelivered.
// Idempotency is keyed on the external reference, never on request identity.
type ReconcilerService struct {
	accountRepo AccountRepository
	txnRepo     TransactionRepository
	audit       audit.Auditor
}

func NewReconcilerService(accountRepo AccountRepository, txnRepo TransactionRepository, auditor audit.Auditor) *ReconcilerService {
	return &ReconcilerService{
		accountRepo: accountRepo,
		txnRepo:     txnRepo,
		audit:       auditor,
	}
}

// ConfirmPayment transitions the pending transaction for the given external
// reference to COMPLETED and credits the recorded amount. providerCredits is
// advisory only: the amount recorded at checkout is authoritative, and a
// disagreement is logged for reconciliation rather than trusted.
func (s *ReconcilerService) ConfirmPayment(ctx context.Context, provider, paymentID string, providerCredits int64) (*Confirmation, error) {
	txn, err := s.txnRepo.FindByRef(ctx, provider, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			// Confirmation without a known checkout: either a bug or someone
			// probing the webhook endpoint. Never credit, always record.
			logger.Error("payment confirmation without a known checkout", "provider", provider, "payment_id", paymentID)
			s.audit.Log(ctx, "payment.orphan_confirmation", "payment", 0, map[string]interface{}{
				"provider":   provider,
				"payment_id": paymentID,
			})
			return nil, ErrNoPendingTransaction
		}
		return nil, err
	}

	switch txn.Status {
	case model.StatusCompleted:
		return s.replay(ctx, txn)
	case model.StatusFailed, model.StatusRefunded:
		return &Confirmation{TransactionID: txn.ID, Status: txn.Status, Replayed: true}, nil
	}

	credits := txn.Amount
	if providerCredits > 0 && providerCredits != credits {
		logger.Warn("provider-reported credits disagree with recorded checkout",
			"provider", provider,
			"payment_id", paymentID,
			"recorded", credits,
			"reported", providerCredits)
	}

	var conf Confirmation
	err = s.accountRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		flipped, err := s.txnRepo.MarkStatus(ctx, txn.ID, model.StatusPending, model.StatusCompleted)
		if err != nil {
			return fmt.Errorf("complete transaction: %w", err)
		}
		if !flipped {
			return errConfirmRaced
		}

		if err := s.accountRepo.AddBalance(ctx, txn.UserID, credits); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		balance, err := s.accountRepo.GetBalance(ctx, txn.UserID)
		if err != nil {
			return fmt.Errorf("read new balance: %w", err)
		}

		conf = Confirmation{
			TransactionID: txn.ID,
			Status:        model.StatusCompleted,
			Credited:      credits,
			NewBalance:    balance,
		}
		return nil
	})
	if errors.Is(err, errConfirmRaced) {
		current, rerr := s.txnRepo.Get(ctx, txn.ID)
		if rerr != nil {
			return nil, rerr
		}
		return s.replay(ctx, current)
	}
	if err != nil {
		return nil, err
	}

	prom.IncPaymentConfirmation(provider, "confirmed")
	logger.Info("payment confirmed", "provider", provider, "payment_id", paymentID, "user_id", txn.UserID, "credits", credits)
	s.audit.Log(ctx, "payment.confirmed", "transaction", txn.ID, map[string]interface{}{
		"user_id":    txn.UserID,
		"provider":   provider,
		"payment_id": paymentID,
		"credits":    credits,
	})

	return &conf, nil
}

// FailPayment transitions a pending purchase to FAILED. No ledger mutation
// ever happens on this path; terminal rows are left untouched.
func (s *ReconcilerService) FailPayment(ctx context.Context, provider, paymentID, reason string) error {
	txn, err := s.txnRepo.FindByRef(ctx, provider, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			logger.Error("payment failure report without a known checkout", "provider", provider, "payment_id", paymentID)
			return ErrNoPendingTransaction
		}
		return err
	}

	if txn.Status != model.StatusPending {
		return nil
	}

	flipped, err := s.txnRepo.MarkStatus(ctx, txn.ID, model.StatusPending, model.StatusFailed)
	if err != nil {
		return fmt.Errorf("fail transaction: %w", err)
	}
	if !flipped {
		// Lost the race against a concurrent confirm or fail; either way the
		// row is terminal now and there is nothing left to do.
		return nil
	}

	prom.IncPaymentConfirmation(provider, "failed")
	logger.Info("payment failed", "provider", provider, "payment_id", paymentID, "reason", reason)
	s.audit.Log(ctx, "payment.failed", "transaction", txn.ID, map[string]interface{}{
		"user_id":    txn.UserID,
		"provider":   provider,
		"payment_id": paymentID,
		"reason":     reason,
	})

	return nil
}

func (s *ReconcilerService) replay(ctx context.Context, txn *model.Transaction) (*Confirmation, error) {
	if txn.Provider != nil {
		prom.IncPaymentConfirmation(*txn.Provider, "replayed")
	}
	balance, err := s.accountRepo.GetBalance(ctx, txn.UserID)
	if err != nil {
		return nil, err
	}
	return &Confirmation{
		TransactionID: txn.ID,
		Status:        txn.Status,
		Credited:      txn.Amount,
		NewBalance:    balance,
		Replayed:      true,
	}, nil
}
