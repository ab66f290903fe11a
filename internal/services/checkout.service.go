package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/credits-gateway/internal/audit"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
)

type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	FindByReferralCode(ctx context.Context, code string) (*model.User, error)
	UpdateStreak(ctx context.Context, userID int64, streak int, lastLogin, since time.Time) (bool, error)
}

// PaymentProvider is the contract a provider adapter must satisfy for
// checkout. Capture and webhook handling live on the richer gateway
// interface; checkout only needs a session.
type PaymentProvider interface {
	Name() string
	IsConfigured() bool
	CreateCheckoutSession(ctx context.Context, user *model.User, pkg model.CreditPackage, successURL, cancelURL string) (*model.CheckoutSession, error)
}

// CheckoutService turns a purchase intent into a provider session plus the
// PENDING transaction that is the durable record of the intent. The pending
// row is not reflected in the balance; the reconciler realizes it later.
type CheckoutService struct {
	providers  map[string]PaymentProvider
	userRepo   UserRepository
	txnRepo    TransactionRepository
	audit      audit.Auditor
	successURL string
	cancelURL  string
}

func NewCheckoutService(providers []PaymentProvider, userRepo UserRepository, txnRepo TransactionRepository, auditor audit.Auditor, successURL, cancelURL string) *CheckoutService {
	byName := make(map[string]PaymentProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &CheckoutService{
		providers:  byName,
		userRepo:   userRepo,
		txnRepo:    txnRepo,
		audit:      auditor,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func (s *CheckoutService) CreateCheckout(ctx context.Context, userID int64, packageID, providerName string) (*model.Checkout, error) {
	pkg, ok := model.PackageByID(packageID)
	if !ok {
		return nil, ErrInvalidPackage
	}

	provider, ok := s.providers[providerName]
	if !ok || !provider.IsConfigured() {
		return nil, ErrProviderNotConfigured
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	session, err := provider.CreateCheckoutSession(ctx, user, pkg, s.successURL, s.cancelURL)
	if err != nil {
		return nil, fmt.Errorf("create checkout session with %s: %w", providerName, err)
	}

	name := provider.Name()
	sessionID := session.SessionID
	txn, err := s.txnRepo.Create(ctx, &model.Transaction{
		UserID:            userID,
		Kind:              model.KindPurchase,
		Amount:            pkg.Credits,
		Description:       fmt.Sprintf("purchase of %s package (%d credits)", pkg.Name, pkg.Credits),
		Provider:          &name,
		ProviderPaymentID: &sessionID,
		Status:            model.StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("record pending purchase: %w", err)
	}

	s.audit.Log(ctx, "checkout.created", "transaction", txn.ID, map[string]interface{}{
		"user_id":  userID,
		"package":  pkg.ID,
		"provider": name,
		"session":  sessionID,
	})

	return &model.Checkout{
		TransactionID: txn.ID,
		SessionID:     session.SessionID,
		RedirectURL:   session.RedirectURL,
		Package:       pkg,
	}, nil
}
