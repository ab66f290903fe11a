package fixtures

import (
	"time"

	"github.com/nimasrn/credits-gateway/internal/model"
)

var (
	TestUser1 = model.User{
		ID:           1,
		Email:        "seeker@example.com",
		ReferralCode: "SEEKER1",
	}

	TestUser2 = model.User{
		ID:           2,
		Email:        "mystic@example.com",
		ReferralCode: "MYSTIC2",
	}

	TestAccountFunded = model.Account{
		UserID:  1,
		Credits: 100,
	}

	TestAccountLowBalance = model.Account{
		UserID:  3,
		Credits: 1,
	}

	TestAccountZeroBalance = model.Account{
		UserID:  4,
		Credits: 0,
	}
)

func NewTestUser(id int64, email, referralCode string) *model.User {
	return &model.User{
		ID:           id,
		Email:        email,
		ReferralCode: referralCode,
	}
}

func NewTestAccount(userID int64, credits int64) *model.Account {
	return &model.Account{
		UserID:  userID,
		Credits: credits,
	}
}

func NewTestTransaction(userID int64, amount int64, kind model.TransactionKind, status model.TransactionStatus) *model.Transaction {
	return &model.Transaction{
		UserID:    userID,
		Amount:    amount,
		Kind:      kind,
		Status:    status,
		CreatedAt: time.Now(),
	}
}

func NewPendingPurchase(userID int64, credits int64, provider, paymentID string) *model.Transaction {
	txn := NewTestTransaction(userID, credits, model.KindPurchase, model.StatusPending)
	txn.Provider = &provider
	txn.ProviderPaymentID = &paymentID
	return txn
}

var (
	ValidSpreads = []string{
		"single",
		"three_card",
		"celtic_cross",
	}

	ValidPackageIDs = []string{
		"starter",
		"seeker",
		"mystic",
		"oracle",
	}
)

func TransactionFilterByUser(userID int64) model.TransactionFilter {
	return model.TransactionFilter{
		UserID: &userID,
		Limit:  50,
		Offset: 0,
		Desc:   false,
	}
}

func TransactionFilterWithPagination(userID int64, limit, offset int) model.TransactionFilter {
	return model.TransactionFilter{
		UserID: &userID,
		Limit:  limit,
		Offset: offset,
		Desc:   false,
	}
}

func TransactionFilterByKind(userID int64, kinds ...model.TransactionKind) model.TransactionFilter {
	return model.TransactionFilter{
		UserID: &userID,
		Kinds:  kinds,
		Limit:  50,
		Offset: 0,
		Desc:   false,
	}
}

func TransactionFilterByTimeRange(userID int64, from, to time.Time) model.TransactionFilter {
	return model.TransactionFilter{
		UserID: &userID,
		From:   &from,
		To:     &to,
		Limit:  50,
		Offset: 0,
		Desc:   false,
	}
}
