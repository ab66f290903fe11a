package model

import "time"

type TransactionKind string

const (
	KindPurchase        TransactionKind = "PURCHASE"
	KindSpend           TransactionKind = "SPEND"
	KindDailyBonus      TransactionKind = "DAILY_BONUS"
	KindAchievement     TransactionKind = "ACHIEVEMENT"
	KindReferralBonus   TransactionKind = "REFERRAL_BONUS"
	KindRefund          TransactionKind = "REFUND"
	KindAdminAdjustment TransactionKind = "ADMIN_ADJUSTMENT"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusRefunded  TransactionStatus = "REFUNDED"
)

// ExternalRef identifies a real-world payment across all internal records.
// At most one COMPLETED transaction may carry a given ref.
type ExternalRef struct {
	Provider  string `json:"provider"`
	PaymentID string `json:"payment_id"`
}

// Transaction is an append-only ledger entry. Amount is signed: positive
// rows grant credits, negative rows consume them. The only mutation ever
// applied after creation is the PENDING -> COMPLETED/FAILED status flip.
type Transaction struct {
	ID                int64             `json:"id"`
	UserID            int64             `json:"user_id"`
	Kind              TransactionKind   `json:"kind"`
	Amount            int64             `json:"amount"`
	Description       string            `json:"description"`
	Provider          *string           `json:"provider,omitempty"`
	ProviderPaymentID *string           `json:"provider_payment_id,omitempty"`
	RelatedID         *int64            `json:"related_id,omitempty"`
	Status            TransactionStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// Ref returns the external reference carried by purchase-origin rows,
// or nil for internally originated transactions.
func (t *Transaction) Ref() *ExternalRef {
	if t.Provider == nil || t.ProviderPaymentID == nil {
		return nil
	}
	return &ExternalRef{Provider: *t.Provider, PaymentID: *t.ProviderPaymentID}
}

type TransactionFilter struct {
	UserID   *int64
	Kinds    []TransactionKind
	Statuses []TransactionStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
	Desc     bool
}
