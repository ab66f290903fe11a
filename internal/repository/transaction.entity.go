package repository

import (
	"time"

	"github.com/nimasrn/credits-gateway/internal/model"
)

type TransactionEntity struct {
	ID                int64     `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	UserID            int64     `db:"user_id"             gorm:"column:user_id;not null;index"`
	Kind              string    `db:"kind"                gorm:"column:kind;not null"`
	Amount            int64     `db:"amount"              gorm:"column:amount;not null"`
	Description       string    `db:"description"         gorm:"column:description"`
	Provider          *string   `db:"provider"            gorm:"column:provider;uniqueIndex:ux_txn_external_ref"`
	ProviderPaymentID *string   `db:"provider_payment_id" gorm:"column:provider_payment_id;uniqueIndex:ux_txn_external_ref"`
	RelatedID         *int64    `db:"related_id"          gorm:"column:related_id"`
	Status            string    `db:"status"              gorm:"column:status;not null;index"`
	CreatedAt         time.Time `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                m.ID,
		UserID:            m.UserID,
		Kind:              string(m.Kind),
		Amount:            m.Amount,
		Description:       m.Description,
		Provider:          m.Provider,
		ProviderPaymentID: m.ProviderPaymentID,
		RelatedID:         m.RelatedID,
		Status:            string(m.Status),
		CreatedAt:         m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                e.ID,
		UserID:            e.UserID,
		Kind:              model.TransactionKind(e.Kind),
		Amount:            e.Amount,
		Description:       e.Description,
		Provider:          e.Provider,
		ProviderPaymentID: e.ProviderPaymentID,
		RelatedID:         e.RelatedID,
		Status:            model.TransactionStatus(e.Status),
		CreatedAt:         e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
