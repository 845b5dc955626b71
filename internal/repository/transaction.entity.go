package repository

import (
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
)

// TransactionEntity is a row of the transactions table. OpenOrderID mirrors
// OrderID while the row is unpaid or pending and is NULL otherwise; its unique
// index allows at most one open transaction per order.
type TransactionEntity struct {
	pg.Model
	OrderID       string  `gorm:"column:order_id;type:varchar(64);not null;index"`
	OpenOrderID   *string `gorm:"column:open_order_id;type:varchar(64);uniqueIndex:uq_transactions_open_order"`
	CompanyID     string  `gorm:"column:company_id;type:varchar(36);not null;index"`
	Kind          string  `gorm:"column:kind;type:varchar(16);not null"`
	PlanID        *string `gorm:"column:plan_id;type:varchar(36)"`
	NetAmount     int64   `gorm:"column:net_amount;not null"`
	GrossAmount   *int64  `gorm:"column:gross_amount"`
	Fee           *int64  `gorm:"column:fee"`
	PaymentMethod *string `gorm:"column:payment_method;type:varchar(64)"`
	Status        string  `gorm:"column:status;type:varchar(16);not null;index"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func openOrderID(status model.TransactionStatus, orderID string) *string {
	if status.IsOpen() {
		return &orderID
	}
	return nil
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		Model:         pg.Model{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		OrderID:       m.OrderID,
		OpenOrderID:   openOrderID(m.Status, m.OrderID),
		CompanyID:     m.CompanyID,
		Kind:          string(m.Kind),
		PlanID:        m.PlanID,
		NetAmount:     m.NetAmount,
		GrossAmount:   m.GrossAmount,
		Fee:           m.Fee,
		PaymentMethod: m.PaymentMethod,
		Status:        string(m.Status),
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:            e.ID,
		OrderID:       e.OrderID,
		CompanyID:     e.CompanyID,
		Kind:          model.TransactionKind(e.Kind),
		PlanID:        e.PlanID,
		NetAmount:     e.NetAmount,
		GrossAmount:   e.GrossAmount,
		Fee:           e.Fee,
		PaymentMethod: e.PaymentMethod,
		Status:        model.TransactionStatus(e.Status),
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
