package repository

import (
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
)

type InvoiceEntity struct {
	pg.Model
	CompanyID string     `gorm:"column:company_id;type:varchar(36);not null;index"`
	ClientID  string     `gorm:"column:client_id;type:varchar(36);not null;index"`
	Total     int64      `gorm:"column:total;not null"`
	Status    string     `gorm:"column:status;type:varchar(16);not null;default:unpaid"`
	PaidAt    *time.Time `gorm:"column:paid_at"`
	DueDate   *time.Time `gorm:"column:due_date"`
}

func (InvoiceEntity) TableName() string {
	return "invoices"
}

func toInvoiceEntity(m *model.Invoice) *InvoiceEntity {
	if m == nil {
		return nil
	}
	status := m.Status
	if status == "" {
		status = model.InvoiceStatusUnpaid
	}
	return &InvoiceEntity{
		Model:     pg.Model{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		CompanyID: m.CompanyID,
		ClientID:  m.ClientID,
		Total:     m.Total,
		Status:    string(status),
		PaidAt:    m.PaidAt,
		DueDate:   m.DueDate,
	}
}

func toInvoiceModel(e *InvoiceEntity) *model.Invoice {
	if e == nil {
		return nil
	}
	return &model.Invoice{
		ID:        e.ID,
		CompanyID: e.CompanyID,
		ClientID:  e.ClientID,
		Total:     e.Total,
		Status:    model.InvoiceStatus(e.Status),
		PaidAt:    e.PaidAt,
		DueDate:   e.DueDate,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}
