package repository

import (
	"encoding/json"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"gorm.io/datatypes"
)

type NotificationEntity struct {
	ID                string         `gorm:"primaryKey;type:varchar(36)"`
	OrderID           string         `gorm:"column:order_id;type:varchar(64);not null;index"`
	TransactionStatus string         `gorm:"column:transaction_status;type:varchar(32)"`
	StatusCode        string         `gorm:"column:status_code;type:varchar(8)"`
	GrossAmount       string         `gorm:"column:gross_amount;type:varchar(32)"`
	PaymentType       string         `gorm:"column:payment_type;type:varchar(64)"`
	FraudStatus       string         `gorm:"column:fraud_status;type:varchar(32)"`
	SignatureValid    bool           `gorm:"column:signature_valid;not null"`
	Outcome           string         `gorm:"column:outcome;type:varchar(32);not null;index"`
	Detail            string         `gorm:"column:detail"`
	Payload           datatypes.JSON `gorm:"column:payload"`
	ReceivedAt        time.Time      `gorm:"column:received_at;not null;index"`
}

func (NotificationEntity) TableName() string {
	return "payment_notifications"
}

func toNotificationEntity(m *model.NotificationRecord) *NotificationEntity {
	if m == nil {
		return nil
	}
	return &NotificationEntity{
		ID:                m.ID,
		OrderID:           m.OrderID,
		TransactionStatus: m.TransactionStatus,
		StatusCode:        m.StatusCode,
		GrossAmount:       m.GrossAmount,
		PaymentType:       m.PaymentType,
		FraudStatus:       m.FraudStatus,
		SignatureValid:    m.SignatureValid,
		Outcome:           string(m.Outcome),
		Detail:            m.Detail,
		Payload:           datatypes.JSON(m.Payload),
		ReceivedAt:        m.ReceivedAt,
	}
}

func toNotificationModel(e *NotificationEntity) *model.NotificationRecord {
	if e == nil {
		return nil
	}
	return &model.NotificationRecord{
		ID:                e.ID,
		OrderID:           e.OrderID,
		TransactionStatus: e.TransactionStatus,
		StatusCode:        e.StatusCode,
		GrossAmount:       e.GrossAmount,
		PaymentType:       e.PaymentType,
		FraudStatus:       e.FraudStatus,
		SignatureValid:    e.SignatureValid,
		Outcome:           model.NotificationOutcome(e.Outcome),
		Detail:            e.Detail,
		Payload:           json.RawMessage(e.Payload),
		ReceivedAt:        e.ReceivedAt,
	}
}
