package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
)

// NotificationRepository appends to the inbound notification audit log.
type NotificationRepository struct {
	*pg.DB
}

func NewNotificationRepository(db *pg.DB) *NotificationRepository {
	return &NotificationRepository{
		db,
	}
}

func (r *NotificationRepository) Create(ctx context.Context, rec *model.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	return r.Write(ctx).Create(toNotificationEntity(rec)).Error
}

func (r *NotificationRepository) ListByOrderID(ctx context.Context, orderID string) ([]*model.NotificationRecord, error) {
	var entities []*NotificationEntity
	err := r.Read(ctx).Where("order_id = ?", orderID).Order("received_at ASC").Find(&entities).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.NotificationRecord, len(entities))
	for i, e := range entities {
		out[i] = toNotificationModel(e)
	}
	return out, nil
}
