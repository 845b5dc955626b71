package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
	"gorm.io/gorm"
)

var ErrInvoiceNotFound = errors.New("invoice not found")

type InvoiceRepository struct {
	*pg.DB
}

func NewInvoiceRepository(db *pg.DB) *InvoiceRepository {
	return &InvoiceRepository{
		db,
	}
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *model.Invoice) (*model.Invoice, error) {
	entity := toInvoiceEntity(inv)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toInvoiceModel(entity), nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*model.Invoice, error) {
	var entity InvoiceEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return toInvoiceModel(&entity), nil
}

// MarkPaid sets the invoice paid unless it already is. It reports whether the
// row changed, so a false return means the invoice was paid before.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	result := r.Write(ctx).
		Model(&InvoiceEntity{}).
		Where("id = ? AND status <> ?", id, string(model.InvoiceStatusPaid)).
		Updates(map[string]interface{}{
			"status":     string(model.InvoiceStatusPaid),
			"paid_at":    paidAt,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ResetUnpaid returns a not yet paid invoice to unpaid with no paid_at.
// A paid invoice is left untouched and false is returned.
func (r *InvoiceRepository) ResetUnpaid(ctx context.Context, id string) (bool, error) {
	result := r.Write(ctx).
		Model(&InvoiceEntity{}).
		Where("id = ? AND status <> ?", id, string(model.InvoiceStatusPaid)).
		Updates(map[string]interface{}{
			"status":     string(model.InvoiceStatusUnpaid),
			"paid_at":    nil,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
