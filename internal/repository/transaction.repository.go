package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrOpenTransactionExists = errors.New("an open transaction already exists for this order")
	ErrIllegalTransition     = errors.New("illegal transaction status transition")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

// Create inserts txn. A second open transaction for the same order violates the
// open-order unique index and returns ErrOpenTransactionExists.
func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if !txn.Kind.Valid() || !txn.Status.Valid() {
		return nil, fmt.Errorf("invalid transaction kind %q or status %q", txn.Kind, txn.Status)
	}
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if pg.IsDuplicateKey(err) {
			return nil, ErrOpenTransactionExists
		}
		return nil, err
	}
	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// GetByOrderID returns the open transaction for orderID if there is one,
// otherwise the most recent resolved one.
func (r *TransactionRepository) GetByOrderID(ctx context.Context, orderID string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).
		Where("order_id = ?", orderID).
		Order("open_order_id IS NULL").
		Order("created_at DESC").
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) GetOpenByOrderID(ctx context.Context, orderID string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).Where("open_order_id = ?", orderID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) ListByOrderID(ctx context.Context, orderID string) ([]*model.Transaction, error) {
	var entities []*TransactionEntity
	err := r.Read(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// MarkPending records an accepted charge. It only applies while the transaction
// is still unpaid and reports whether it did.
func (r *TransactionRepository) MarkPending(ctx context.Context, id string, charge model.ChargeUpdate) (bool, error) {
	return r.compareAndSet(ctx, id, []model.TransactionStatus{model.TransactionStatusUnpaid}, model.TransactionStatusPending, map[string]interface{}{
		"gross_amount":   charge.GrossAmount,
		"fee":            charge.Fee,
		"payment_method": charge.PaymentMethod,
	})
}

// Transition moves the transaction to `to` only if its current status is one of
// `from`. paymentMethod, when not nil, is stored alongside.
func (r *TransactionRepository) Transition(ctx context.Context, id string, from []model.TransactionStatus, to model.TransactionStatus, paymentMethod *string) (bool, error) {
	extra := map[string]interface{}{}
	if paymentMethod != nil {
		extra["payment_method"] = *paymentMethod
	}
	return r.compareAndSet(ctx, id, from, to, extra)
}

func (r *TransactionRepository) compareAndSet(ctx context.Context, id string, from []model.TransactionStatus, to model.TransactionStatus, extra map[string]interface{}) (bool, error) {
	if len(from) == 0 {
		return false, ErrIllegalTransition
	}
	fromValues := make([]string, len(from))
	for i, f := range from {
		if !model.CanTransition(f, to) {
			return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f, to)
		}
		fromValues[i] = string(f)
	}

	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": time.Now(),
	}
	if to.IsTerminal() {
		updates["open_order_id"] = nil
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.Write(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status IN ?", id, fromValues).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
