package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceRepository_MarkPaidAndReset(t *testing.T) {
	repo := NewInvoiceRepository(setupTestDB(t))
	ctx := context.Background()

	inv, err := repo.Create(ctx, &model.Invoice{CompanyID: "c1", ClientID: "cl1", Total: 75000})
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusUnpaid, inv.Status)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	ok, err := repo.ResetUnpaid(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	paidAt := time.Now().UTC().Truncate(time.Second)
	ok, err = repo.MarkPaid(ctx, inv.ID, paidAt)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.True(t, paidAt.Equal(got.PaidAt.UTC()))

	ok, err = repo.MarkPaid(ctx, inv.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "invoice must never be marked paid twice")

	ok, err = repo.ResetUnpaid(ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, ok, "paid invoice must not be reset")
}

func TestCompanyRepository_IncrementAmount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCompanyRepository(db)
	ctx := context.Background()

	c, err := repo.Create(ctx, &model.Company{Name: "Acme", Email: "billing@acme.test", Amount: 1000})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.IncrementAmount(ctx, c.ID, 500))
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), got.Amount)

	assert.ErrorIs(t, repo.IncrementAmount(ctx, "missing", 1), ErrCompanyNotFound)
	assert.ErrorIs(t, repo.IncrementAmount(ctx, c.ID, 0), ErrInvalidAmount)
	assert.ErrorIs(t, repo.IncrementAmount(ctx, c.ID, -5), ErrInvalidAmount)
}

func TestCompanyRepository_WithinTransactionRollsBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCompanyRepository(db)
	ctx := context.Background()

	c, err := repo.Create(ctx, &model.Company{Name: "Acme"})
	require.NoError(t, err)

	err = db.WithinTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.IncrementAmount(ctx, c.ID, 100))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Amount)
}

func TestSubscriptionRepository(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriptionRepository(db)
	plans := NewPlanRepository(db)
	ctx := context.Background()

	require.NoError(t, SeedPlans(ctx, plans))
	require.NoError(t, SeedPlans(ctx, plans))

	list, err := plans.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Basic", list[0].Name)
	assert.Equal(t, int64(49000), list[0].Price)
	assert.Equal(t, int64(149000), list[1].Price)

	_, err = plans.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	sub, err := subs.Create(ctx, &model.Subscription{CompanyID: "c1", PlanID: list[0].ID, IsActive: true})
	require.NoError(t, err)

	byCompany, err := subs.GetByCompanyID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byCompany.ID)

	require.NoError(t, subs.ChangePlan(ctx, sub.ID, list[1].ID))
	got, err := subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, list[1].ID, got.PlanID)

	assert.ErrorIs(t, subs.ChangePlan(ctx, "missing", list[1].ID), ErrSubscriptionNotFound)
	_, err = subs.GetByCompanyID(ctx, "c2")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestUserRepository(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))
	ctx := context.Background()

	u, err := repo.Create(ctx, &model.User{CompanyID: "c1", Email: "owner@acme.test", Name: "Owner"})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CompanyID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestNotificationRepository(t *testing.T) {
	repo := NewNotificationRepository(setupTestDB(t))
	ctx := context.Background()

	payload := json.RawMessage(`{"order_id":"inv-1","transaction_status":"settlement"}`)
	require.NoError(t, repo.Create(ctx, &model.NotificationRecord{
		OrderID:           "inv-1",
		TransactionStatus: "settlement",
		GrossAmount:       "50000.00",
		SignatureValid:    true,
		Outcome:           model.OutcomeSettled,
		Payload:           payload,
	}))
	require.NoError(t, repo.Create(ctx, &model.NotificationRecord{
		OrderID:           "inv-1",
		TransactionStatus: "settlement",
		SignatureValid:    true,
		Outcome:           model.OutcomeDuplicate,
		Payload:           payload,
	}))

	records, err := repo.ListByOrderID(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.OutcomeSettled, records[0].Outcome)
	assert.JSONEq(t, string(payload), string(records[0].Payload))
}
