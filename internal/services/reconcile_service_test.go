package services

import (
	"context"
	"sync"
	"testing"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/processor"
	"github.com/nimasrn/payment-reconciler/test/fixtures"
	"github.com/nimasrn/payment-reconciler/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) companyAmount(t *testing.T) int64 {
	t.Helper()
	c, err := e.repos.Companies.GetByID(context.Background(), e.company.ID)
	require.NoError(t, err)
	return c.Amount
}

func (e *testEnv) outcomes(t *testing.T, orderID string) []model.NotificationOutcome {
	t.Helper()
	recs, err := e.repos.Notifications.ListByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	out := make([]model.NotificationOutcome, len(recs))
	for i, r := range recs {
		out[i] = r.Outcome
	}
	return out
}

func TestReconcile_SettlesInvoice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv, _ := env.pendingInvoice(t, 50000, 4000)

	require.NoError(t, env.reconcile.HandleNotification(ctx, fixtures.Settlement(inv.ID, 54000)))

	txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPaid, txn.Status)
	assert.Equal(t, "bank_transfer", *txn.PaymentMethod)

	paid, err := env.repos.Invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	assert.Equal(t, int64(50000), env.companyAmount(t))
	assert.Contains(t, env.events.types(), model.EventPaymentSettled)
	assert.Equal(t, []model.NotificationOutcome{model.OutcomeSettled}, env.outcomes(t, inv.ID))

	t.Run("redelivery is a no-op", func(t *testing.T) {
		require.NoError(t, env.reconcile.HandleNotification(ctx, fixtures.Settlement(inv.ID, 54000)))
		assert.Equal(t, int64(50000), env.companyAmount(t))
		assert.ElementsMatch(t, []model.NotificationOutcome{model.OutcomeSettled, model.OutcomeDuplicate}, env.outcomes(t, inv.ID))
	})

	t.Run("expiry after settlement changes nothing", func(t *testing.T) {
		require.NoError(t, env.reconcile.HandleNotification(ctx, fixtures.Expiry(inv.ID, 54000)))
		txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TransactionStatusPaid, txn.Status)
	})
}

func TestReconcile_CaptureNeedsAcceptedFraudStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv, _ := env.pendingInvoice(t, 20000, 0)

	challenge := fixtures.NotificationPayload(fixtures.Notification(inv.ID, "capture", "challenge", "20000.00"))
	require.NoError(t, env.reconcile.HandleNotification(ctx, challenge))
	txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, txn.Status)

	accept := fixtures.NotificationPayload(fixtures.Notification(inv.ID, "capture", "accept", "20000.00"))
	require.NoError(t, env.reconcile.HandleNotification(ctx, accept))
	txn, err = env.repos.Transactions.GetByOrderID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPaid, txn.Status)
}

func TestReconcile_IgnoredStatuses(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv, _ := env.pendingInvoice(t, 20000, 0)

	for _, status := range fixtures.IgnoredStatuses {
		payload := fixtures.NotificationPayload(fixtures.Notification(inv.ID, status, "accept", "20000.00"))
		require.NoError(t, env.reconcile.HandleNotification(ctx, payload), status)
	}
	txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, txn.Status)
	assert.Equal(t, int64(0), env.companyAmount(t))
}

func TestReconcile_NumericFieldsAreSignedAsSent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv, _ := env.pendingInvoice(t, 51000, 0)

	n := fixtures.Notification(inv.ID, "settlement", "accept", "51000.00")
	payload := []byte(`{"order_id":"` + inv.ID + `","status_code":200,"gross_amount":51000.00,"signature_key":"` + n.SignatureKey +
		`","transaction_status":"settlement","payment_type":"bank_transfer","fraud_status":"accept"}`)

	require.NoError(t, env.reconcile.HandleNotification(ctx, payload))
	assert.Equal(t, int64(51000), env.companyAmount(t))
}

func TestReconcile_VoidsPendingInvoice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv, _ := env.pendingInvoice(t, 50000, 0)

	require.NoError(t, env.reconcile.HandleNotification(ctx, fixtures.Expiry(inv.ID, 50000)))

	txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, txn.Status)

	stored, err := env.repos.Invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusUnpaid, stored.Status)
	assert.Nil(t, stored.PaidAt)
	assert.Contains(t, env.events.types(), model.EventPaymentFailed)

	// the invoice can be billed again
	_, err = env.payments.OpenInvoiceTransaction(ctx, inv.ID, "")
	require.NoError(t, err)

	t.Run("settlement after void is a conflict", func(t *testing.T) {
		env := newTestEnv(t, nil)
		inv, _ := env.pendingInvoice(t, 50000, 0)
		require.NoError(t, env.reconcile.HandleNotification(ctx, fixtures.Expiry(inv.ID, 50000)))

		err := env.reconcile.HandleNotification(ctx, fixtures.Settlement(inv.ID, 50000))
		requireKind(t, err, KindConflict)
		assert.Equal(t, int64(0), env.companyAmount(t))
	})
}

func TestReconcile_VoidsUnchargedRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv := helpers.CreateTestInvoice(t, env.repos, env.company.ID, 50000)
	_, err := env.payments.OpenInvoiceTransaction(ctx, inv.ID, "")
	require.NoError(t, err)

	require.NoError(t, env.reconcile.HandleNotification(ctx, fixtures.NotificationPayload(fixtures.Notification(inv.ID, "cancel", "accept", "50000.00"))))
	txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, txn.Status)
}

func TestReconcile_Rejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv, _ := env.pendingInvoice(t, 50000, 0)

	t.Run("malformed payload", func(t *testing.T) {
		requireKind(t, env.reconcile.HandleNotification(ctx, []byte("{")), KindInvalid)
	})

	t.Run("missing fields", func(t *testing.T) {
		for field, payload := range fixtures.MissingFieldPayloads {
			svcErr := requireKind(t, env.reconcile.HandleNotification(ctx, []byte(payload)), KindInvalid)
			assert.Contains(t, svcErr.Message, field)
		}
	})

	t.Run("bad signature does not reveal the order", func(t *testing.T) {
		n := fixtures.Notification(inv.ID, "settlement", "accept", "50000.00")
		n.GrossAmount = "1.00"
		svcErr := requireKind(t, env.reconcile.HandleNotification(ctx, fixtures.NotificationPayload(n)), KindUnauthorized)
		assert.Equal(t, "invalid signature", svcErr.Message)
		assert.Equal(t, 401, svcErr.Code)

		unknown := fixtures.Notification("no-such-order", "settlement", "accept", "50000.00")
		unknown.SignatureKey = "deadbeef"
		svcErr = requireKind(t, env.reconcile.HandleNotification(ctx, fixtures.NotificationPayload(unknown)), KindUnauthorized)
		assert.Equal(t, "invalid signature", svcErr.Message)

		txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TransactionStatusPending, txn.Status)
		assert.Contains(t, env.outcomes(t, inv.ID), model.OutcomeInvalidSignature)
	})

	t.Run("unknown order", func(t *testing.T) {
		requireKind(t, env.reconcile.HandleNotification(ctx, fixtures.Settlement("no-such-order", 1)), KindNotFound)
	})
}

func TestReconcile_SettlementBeforeChargeIsRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv := helpers.CreateTestInvoice(t, env.repos, env.company.ID, 50000)
	_, err := env.payments.OpenInvoiceTransaction(ctx, inv.ID, "")
	require.NoError(t, err)

	requireKind(t, env.reconcile.HandleNotification(ctx, fixtures.Settlement(inv.ID, 50000)), KindConflict)
	assert.Equal(t, int64(0), env.companyAmount(t))
}

func TestReconcile_PaidInvoiceRollsBackTransaction(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv, _ := env.pendingInvoice(t, 50000, 0)

	// paid through another channel after the charge
	ok, err := env.repos.Invoices.MarkPaid(ctx, inv.ID, inv.CreatedAt)
	require.NoError(t, err)
	require.True(t, ok)

	requireKind(t, env.reconcile.HandleNotification(ctx, fixtures.Settlement(inv.ID, 50000)), KindConflict)

	txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, txn.Status, "transaction update must roll back with the invoice conflict")
	assert.Equal(t, int64(0), env.companyAmount(t))

	t.Run("late expiry never downgrades the paid invoice", func(t *testing.T) {
		requireKind(t, env.reconcile.HandleNotification(ctx, fixtures.Expiry(inv.ID, 50000)), KindConflict)

		stored, err := env.repos.Invoices.GetByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusPaid, stored.Status)
		assert.NotNil(t, stored.PaidAt)

		txn, err := env.repos.Transactions.GetByOrderID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TransactionStatusPending, txn.Status)
		assert.Equal(t, int64(0), env.companyAmount(t))
	})
}

func TestReconcile_SettlementForMissingInvoiceIsNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	inv, txn := env.pendingInvoice(t, 30000, 0)

	require.NoError(t, env.repos.DB.Write(ctx).Exec("DELETE FROM invoices WHERE id = ?", inv.ID).Error)

	err := env.reconcile.HandleNotification(ctx, fixtures.Settlement(inv.ID, 30000))
	svcErr := requireKind(t, err, KindNotFound)
	assert.Equal(t, 404, svcErr.Code)

	assert.Equal(t, model.TransactionStatusPending, env.transaction(t, txn.ID).Status)
	assert.Equal(t, []model.NotificationOutcome{model.OutcomeError}, env.outcomes(t, inv.ID))
}

func TestReconcile_SettlesSubscriptionChange(t *testing.T) {
	guardModes(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		basic := helpers.CreateTestPlan(t, env.repos, "Basic", 49000)
		pro := helpers.CreateTestPlan(t, env.repos, "Pro", 149000)
		sub := helpers.CreateTestSubscription(t, env.repos, env.company.ID, basic.ID)

		txn := env.chargePlanChange(t, sub, pro)
		payload := fixtures.Settlement(sub.ID, 149000)
		require.NoError(t, env.reconcile.HandleNotification(ctx, payload))

		stored, err := env.repos.Subscriptions.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, pro.ID, stored.PlanID)
		assert.True(t, stored.IsActive)
		assert.Equal(t, model.TransactionStatusPaid, env.transaction(t, txn.ID).Status)
		assert.Equal(t, int64(0), env.companyAmount(t), "subscription payments are not company income")

		// identical redelivery
		require.NoError(t, env.reconcile.HandleNotification(ctx, payload))
		stored, err = env.repos.Subscriptions.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, pro.ID, stored.PlanID)
		assert.Equal(t, model.TransactionStatusPaid, env.transaction(t, txn.ID).Status)
		assert.ElementsMatch(t, []model.NotificationOutcome{model.OutcomeSettled, model.OutcomeDuplicate}, env.outcomes(t, sub.ID))
		assert.Equal(t, 1, countEvents(env.events.types(), model.EventPaymentSettled))
	})
}

func TestReconcile_RepeatedPlanChangesOnOneSubscription(t *testing.T) {
	guardModes(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		basic := helpers.CreateTestPlan(t, env.repos, "Basic", 49000)
		pro := helpers.CreateTestPlan(t, env.repos, "Pro", 149000)
		sub := helpers.CreateTestSubscription(t, env.repos, env.company.ID, basic.ID)

		// pro, back to basic, then pro again at the same price: the third
		// settlement is byte-identical to the first
		for i, plan := range []*model.Plan{pro, basic, pro} {
			txn := env.chargePlanChange(t, sub, plan)
			require.NoError(t, env.reconcile.HandleNotification(ctx, fixtures.Settlement(sub.ID, plan.Price)), "change %d", i)

			stored, err := env.repos.Subscriptions.GetByID(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, plan.ID, stored.PlanID, "change %d", i)
			assert.Equal(t, model.TransactionStatusPaid, env.transaction(t, txn.ID).Status, "change %d", i)
		}
		assert.Equal(t, 3, countEvents(env.events.types(), model.EventPaymentSettled))
	})
}

func TestReconcile_RetriedInvoiceAttempts(t *testing.T) {
	guardModes(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		inv := helpers.CreateTestInvoice(t, env.repos, env.company.ID, 60000)
		expiry := fixtures.Expiry(inv.ID, 60000)

		// two attempts expire with byte-identical notifications
		first := env.chargeInvoice(t, inv, 0)
		require.NoError(t, env.reconcile.HandleNotification(ctx, expiry))
		assert.Equal(t, model.TransactionStatusFailed, env.transaction(t, first.ID).Status)

		second := env.chargeInvoice(t, inv, 0)
		require.NoError(t, env.reconcile.HandleNotification(ctx, expiry))
		assert.Equal(t, model.TransactionStatusFailed, env.transaction(t, second.ID).Status)

		// a redelivered expiry changes nothing
		require.NoError(t, env.reconcile.HandleNotification(ctx, expiry))
		assert.ElementsMatch(t, []model.NotificationOutcome{model.OutcomeVoided, model.OutcomeVoided, model.OutcomeDuplicate}, env.outcomes(t, inv.ID))

		third := env.chargeInvoice(t, inv, 0)
		settlement := fixtures.Settlement(inv.ID, 60000)
		require.NoError(t, env.reconcile.HandleNotification(ctx, settlement))
		require.NoError(t, env.reconcile.HandleNotification(ctx, settlement))

		assert.Equal(t, model.TransactionStatusPaid, env.transaction(t, third.ID).Status)
		stored, err := env.repos.Invoices.GetByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusPaid, stored.Status)
		assert.Equal(t, int64(60000), env.companyAmount(t))
	})
}

func countEvents(types []model.PaymentEventType, want model.PaymentEventType) int {
	n := 0
	for _, tp := range types {
		if tp == want {
			n++
		}
	}
	return n
}

func TestReconcile_ConcurrentDuplicateSettlements(t *testing.T) {
	for name, withGuard := range map[string]bool{"ledger only": false, "with delivery guard": true} {
		t.Run(name, func(t *testing.T) {
			var guard DeliveryGuard
			if withGuard {
				guard = newGuard(t)
			}
			env := newTestEnv(t, guard)
			inv, _ := env.pendingInvoice(t, 50000, 0)
			payload := fixtures.Settlement(inv.ID, 50000)

			const n = 10
			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = env.reconcile.HandleNotification(context.Background(), payload)
				}(i)
			}
			wg.Wait()

			for _, err := range errs {
				if err != nil {
					assert.True(t, IsKind(err, KindConflict), "unexpected error: %v", err)
				}
			}

			// whatever was rejected as busy succeeds on redelivery without effect
			require.NoError(t, env.reconcile.HandleNotification(context.Background(), payload))
			assert.Equal(t, int64(50000), env.companyAmount(t))
		})
	}
}

func TestReconcile_GuardUnavailableFallsBackToLedger(t *testing.T) {
	ctx := context.Background()
	mr, adapter := helpers.SetupTestRedis(t)
	guard := processor.NewIdempotencyService(adapter, processor.DefaultIdempotencyConfig())
	mr.Close()

	env := newTestEnv(t, guard)
	inv, _ := env.pendingInvoice(t, 10000, 0)
	require.NoError(t, env.reconcile.HandleNotification(ctx, fixtures.Settlement(inv.ID, 10000)))
	assert.Equal(t, int64(10000), env.companyAmount(t))
}
