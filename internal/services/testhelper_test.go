package services

import (
	"context"
	"sync"
	"testing"

	gateway "github.com/nimasrn/payment-reconciler/internal/gateways"
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/processor"
	"github.com/nimasrn/payment-reconciler/internal/signature"
	"github.com/nimasrn/payment-reconciler/test/fixtures"
	"github.com/nimasrn/payment-reconciler/test/helpers"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Charge(ctx context.Context, p gateway.ChargeParams) (*gateway.Result, error) {
	args := m.Called(ctx, p)
	res, _ := args.Get(0).(*gateway.Result)
	return res, args.Error(1)
}

func (m *MockGateway) Cancel(ctx context.Context, orderID string) (*gateway.Result, error) {
	args := m.Called(ctx, orderID)
	res, _ := args.Get(0).(*gateway.Result)
	return res, args.Error(1)
}

func (m *MockGateway) Status(ctx context.Context, orderID string) (*gateway.Result, error) {
	args := m.Called(ctx, orderID)
	res, _ := args.Get(0).(*gateway.Result)
	return res, args.Error(1)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []model.PaymentEvent
}

func (r *eventRecorder) Publish(_ context.Context, ev model.PaymentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []model.PaymentEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.PaymentEventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type testEnv struct {
	repos     *helpers.Repositories
	gateway   *MockGateway
	events    *eventRecorder
	payments  *PaymentService
	reconcile *ReconcileService
	company   *model.Company
}

func newTestEnv(t *testing.T, guard DeliveryGuard) *testEnv {
	t.Helper()
	repos := helpers.NewRepositories(helpers.SetupTestDB(t))
	ledger := Ledger{
		Tx:            repos.DB,
		Transactions:  repos.Transactions,
		Invoices:      repos.Invoices,
		Companies:     repos.Companies,
		Subscriptions: repos.Subscriptions,
		Plans:         repos.Plans,
	}
	gw := new(MockGateway)
	events := &eventRecorder{}

	return &testEnv{
		repos:     repos,
		gateway:   gw,
		events:    events,
		payments:  NewPaymentService(ledger, gw, events),
		reconcile: NewReconcileService(ledger, signature.NewVerifier(fixtures.ServerKey), guard, repos.Notifications, events),
		company:   helpers.CreateTestCompany(t, repos, "acme"),
	}
}

func newGuard(t *testing.T) *processor.IdempotencyService {
	_, adapter := helpers.SetupTestRedis(t)
	return processor.NewIdempotencyService(adapter, processor.DefaultIdempotencyConfig())
}

// pendingInvoice opens and charges an invoice so it waits for settlement.
func (e *testEnv) pendingInvoice(t *testing.T, total, fee int64) (*model.Invoice, *model.Transaction) {
	t.Helper()
	inv := helpers.CreateTestInvoice(t, e.repos, e.company.ID, total)
	return inv, e.chargeInvoice(t, inv, fee)
}

// chargeInvoice opens a new payment attempt for inv and charges it.
func (e *testEnv) chargeInvoice(t *testing.T, inv *model.Invoice, fee int64) *model.Transaction {
	t.Helper()
	ctx := context.Background()
	opened, err := e.payments.OpenInvoiceTransaction(ctx, inv.ID, "")
	require.NoError(t, err)

	e.gateway.On("Charge", mock.Anything, mock.MatchedBy(func(p gateway.ChargeParams) bool {
		return p.TransactionDetails.OrderID == inv.ID
	})).Return(&gateway.Result{Code: 201, Message: "Success, Bank Transfer transaction is created"}, nil).Once()

	_, err = e.payments.Charge(ctx, model.TransactionKindInvoice, fixtures.ChargeRequest(inv.ID, inv.Total, fee))
	require.NoError(t, err)

	txn, err := e.repos.Transactions.GetByOrderID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, opened.ID, txn.ID)
	require.Equal(t, model.TransactionStatusPending, txn.Status)
	return txn
}

// chargePlanChange opens a plan change for the company's subscription and charges it.
func (e *testEnv) chargePlanChange(t *testing.T, sub *model.Subscription, plan *model.Plan) *model.Transaction {
	t.Helper()
	ctx := context.Background()
	opened, err := e.payments.OpenSubscriptionTransaction(ctx, e.company.ID, plan.ID)
	require.NoError(t, err)

	e.gateway.On("Charge", mock.Anything, mock.MatchedBy(func(p gateway.ChargeParams) bool {
		return p.TransactionDetails.OrderID == sub.ID
	})).Return(&gateway.Result{Code: 201}, nil).Once()

	req := fixtures.ChargeRequest(sub.ID, plan.Price, 0)
	req.CompanyID = e.company.ID
	_, err = e.payments.Charge(ctx, model.TransactionKindSubscription, req)
	require.NoError(t, err)
	return opened
}

func (e *testEnv) transaction(t *testing.T, id string) *model.Transaction {
	t.Helper()
	txn, err := e.repos.Transactions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return txn
}

// guardModes runs a test against the ledger alone and behind the Redis delivery guard.
func guardModes(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	t.Run("ledger only", func(t *testing.T) { fn(t, newTestEnv(t, nil)) })
	t.Run("with delivery guard", func(t *testing.T) { fn(t, newTestEnv(t, newGuard(t))) })
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, kind, svcErr.Kind, "unexpected error: %v", err)
	return svcErr
}
