package services

import (
	"context"
	"errors"
	"time"

	gateway "github.com/nimasrn/payment-reconciler/internal/gateways"
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/repository"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/prom"
)

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetByID(ctx context.Context, id string) (*model.Transaction, error)
	GetByOrderID(ctx context.Context, orderID string) (*model.Transaction, error)
	GetOpenByOrderID(ctx context.Context, orderID string) (*model.Transaction, error)
	MarkPending(ctx context.Context, id string, charge model.ChargeUpdate) (bool, error)
	Transition(ctx context.Context, id string, from []model.TransactionStatus, to model.TransactionStatus, paymentMethod *string) (bool, error)
}

type InvoiceRepository interface {
	GetByID(ctx context.Context, id string) (*model.Invoice, error)
	MarkPaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	ResetUnpaid(ctx context.Context, id string) (bool, error)
}

type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*model.Company, error)
	IncrementAmount(ctx context.Context, id string, delta int64) error
}

type SubscriptionRepository interface {
	GetByCompanyID(ctx context.Context, companyID string) (*model.Subscription, error)
	ChangePlan(ctx context.Context, id string, planID string) error
}

type PlanRepository interface {
	GetByID(ctx context.Context, id string) (*model.Plan, error)
}

// TxRunner runs fn in one database transaction carried on ctx.
type TxRunner interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type PaymentGateway interface {
	Charge(ctx context.Context, p gateway.ChargeParams) (*gateway.Result, error)
	Cancel(ctx context.Context, orderID string) (*gateway.Result, error)
	Status(ctx context.Context, orderID string) (*gateway.Result, error)
}

// EventPublisher hands payment events to downstream notifiers. It must not block
// or fail the caller.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.PaymentEvent)
}

// Ledger groups the stores the payment services read and write.
type Ledger struct {
	Tx            TxRunner
	Transactions  TransactionRepository
	Invoices      InvoiceRepository
	Companies     CompanyRepository
	Subscriptions SubscriptionRepository
	Plans         PlanRepository
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.PaymentEvent) {}

type PaymentService struct {
	ledger  Ledger
	gateway PaymentGateway
	events  EventPublisher
	now     func() time.Time
}

func NewPaymentService(ledger Ledger, gw PaymentGateway, events EventPublisher) *PaymentService {
	if events == nil {
		events = noopPublisher{}
	}
	return &PaymentService{
		ledger:  ledger,
		gateway: gw,
		events:  events,
		now:     time.Now,
	}
}

// OpenInvoiceTransaction creates the unpaid payment request for an invoice.
// A non-empty companyID restricts the invoice to that tenant.
func (s *PaymentService) OpenInvoiceTransaction(ctx context.Context, invoiceID, companyID string) (*model.Transaction, error) {
	inv, err := s.ledger.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, lookupError(err, repository.ErrInvoiceNotFound, "invoice not found")
	}
	if companyID != "" && inv.CompanyID != companyID {
		return nil, NotFound("invoice not found")
	}
	if inv.Status == model.InvoiceStatusPaid {
		return nil, Invalid("invoice already paid")
	}

	return s.open(ctx, &model.Transaction{
		OrderID:   inv.ID,
		CompanyID: inv.CompanyID,
		Kind:      model.TransactionKindInvoice,
		NetAmount: inv.Total,
		Status:    model.TransactionStatusUnpaid,
	})
}

// OpenSubscriptionTransaction creates the unpaid request to move the company's
// subscription to planID.
func (s *PaymentService) OpenSubscriptionTransaction(ctx context.Context, companyID, planID string) (*model.Transaction, error) {
	if _, err := s.ledger.Companies.GetByID(ctx, companyID); err != nil {
		return nil, lookupError(err, repository.ErrCompanyNotFound, "company not found")
	}
	sub, err := s.ledger.Subscriptions.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, lookupError(err, repository.ErrSubscriptionNotFound, "subscription not found")
	}
	plan, err := s.ledger.Plans.GetByID(ctx, planID)
	if err != nil {
		return nil, lookupError(err, repository.ErrPlanNotFound, "plan not found")
	}

	return s.open(ctx, &model.Transaction{
		OrderID:   sub.ID,
		CompanyID: companyID,
		Kind:      model.TransactionKindSubscription,
		PlanID:    &plan.ID,
		NetAmount: plan.Price,
		Status:    model.TransactionStatusUnpaid,
	})
}

func (s *PaymentService) open(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if _, err := s.ledger.Transactions.GetOpenByOrderID(ctx, txn.OrderID); err == nil {
		return nil, Conflict("an open transaction already exists for order %s", txn.OrderID)
	} else if !errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, StoreFailure(err)
	}

	created, err := s.ledger.Transactions.Create(ctx, txn)
	if err != nil {
		if errors.Is(err, repository.ErrOpenTransactionExists) {
			return nil, Conflict("an open transaction already exists for order %s", txn.OrderID)
		}
		return nil, StoreFailure(err)
	}

	logger.Info("transaction opened", "order_id", created.OrderID, "kind", created.Kind, "net_amount", created.NetAmount)
	s.events.Publish(ctx, model.NewPaymentEvent(model.EventPaymentRequested, created, s.now()))
	return created, nil
}

// Charge submits an unpaid transaction to the gateway. Gateway rejections are
// returned unchanged and leave the transaction as it was.
func (s *PaymentService) Charge(ctx context.Context, kind model.TransactionKind, req model.ChargeRequest) (*gateway.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, Invalid("%s", err.Error())
	}

	orderID := req.TransactionDetails.OrderID
	txn, err := s.ledger.Transactions.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err, repository.ErrTransactionNotFound, "transaction not found")
	}
	if txn.Kind != kind || (req.CompanyID != "" && req.CompanyID != txn.CompanyID) {
		return nil, NotFound("transaction not found")
	}
	if txn.Status != model.TransactionStatusUnpaid {
		return nil, Conflict("transaction is %s and cannot be charged", txn.Status)
	}
	if req.Amount.NetAmount != txn.NetAmount {
		return nil, Invalid("amount.net_amount %d does not match the transaction amount %d", req.Amount.NetAmount, txn.NetAmount)
	}
	if req.TransactionDetails.GrossAmount != req.Amount.NetAmount+req.Amount.Fee {
		return nil, Invalid("transaction_details.gross_amount must equal amount.net_amount + amount.fee")
	}

	if kind == model.TransactionKindInvoice {
		inv, err := s.ledger.Invoices.GetByID(ctx, txn.OrderID)
		if err != nil {
			return nil, lookupError(err, repository.ErrInvoiceNotFound, "invoice not found")
		}
		if inv.Status == model.InvoiceStatusPaid {
			return nil, Invalid("invoice already paid")
		}
	}

	customer := req.CustomerDetails
	if customer == nil {
		if company, err := s.ledger.Companies.GetByID(ctx, txn.CompanyID); err == nil {
			customer = &model.CustomerDetails{FirstName: company.Name, Email: company.Email}
		}
	}

	res, err := s.gateway.Charge(ctx, gateway.ChargeParams{
		PaymentType:        req.PaymentType,
		TransactionDetails: req.TransactionDetails,
		CustomerDetails:    customer,
		PaymentOptions:     req.PaymentOptions,
	})
	if err != nil {
		prom.IncCharge(string(kind), "rejected")
		return nil, GatewayFailure(err)
	}

	ok, err := s.ledger.Transactions.MarkPending(ctx, txn.ID, model.ChargeUpdate{
		GrossAmount:   req.TransactionDetails.GrossAmount,
		Fee:           req.Amount.Fee,
		PaymentMethod: req.PaymentType,
	})
	if err != nil || !ok {
		// the gateway holds a charge the ledger does not know about
		s.compensate(ctx, orderID)
		prom.IncCharge(string(kind), "conflict")
		if err != nil {
			return nil, StoreFailure(err)
		}
		return nil, Conflict("transaction changed while the charge was in flight")
	}

	prom.IncCharge(string(kind), "accepted")
	prom.IncTransition(string(model.TransactionStatusUnpaid), string(model.TransactionStatusPending))
	logger.Info("charge accepted", "order_id", orderID, "kind", kind, "payment_type", req.PaymentType, "gross_amount", req.TransactionDetails.GrossAmount)

	txn.Status = model.TransactionStatusPending
	s.events.Publish(ctx, model.NewPaymentEvent(model.EventPaymentPending, txn, s.now()))
	return res, nil
}

func (s *PaymentService) compensate(ctx context.Context, orderID string) {
	if _, err := s.gateway.Cancel(context.WithoutCancel(ctx), orderID); err != nil {
		logger.Error("compensating gateway cancel failed", "order_id", orderID, "error", err)
		return
	}
	logger.Warn("charge cancelled at gateway after ledger update failed", "order_id", orderID)
}

// Cancel cancels a charged, still pending transaction at the gateway and in the ledger.
func (s *PaymentService) Cancel(ctx context.Context, kind model.TransactionKind, orderID string) (*gateway.Result, error) {
	txn, err := s.ledger.Transactions.GetOpenByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err, repository.ErrTransactionNotFound, "no pending transaction for this order")
	}
	if txn.Kind != kind || txn.Status != model.TransactionStatusPending {
		return nil, NotFound("no pending transaction for this order")
	}

	res, err := s.gateway.Cancel(ctx, orderID)
	if err != nil {
		return nil, GatewayFailure(err)
	}

	ok, err := s.ledger.Transactions.Transition(ctx, txn.ID,
		[]model.TransactionStatus{model.TransactionStatusPending}, model.TransactionStatusCancelled, nil)
	if err != nil {
		return nil, StoreFailure(err)
	}
	if !ok {
		return nil, Conflict("transaction was resolved before it could be cancelled")
	}

	prom.IncTransition(string(model.TransactionStatusPending), string(model.TransactionStatusCancelled))
	logger.Info("transaction cancelled", "order_id", orderID, "kind", kind)
	txn.Status = model.TransactionStatusCancelled
	s.events.Publish(ctx, model.NewPaymentEvent(model.EventPaymentCancelled, txn, s.now()))
	return res, nil
}

// Withdraw cancels an unpaid request that was never sent to the gateway.
// A non-empty companyID restricts the order to that tenant.
func (s *PaymentService) Withdraw(ctx context.Context, kind model.TransactionKind, orderID, companyID string) (*model.Transaction, error) {
	txn, err := s.ledger.Transactions.GetOpenByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err, repository.ErrTransactionNotFound, "no open transaction for this order")
	}
	if txn.Kind != kind || (companyID != "" && txn.CompanyID != companyID) {
		return nil, NotFound("no open transaction for this order")
	}
	if txn.Status == model.TransactionStatusPending {
		return nil, Conflict("transaction is already charged, cancel the payment instead")
	}

	ok, err := s.ledger.Transactions.Transition(ctx, txn.ID,
		[]model.TransactionStatus{model.TransactionStatusUnpaid}, model.TransactionStatusCancelled, nil)
	if err != nil {
		return nil, StoreFailure(err)
	}
	if !ok {
		return nil, Conflict("transaction changed concurrently")
	}

	prom.IncTransition(string(model.TransactionStatusUnpaid), string(model.TransactionStatusCancelled))
	txn.Status = model.TransactionStatusCancelled
	txn.UpdatedAt = s.now()
	s.events.Publish(ctx, model.NewPaymentEvent(model.EventPaymentCancelled, txn, s.now()))
	return txn, nil
}

// Status reads the order's state straight from the gateway.
func (s *PaymentService) Status(ctx context.Context, orderID string) (*gateway.Result, error) {
	res, err := s.gateway.Status(ctx, orderID)
	if err != nil {
		return nil, GatewayFailure(err)
	}
	return res, nil
}

// Get returns the current transaction for orderID.
func (s *PaymentService) Get(ctx context.Context, orderID, companyID string) (*model.Transaction, error) {
	txn, err := s.ledger.Transactions.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err, repository.ErrTransactionNotFound, "transaction not found")
	}
	if companyID != "" && txn.CompanyID != companyID {
		return nil, NotFound("transaction not found")
	}
	return txn, nil
}

func lookupError(err, notFound error, message string) error {
	if errors.Is(err, notFound) {
		return NotFound("%s", message)
	}
	return StoreFailure(err)
}
