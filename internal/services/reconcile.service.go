package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/processor"
	"github.com/nimasrn/payment-reconciler/internal/repository"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/prom"
	"github.com/shopspring/decimal"
)

type SignatureVerifier interface {
	Verify(orderID, statusCode, grossAmount, received string) bool
}

// DeliveryGuard collapses concurrent and repeated deliveries of one notification.
type DeliveryGuard interface {
	AcquireProcessingLock(ctx context.Context, resource, fingerprint string) (*processor.ProcessingContext, error)
	MarkSuccess(ctx context.Context, pc *processor.ProcessingContext) error
	ReleaseLock(ctx context.Context, pc *processor.ProcessingContext) error
}

type NotificationLog interface {
	Create(ctx context.Context, rec *model.NotificationRecord) error
}

// errSuperseded aborts a ledger transaction whose compare-and-set lost to a concurrent writer.
var errSuperseded = errors.New("transaction changed concurrently")

type ReconcileService struct {
	ledger   Ledger
	verifier SignatureVerifier
	guard    DeliveryGuard
	audit    NotificationLog
	events   EventPublisher
	now      func() time.Time
}

// NewReconcileService wires the webhook dispatcher. guard and audit are optional.
func NewReconcileService(ledger Ledger, verifier SignatureVerifier, guard DeliveryGuard, audit NotificationLog, events EventPublisher) *ReconcileService {
	if events == nil {
		events = noopPublisher{}
	}
	return &ReconcileService{
		ledger:   ledger,
		verifier: verifier,
		guard:    guard,
		audit:    audit,
		events:   events,
		now:      time.Now,
	}
}

type outcome struct {
	kind   model.NotificationOutcome
	detail string
}

// HandleNotification authenticates a gateway notification and applies it to the
// ledger. Redelivery of an already applied notification succeeds without effect.
func (s *ReconcileService) HandleNotification(ctx context.Context, payload []byte) error {
	var n model.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		s.record(ctx, n, payload, false, outcome{model.OutcomeRejected, "malformed payload"})
		return Invalid("malformed notification payload")
	}

	if missing := n.MissingFields(); len(missing) > 0 {
		s.record(ctx, n, payload, false, outcome{model.OutcomeRejected, "missing " + strings.Join(missing, ", ")})
		return Invalid("missing required fields: %s", strings.Join(missing, ", "))
	}

	if !s.verifier.Verify(n.OrderID, n.StatusCode.String(), n.GrossAmount.String(), n.SignatureKey) {
		logger.Warn("notification signature rejected", "transaction_status", n.TransactionStatus)
		s.record(ctx, n, payload, false, outcome{model.OutcomeInvalidSignature, ""})
		return Unauthorized("invalid signature")
	}

	txn, err := s.ledger.Transactions.GetByOrderID(ctx, n.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			s.record(ctx, n, payload, true, outcome{model.OutcomeUnknownOrder, ""})
			return NotFound("transaction not found")
		}
		s.record(ctx, n, payload, true, outcome{model.OutcomeError, err.Error()})
		return StoreFailure(err)
	}

	res, err := s.guarded(ctx, n, txn)
	s.record(ctx, n, payload, true, res)
	return err
}

// guarded applies n to txn under the delivery guard. Lock and processed marker are
// scoped to the transaction, so a later payment attempt on the same order is never
// mistaken for a redelivery.
func (s *ReconcileService) guarded(ctx context.Context, n model.Notification, txn *model.Transaction) (outcome, error) {
	if s.guard == nil {
		return s.apply(ctx, n, txn)
	}

	fingerprint := txn.ID + ":" + n.TransactionStatus + ":" + strings.ToLower(n.SignatureKey)
	pc, err := s.guard.AcquireProcessingLock(ctx, "notification:"+txn.ID, "notification:"+fingerprint)
	switch {
	case errors.Is(err, processor.ErrAlreadyProcessed):
		return outcome{model.OutcomeDuplicate, "already processed"}, nil
	case errors.Is(err, processor.ErrLockAcquireFailed):
		return outcome{model.OutcomeConflict, "concurrent delivery"}, Conflict("notification for this order is being processed")
	case err != nil:
		logger.Warn("delivery guard unavailable, relying on ledger", "order_id", n.OrderID, "error", err)
		return s.apply(ctx, n, txn)
	}

	// the row may have moved while another delivery held the lock
	current, err := s.ledger.Transactions.GetByID(ctx, txn.ID)
	if err != nil {
		_ = s.guard.ReleaseLock(ctx, pc)
		return outcome{model.OutcomeError, err.Error()}, StoreFailure(err)
	}

	res, err := s.apply(ctx, n, current)
	if err == nil {
		if markErr := s.guard.MarkSuccess(ctx, pc); markErr != nil {
			logger.Warn("failed to mark notification processed", "order_id", n.OrderID, "error", markErr)
		}
	} else {
		_ = s.guard.ReleaseLock(ctx, pc)
	}
	return res, err
}

func (s *ReconcileService) apply(ctx context.Context, n model.Notification, txn *model.Transaction) (outcome, error) {
	switch n.Action() {
	case model.NotificationSettle:
		return s.settle(ctx, txn, n)
	case model.NotificationVoid:
		return s.void(ctx, txn, n)
	}

	logger.Info("notification acknowledged without ledger change", "order_id", n.OrderID, "transaction_status", n.TransactionStatus, "fraud_status", n.FraudStatus)
	return outcome{model.OutcomeIgnored, n.TransactionStatus}, nil
}

func (s *ReconcileService) settle(ctx context.Context, txn *model.Transaction, n model.Notification) (outcome, error) {
	switch txn.Status {
	case model.TransactionStatusPaid:
		return outcome{model.OutcomeDuplicate, "transaction already paid"}, nil
	case model.TransactionStatusUnpaid:
		return outcome{model.OutcomeConflict, "settlement before charge recorded"}, Conflict("transaction has not been charged yet")
	case model.TransactionStatusCancelled, model.TransactionStatusFailed:
		logger.Error("settlement received for a voided transaction", "order_id", txn.OrderID, "status", txn.Status, "gross_amount", n.GrossAmount.String())
		return outcome{model.OutcomeConflict, "settlement after " + string(txn.Status)}, Conflict("transaction already %s", txn.Status)
	}

	s.checkGrossAmount(txn, n)

	paidAt := s.now()
	method := n.PaymentType
	err := s.ledger.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.ledger.Transactions.Transition(ctx, txn.ID,
			[]model.TransactionStatus{model.TransactionStatusPending}, model.TransactionStatusPaid, &method)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}

		switch txn.Kind {
		case model.TransactionKindInvoice:
			inv, err := s.ledger.Invoices.GetByID(ctx, txn.OrderID)
			if err != nil {
				if errors.Is(err, repository.ErrInvoiceNotFound) {
					return NotFound("invoice not found")
				}
				return err
			}
			ok, err := s.ledger.Invoices.MarkPaid(ctx, inv.ID, paidAt)
			if err != nil {
				return err
			}
			if !ok {
				return Conflict("invoice already paid")
			}
			return s.ledger.Companies.IncrementAmount(ctx, inv.CompanyID, inv.Total)
		case model.TransactionKindSubscription:
			if txn.PlanID == nil {
				return errors.New("subscription transaction has no plan")
			}
			return s.ledger.Subscriptions.ChangePlan(ctx, txn.OrderID, *txn.PlanID)
		}
		return nil
	})
	if err != nil {
		return s.ledgerFailure(ctx, txn, err)
	}

	prom.IncTransition(string(model.TransactionStatusPending), string(model.TransactionStatusPaid))
	logger.Info("payment settled", "order_id", txn.OrderID, "kind", txn.Kind, "company_id", txn.CompanyID, "payment_type", method)

	txn.Status = model.TransactionStatusPaid
	txn.PaymentMethod = &method
	s.events.Publish(ctx, model.NewPaymentEvent(model.EventPaymentSettled, txn, paidAt))
	return outcome{model.OutcomeSettled, ""}, nil
}

func (s *ReconcileService) void(ctx context.Context, txn *model.Transaction, n model.Notification) (outcome, error) {
	if txn.Status.IsTerminal() {
		return outcome{model.OutcomeDuplicate, "transaction already " + string(txn.Status)}, nil
	}

	if txn.Kind == model.TransactionKindInvoice {
		inv, err := s.ledger.Invoices.GetByID(ctx, txn.OrderID)
		if err != nil {
			if errors.Is(err, repository.ErrInvoiceNotFound) {
				return outcome{model.OutcomeError, "invoice missing"}, NotFound("invoice not found")
			}
			return outcome{model.OutcomeError, err.Error()}, StoreFailure(err)
		}
		if inv.Status == model.InvoiceStatusPaid {
			return outcome{model.OutcomeConflict, "invoice already paid"}, Conflict("invoice already paid")
		}
	}

	from := txn.Status
	err := s.ledger.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if txn.Kind == model.TransactionKindInvoice {
			ok, err := s.ledger.Invoices.ResetUnpaid(ctx, txn.OrderID)
			if err != nil {
				return err
			}
			if !ok {
				return Conflict("invoice already paid")
			}
		}
		ok, err := s.ledger.Transactions.Transition(ctx, txn.ID,
			[]model.TransactionStatus{model.TransactionStatusUnpaid, model.TransactionStatusPending}, model.TransactionStatusFailed, nil)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		return nil
	})
	if err != nil {
		return s.ledgerFailure(ctx, txn, err)
	}

	prom.IncTransition(string(from), string(model.TransactionStatusFailed))
	logger.Info("payment voided", "order_id", txn.OrderID, "kind", txn.Kind, "transaction_status", n.TransactionStatus)

	txn.Status = model.TransactionStatusFailed
	s.events.Publish(ctx, model.NewPaymentEvent(model.EventPaymentFailed, txn, s.now()))
	return outcome{model.OutcomeVoided, n.TransactionStatus}, nil
}

// ledgerFailure maps an aborted ledger transaction. A lost compare-and-set is
// re-read: if a concurrent delivery already applied the same result it is a duplicate.
func (s *ReconcileService) ledgerFailure(ctx context.Context, txn *model.Transaction, err error) (outcome, error) {
	if errors.Is(err, errSuperseded) {
		current, getErr := s.ledger.Transactions.GetByOrderID(ctx, txn.OrderID)
		if getErr == nil && current.ID == txn.ID && current.Status.IsTerminal() {
			return outcome{model.OutcomeDuplicate, "resolved concurrently as " + string(current.Status)}, nil
		}
		return outcome{model.OutcomeConflict, errSuperseded.Error()}, Conflict("%s", errSuperseded.Error())
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		if svcErr.Kind == KindConflict {
			return outcome{model.OutcomeConflict, svcErr.Message}, svcErr
		}
		return outcome{model.OutcomeError, svcErr.Message}, svcErr
	}
	logger.Error("ledger update failed", "order_id", txn.OrderID, "error", err)
	return outcome{model.OutcomeError, err.Error()}, StoreFailure(err)
}

func (s *ReconcileService) checkGrossAmount(txn *model.Transaction, n model.Notification) {
	if txn.GrossAmount == nil {
		return
	}
	got, err := decimal.NewFromString(n.GrossAmount.String())
	if err != nil {
		logger.Warn("notification gross_amount is not a number", "order_id", txn.OrderID, "gross_amount", n.GrossAmount.String())
		return
	}
	if !got.Equal(decimal.NewFromInt(*txn.GrossAmount)) {
		logger.Warn("notification gross_amount differs from the charged amount",
			"order_id", txn.OrderID,
			"charged", *txn.GrossAmount,
			"notified", got.String())
	}
}

func (s *ReconcileService) record(ctx context.Context, n model.Notification, payload []byte, signatureValid bool, res outcome) {
	prom.IncNotification(n.TransactionStatus, string(res.kind))
	if s.audit == nil {
		return
	}
	raw := json.RawMessage(payload)
	if !json.Valid(payload) {
		raw = nil
	}
	rec := &model.NotificationRecord{
		OrderID:           n.OrderID,
		TransactionStatus: n.TransactionStatus,
		StatusCode:        n.StatusCode.String(),
		GrossAmount:       n.GrossAmount.String(),
		PaymentType:       n.PaymentType,
		FraudStatus:       n.FraudStatus,
		SignatureValid:    signatureValid,
		Outcome:           res.kind,
		Detail:            res.detail,
		Payload:           raw,
		ReceivedAt:        s.now(),
	}
	if err := s.audit.Create(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to write notification audit record", "order_id", n.OrderID, "error", err)
	}
}
