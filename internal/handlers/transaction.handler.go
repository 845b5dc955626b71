package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fasthttp/router"
	gateway "github.com/nimasrn/payment-reconciler/internal/gateways"
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/services"
	xhttp "github.com/nimasrn/payment-reconciler/pkg/http"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/valyala/fasthttp"
)

type PaymentService interface {
	OpenInvoiceTransaction(ctx context.Context, invoiceID, companyID string) (*model.Transaction, error)
	OpenSubscriptionTransaction(ctx context.Context, companyID, planID string) (*model.Transaction, error)
	Charge(ctx context.Context, kind model.TransactionKind, req model.ChargeRequest) (*gateway.Result, error)
	Cancel(ctx context.Context, kind model.TransactionKind, orderID string) (*gateway.Result, error)
	Withdraw(ctx context.Context, kind model.TransactionKind, orderID, companyID string) (*model.Transaction, error)
	Status(ctx context.Context, orderID string) (*gateway.Result, error)
	Get(ctx context.Context, orderID, companyID string) (*model.Transaction, error)
}

type NotificationService interface {
	HandleNotification(ctx context.Context, payload []byte) error
}

type TransactionHandler struct {
	payments  PaymentService
	reconcile NotificationService
}

func NewTransactionHandler(payments PaymentService, reconcile NotificationService) *TransactionHandler {
	return &TransactionHandler{
		payments:  payments,
		reconcile: reconcile,
	}
}

// RegisterTransactionRoutes mounts the payment API under /transactions. Routes
// that act on behalf of a company require a bearer token.
func RegisterTransactionRoutes(e *router.Group, h *TransactionHandler, auth Authenticator) {
	g := e.Group("/transactions")

	g.POST("/invoice/{invoice_id}/send", RequireUser(auth, h.SendInvoice))
	g.DELETE("/invoice/{invoice_id}/send-cancel", RequireUser(auth, h.WithdrawInvoice))
	g.POST("/invoice/pay", h.PayInvoice)
	g.DELETE("/invoice/{invoice_id}/pay-cancel", h.CancelInvoicePayment)

	g.POST("/subscription/change-request", RequireUser(auth, h.RequestPlanChange))
	g.POST("/subscription/pay", h.PaySubscription)
	g.DELETE("/subscription/{subscription_id}/cancel-request", h.WithdrawPlanChange)
	g.DELETE("/subscription/{subscription_id}/cancel-pay", h.CancelSubscriptionPayment)

	g.GET("/status/{order_id}", h.GatewayStatus)
	g.GET("/{order_id}", RequireUser(auth, h.GetTransaction))
	g.POST("/webhook", h.Notification)
}

/* ---------------------------------- Invoice ---------------------------------- */

func (h *TransactionHandler) SendInvoice(ctx *xhttp.RequestCtx) {
	invoiceID, ok := pathParam(ctx, "invoice_id")
	if !ok {
		return
	}
	txn, err := h.payments.OpenInvoiceTransaction(ctx, invoiceID, currentUser(ctx).CompanyID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "send transaction successfully", txn)
}

func (h *TransactionHandler) WithdrawInvoice(ctx *xhttp.RequestCtx) {
	invoiceID, ok := pathParam(ctx, "invoice_id")
	if !ok {
		return
	}
	txn, err := h.payments.Withdraw(ctx, model.TransactionKindInvoice, invoiceID, currentUser(ctx).CompanyID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "cancel send invoice successfully", txn)
}

func (h *TransactionHandler) PayInvoice(ctx *xhttp.RequestCtx) {
	h.charge(ctx, model.TransactionKindInvoice)
}

func (h *TransactionHandler) CancelInvoicePayment(ctx *xhttp.RequestCtx) {
	h.cancel(ctx, model.TransactionKindInvoice, "invoice_id")
}

/* ------------------------------- Subscription -------------------------------- */

func (h *TransactionHandler) RequestPlanChange(ctx *xhttp.RequestCtx) {
	planID := strings.TrimSpace(string(ctx.QueryArgs().Peek("plan_id")))
	if planID == "" {
		xhttp.WriteEnvelope(ctx, fasthttp.StatusBadRequest, false, "plan_id is required", nil)
		return
	}
	txn, err := h.payments.OpenSubscriptionTransaction(ctx, currentUser(ctx).CompanyID, planID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "request change subscription successfully", txn)
}

func (h *TransactionHandler) PaySubscription(ctx *xhttp.RequestCtx) {
	h.charge(ctx, model.TransactionKindSubscription)
}

func (h *TransactionHandler) WithdrawPlanChange(ctx *xhttp.RequestCtx) {
	subscriptionID, ok := pathParam(ctx, "subscription_id")
	if !ok {
		return
	}
	txn, err := h.payments.Withdraw(ctx, model.TransactionKindSubscription, subscriptionID, "")
	if err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "cancel change subscription successfully", txn)
}

func (h *TransactionHandler) CancelSubscriptionPayment(ctx *xhttp.RequestCtx) {
	h.cancel(ctx, model.TransactionKindSubscription, "subscription_id")
}

/* ---------------------------------- Common ----------------------------------- */

func (h *TransactionHandler) GatewayStatus(ctx *xhttp.RequestCtx) {
	orderID, ok := pathParam(ctx, "order_id")
	if !ok {
		return
	}
	res, err := h.payments.Status(ctx, orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "get status transaction successfully", gatewayData(res))
}

func (h *TransactionHandler) GetTransaction(ctx *xhttp.RequestCtx) {
	orderID, ok := pathParam(ctx, "order_id")
	if !ok {
		return
	}
	txn, err := h.payments.Get(ctx, orderID, currentUser(ctx).CompanyID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "get transaction successfully", txn)
}

// Notification is the gateway webhook. Any non-2xx answer makes the gateway redeliver.
func (h *TransactionHandler) Notification(ctx *xhttp.RequestCtx) {
	if err := h.reconcile.HandleNotification(ctx, ctx.PostBody()); err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "notification processed", nil)
}

func (h *TransactionHandler) charge(ctx *xhttp.RequestCtx, kind model.TransactionKind) {
	var req model.ChargeRequest
	if err := readJSON(ctx, &req); err != nil {
		xhttp.WriteEnvelope(ctx, fasthttp.StatusBadRequest, false, "invalid JSON: "+err.Error(), nil)
		return
	}
	res, err := h.payments.Charge(ctx, kind, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusCreated, true, "create transaction successfully", gatewayData(res))
}

func (h *TransactionHandler) cancel(ctx *xhttp.RequestCtx, kind model.TransactionKind, param string) {
	orderID, ok := pathParam(ctx, param)
	if !ok {
		return
	}
	res, err := h.payments.Cancel(ctx, kind, orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "cancel transaction successfully", gatewayData(res))
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeError(ctx *xhttp.RequestCtx, err error) {
	svcErr := services.AsError(err)
	if svcErr.Kind == services.KindStore {
		logger.Error("request failed", "path", string(ctx.Path()), "request_id", xhttp.RequestID(ctx), "error", err)
	}
	xhttp.WriteEnvelope(ctx, svcErr.Code, false, svcErr.Message, nil)
}

func pathParam(ctx *xhttp.RequestCtx, name string) (string, bool) {
	v, _ := ctx.UserValue(name).(string)
	v = strings.TrimSpace(v)
	if v == "" {
		xhttp.WriteEnvelope(ctx, fasthttp.StatusBadRequest, false, "invalid "+name, nil)
		return "", false
	}
	return v, true
}

// gatewayData returns the gateway's own response body when it is JSON.
func gatewayData(res *gateway.Result) any {
	if res == nil {
		return nil
	}
	if len(res.Body) > 0 && json.Valid(res.Body) {
		return res.Body
	}
	return res
}
