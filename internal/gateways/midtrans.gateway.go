// Package gateway is a thin client for the Midtrans-compatible payment gateway:
// charge, cancel and status. Calls are never retried.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/prom"
	"github.com/valyala/fasthttp"
)

const (
	OpCharge = "charge"
	OpCancel = "cancel"
	OpStatus = "status"
)

var (
	ErrCircuitOpen = errors.New("gateway circuit breaker is open")
	ErrTimeout     = errors.New("gateway request timed out")
)

var successCodes = map[string][]int{
	OpCharge: {201},
	OpCancel: {200},
	OpStatus: {200, 201, 407},
}

// Result is the gateway's answer: its status_code, status_message and the raw body.
type Result struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Error is returned when the gateway answers with a non-success code or cannot be reached.
// Code is the gateway status_code, or 502/503/504 for transport problems.
type Error struct {
	Op      string
	Code    int
	Message string
	Body    json.RawMessage
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s failed with %d: %s: %v", e.Op, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s failed with %d: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

type ChargeParams struct {
	PaymentType        string
	TransactionDetails model.TransactionDetails
	CustomerDetails    *model.CustomerDetails
	PaymentOptions     json.RawMessage
}

type Config struct {
	BaseURL          string
	ServerKey        string
	Timeout          time.Duration
	MaxConns         int
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Dial overrides the TCP dialer, e.g. with an in-memory listener.
	Dial fasthttp.DialFunc
}

type Client struct {
	config  Config
	http    *fasthttp.Client
	auth    string
	metrics *CallMetrics
	breaker *breaker
}

func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if config.ServerKey == "" {
		return nil, errors.New("gateway server key is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 256
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = 30 * time.Second
	}

	c := &Client{
		config: config,
		http: &fasthttp.Client{
			Name:                "payment-reconciler",
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: time.Minute,
			Dial:                config.Dial,
		},
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(config.ServerKey+":")),
		metrics: NewCallMetrics(),
		breaker: newBreaker(config.BreakerThreshold, config.BreakerCooldown),
	}

	logger.Info("gateway client initialized", "base_url", config.BaseURL, "timeout", config.Timeout)
	return c, nil
}

func (c *Client) Charge(ctx context.Context, p ChargeParams) (*Result, error) {
	body := map[string]interface{}{
		"payment_type":        p.PaymentType,
		"transaction_details": p.TransactionDetails,
	}
	if p.CustomerDetails != nil {
		body["customer_details"] = p.CustomerDetails
	}
	if len(p.PaymentOptions) > 0 {
		body[p.PaymentType] = p.PaymentOptions
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}
	return c.call(ctx, OpCharge, fasthttp.MethodPost, "/v2/charge", payload)
}

func (c *Client) Cancel(ctx context.Context, orderID string) (*Result, error) {
	return c.call(ctx, OpCancel, fasthttp.MethodPost, "/v2/"+orderID+"/cancel", nil)
}

func (c *Client) Status(ctx context.Context, orderID string) (*Result, error) {
	return c.call(ctx, OpStatus, fasthttp.MethodGet, "/v2/"+orderID+"/status", nil)
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte) (*Result, error) {
	if !c.breaker.allow() {
		prom.ObserveGatewayCall(op, "circuit_open", 0)
		return nil, &Error{Op: op, Code: fasthttp.StatusServiceUnavailable, Message: "payment gateway temporarily unavailable", Err: ErrCircuitOpen}
	}

	start := time.Now()
	status, respBody, err := c.doRequest(ctx, method, path, body)
	latency := time.Since(start)

	if err != nil {
		c.recordTransportFailure(op)
		prom.ObserveGatewayCall(op, "transport_error", latency.Seconds())
		code, msg := fasthttp.StatusBadGateway, "payment gateway unreachable"
		if errors.Is(err, ErrTimeout) {
			code, msg = fasthttp.StatusGatewayTimeout, "payment gateway timed out"
		}
		logger.Warn("gateway request failed", "op", op, "path", path, "latency", latency.String(), "error", err)
		return nil, &Error{Op: op, Code: code, Message: msg, Err: err}
	}

	if status >= 500 {
		c.recordTransportFailure(op)
	} else {
		c.metrics.RecordSuccess(latency.Milliseconds())
		c.breaker.onSuccess()
	}

	res := parseResult(status, respBody)
	if !isSuccess(op, res.Code) {
		prom.ObserveGatewayCall(op, "rejected", latency.Seconds())
		logger.Info("gateway rejected request", "op", op, "path", path, "code", res.Code, "message", res.Message)
		return res, &Error{Op: op, Code: res.Code, Message: res.Message, Body: res.Body}
	}

	prom.ObserveGatewayCall(op, "ok", latency.Seconds())
	logger.Debug("gateway call succeeded", "op", op, "path", path, "code", res.Code, "latency_ms", latency.Milliseconds())
	return res, nil
}

func (c *Client) recordTransportFailure(op string) {
	fails := c.metrics.RecordFailure()
	if c.breaker.onFailure(fails) {
		logger.Warn("gateway circuit breaker opened", "op", op, "consecutive_fails", fails, "cooldown", c.config.BreakerCooldown)
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.auth)
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		var netErr net.Error
		if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return 0, nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return 0, nil, err
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return resp.StatusCode(), out, nil
}

// parseResult reads status_code from the body, which the gateway reports
// independently of the HTTP status, falling back to the HTTP status.
func parseResult(httpStatus int, body []byte) *Result {
	var envelope struct {
		StatusCode    model.FlexString `json:"status_code"`
		StatusMessage string           `json:"status_message"`
	}
	res := &Result{Code: httpStatus}
	if len(body) > 0 && json.Valid(body) {
		res.Body = body
		if err := json.Unmarshal(body, &envelope); err == nil {
			if code, err := strconv.Atoi(envelope.StatusCode.String()); err == nil {
				res.Code = code
			}
			res.Message = envelope.StatusMessage
		}
	}
	if res.Message == "" {
		res.Message = fasthttp.StatusMessage(res.Code)
	}
	return res
}

func isSuccess(op string, code int) bool {
	for _, c := range successCodes[op] {
		if c == code {
			return true
		}
	}
	return false
}

func (c *Client) Stats() Stats {
	return Stats{
		State:            c.breaker.state().String(),
		TotalRequests:    c.metrics.TotalRequests.Load(),
		SuccessfulReqs:   c.metrics.SuccessfulReqs.Load(),
		FailedReqs:       c.metrics.FailedReqs.Load(),
		SuccessRate:      c.metrics.SuccessRate(),
		AvgLatencyMs:     c.metrics.AvgLatencyMs(),
		P95LatencyMs:     c.metrics.P95LatencyMs(),
		LastLatencyMs:    c.metrics.LastLatencyMs.Load(),
		ConsecutiveFails: c.metrics.ConsecutiveFails.Load(),
	}
}

func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
