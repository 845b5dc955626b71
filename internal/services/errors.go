package services

import (
	"errors"
	"fmt"
	"net/http"

	gateway "github.com/nimasrn/payment-reconciler/internal/gateways"
)

type Kind int

const (
	KindInvalid Kind = iota + 1
	KindNotFound
	KindConflict
	KindUnauthorized
	KindGateway
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindGateway:
		return "gateway"
	case KindStore:
		return "store"
	}
	return "unknown"
}

// Error is the result of every failed operation. Code is the HTTP status the
// API answers with; for gateway errors it is the gateway's own status_code.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalid, Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Code: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Code: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: http.StatusUnauthorized, Message: message}
}

// StoreFailure hides the cause from callers; it stays reachable through Unwrap for logs.
func StoreFailure(err error) *Error {
	return &Error{Kind: KindStore, Code: http.StatusInternalServerError, Message: "internal server error", Err: err}
}

// GatewayFailure keeps the gateway's status_message. A status_code that is not an
// HTTP error status becomes 502 and is kept in the message.
func GatewayFailure(err error) *Error {
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		return &Error{Kind: KindGateway, Code: http.StatusBadGateway, Message: "payment gateway error", Err: err}
	}
	code, message := gwErr.Code, gwErr.Message
	if code < 400 || code > 599 {
		code = http.StatusBadGateway
		message = fmt.Sprintf("payment gateway answered %d: %s", gwErr.Code, gwErr.Message)
	}
	return &Error{Kind: KindGateway, Code: code, Message: message, Err: err}
}

// AsError maps any error to *Error. Unknown errors are store failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return StoreFailure(err)
}

func IsKind(err error, kind Kind) bool {
	var svcErr *Error
	return errors.As(err, &svcErr) && svcErr.Kind == kind
}
