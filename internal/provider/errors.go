package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the engine-level classification of a provider failure.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindPaymentRequired ErrorKind = "payment_required"
	KindTransient       ErrorKind = "transient"
	KindRejected        ErrorKind = "rejected"
)

// Provider status codes that carry meaning beyond the HTTP status.
const (
	codeOK              = 20000
	codeCreated         = 20100
	codePaymentRequired = 40200
	codeRateLimited     = 40202
	codeNoFunds         = 40210
	codeTaskHandled     = 40601
	codeTaskInQueue     = 40602
)

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	HTTPStatus int
	Code       int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %s", e.Kind)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (http %d)", e.HTTPStatus)
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" [%d]", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a provider error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether err is worth another attempt: rate limiting,
// transient upstream failures and timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindRateLimited, KindTransient:
		return true
	case KindPaymentRequired, KindRejected:
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsFatal reports whether err must abort a whole scan.
func IsFatal(err error) bool {
	return KindOf(err) == KindPaymentRequired
}

// classify maps an HTTP status and provider status code onto an error kind.
// It returns nil for successful codes.
func classify(httpStatus, code int, message string) *Error {
	kind := ErrorKind("")
	switch {
	case httpStatus == http.StatusTooManyRequests || code == codeRateLimited:
		kind = KindRateLimited
	case httpStatus == http.StatusPaymentRequired || code == codePaymentRequired || code == codeNoFunds:
		kind = KindPaymentRequired
	case httpStatus >= 500 || (code >= 50000 && code < 60000):
		kind = KindTransient
	case httpStatus >= 400 || (code >= 40000 && code < 50000):
		kind = KindRejected
	default:
		return nil
	}
	return &Error{Kind: kind, HTTPStatus: httpStatus, Code: code, Message: message}
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransient, Message: "request failed", Err: err}
}
