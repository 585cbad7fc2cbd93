package purchase

import (
	"errors"
	"fmt"
)

// Stable machine-readable error codes surfaced to the request layer.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeAlreadyOwned      = "ALREADY_OWNED"
	CodePaymentDeclined   = "PAYMENT_DECLINED"
	CodeDuplicateInFlight = "DUPLICATE_IN_FLIGHT"
	CodeRateLimited       = "RATE_LIMITED"
	CodeStillProcessing   = "STILL_PROCESSING"
	CodeWriteFailure      = "WRITE_FAILURE"
)

// Error is the engine's error type. Code is stable for clients, Message is
// human-readable, Retryable tells the caller whether backing off and
// retrying the identical request can succeed.
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newRetryableError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Retryable: true, Err: cause}
}

// CodeOf extracts the engine error code, or empty for foreign errors
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the identical request
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
