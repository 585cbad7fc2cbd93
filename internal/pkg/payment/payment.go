package payment

import (
	"context"
	"fmt"
	"time"
)

// CaptureRequest describes one payment capture attempt. AmountCents is in
// the smallest currency unit.
type CaptureRequest struct {
	AmountCents   int64
	Currency      string
	Method        string
	CustomerRef   string
	Description   string
	TransactionID string // caller-supplied external reference, used for gateway idempotency
	Metadata      map[string]string
}

// CaptureResult is returned on a successful capture
type CaptureResult struct {
	ExternalID string
	Gateway    string
	Method     string
	CapturedAt time.Time
}

// RefundRequest describes a full or partial refund of a captured payment
type RefundRequest struct {
	ExternalID  string
	AmountCents int64
	Reason      string
}

// RefundResult is returned on a successful refund
type RefundResult struct {
	RefundID   string
	RefundedAt time.Time
}

// Provider is the payment gateway contract consumed by the purchase engine.
// Implementations must be idempotent on TransactionID where the gateway
// supports it. Any non-nil error is fatal for the current attempt.
type Provider interface {
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// DeclinedError marks a gateway decline as opposed to a transport failure.
// Declines abort the attempt before any entitlement write and need no
// compensation.
type DeclinedError struct {
	Code   string
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Reason)
}
