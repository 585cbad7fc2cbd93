package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/charge"
	"github.com/stripe/stripe-go/v76/refund"
)

// StripeProvider implements Provider against the Stripe charge API
type StripeProvider struct {
	apiKey string
}

// NewStripeProvider configures the Stripe client with the given API key
func NewStripeProvider(apiKey string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{apiKey: apiKey}
}

// Capture charges the customer for the requested amount
func (p *StripeProvider) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	params := &stripe.ChargeParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(req.TransactionID),
		},
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	if req.Method != "" {
		params.SetSource(req.Method)
	}
	params.Metadata = map[string]string{"transaction_id": req.TransactionID}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	ch, err := charge.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return nil, &DeclinedError{Code: string(stripeErr.Code), Reason: stripeErr.Msg}
		}
		return nil, err
	}
	if !ch.Paid {
		return nil, &DeclinedError{Code: string(ch.Status), Reason: ch.FailureMessage}
	}

	return &CaptureResult{
		ExternalID: ch.ID,
		Gateway:    "stripe",
		Method:     req.Method,
		CapturedAt: time.Unix(ch.Created, 0),
	}, nil
}

// Refund returns a captured charge, fully or partially
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(fmt.Sprintf("refund:%s:%d", req.ExternalID, req.AmountCents)),
		},
		Charge: stripe.String(req.ExternalID),
	}
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	if req.Reason != "" {
		params.Metadata = map[string]string{"reason": req.Reason}
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, err
	}

	return &RefundResult{
		RefundID:   r.ID,
		RefundedAt: time.Unix(r.Created, 0),
	}, nil
}
