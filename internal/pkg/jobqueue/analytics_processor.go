package jobqueue

import (
	"context"
	"fmt"

	metrics "github.com/vidvault/vidvault/internal/pkg/metrics/counter"
)

// processPurchaseAnalyticsJob folds one order into the daily sales counters
func (q *Queue) processPurchaseAnalyticsJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := PurchaseAnalyticsJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid analytics payload: %w", err)
	}

	count := int64(len(payload.VideoIDs))
	amount := payload.AmountCents
	if payload.Refund {
		count = -count
		amount = -amount
	}

	return metrics.AddDailySales(count, amount)
}
