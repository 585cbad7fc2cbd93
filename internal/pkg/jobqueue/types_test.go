package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycleTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: DefaultMaxRetries}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("smtp unreachable")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "smtp unreachable", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

func TestJobRetryExhaustion(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 2}

	job.MarkAsFailed("first")
	assert.True(t, job.IsRetryable())
	job.MarkAsFailed("second")
	assert.False(t, job.IsRetryable(), "no retries left")
}

func TestReceiptEmailPayloadRoundTrip(t *testing.T) {
	payload := ReceiptEmailJobPayload{
		UserID:     7,
		BulkID:     "0b6c9e0e-9a3e-4f7e-8a69-1c7b0f8d2d11",
		ItemCount:  3,
		TotalCents: 59700,
		Currency:   "THB",
	}

	decoded, err := ReceiptEmailJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestPurchaseAnalyticsPayloadRoundTrip(t *testing.T) {
	payload := PurchaseAnalyticsJobPayload{
		UserID:      7,
		VideoIDs:    []uint{1, 2, 3},
		AmountCents: 59700,
		Refund:      true,
	}

	decoded, err := PurchaseAnalyticsJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}
