package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeReceiptEmail      JobType = "receipt_email"
	JobTypePurchaseAnalytics JobType = "purchase_analytics"
	JobTypeCacheInvalidate   JobType = "cache_invalidate"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ReceiptEmailJobPayload contains the payload for purchase receipt emails.
// PurchaseID is set for single purchases, BulkID for bulk orders.
type ReceiptEmailJobPayload struct {
	UserID     uint   `json:"user_id"`
	PurchaseID uint   `json:"purchase_id,omitempty"`
	BulkID     string `json:"bulk_id,omitempty"`
	ItemCount  int    `json:"item_count"`
	TotalCents int64  `json:"total_cents"`
	Currency   string `json:"currency"`
	Refund     bool   `json:"refund,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p ReceiptEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     p.UserID,
		"purchase_id": p.PurchaseID,
		"bulk_id":     p.BulkID,
		"item_count":  p.ItemCount,
		"total_cents": p.TotalCents,
		"currency":    p.Currency,
		"refund":      p.Refund,
	}
}

// FromMap creates a payload from a map
func ReceiptEmailJobPayloadFromMap(data map[string]interface{}) (*ReceiptEmailJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ReceiptEmailJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// PurchaseAnalyticsJobPayload contains the payload for analytics counter jobs
type PurchaseAnalyticsJobPayload struct {
	UserID      uint   `json:"user_id"`
	VideoIDs    []uint `json:"video_ids"`
	AmountCents int64  `json:"amount_cents"`
	Refund      bool   `json:"refund,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p PurchaseAnalyticsJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      p.UserID,
		"video_ids":    p.VideoIDs,
		"amount_cents": p.AmountCents,
		"refund":       p.Refund,
	}
}

// FromMap creates a payload from a map
func PurchaseAnalyticsJobPayloadFromMap(data map[string]interface{}) (*PurchaseAnalyticsJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload PurchaseAnalyticsJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// CacheInvalidateJobPayload contains the cache keys to drop after a write
type CacheInvalidateJobPayload struct {
	Keys []string `json:"keys"`
}

// ToMap converts the payload to a map for storage
func (p CacheInvalidateJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"keys": p.Keys,
	}
}

// FromMap creates a payload from a map
func CacheInvalidateJobPayloadFromMap(data map[string]interface{}) (*CacheInvalidateJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload CacheInvalidateJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
