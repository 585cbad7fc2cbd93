package purchase

import (
	"strings"
	"time"

	"github.com/vidvault/vidvault/app/models"
)

// MaxBulkVideos caps one bulk request; BulkBatchSize bounds the size of each
// entitlement-insert transaction.
const (
	MaxBulkVideos = 1000
	BulkBatchSize = 100
)

// RefundWindow is how long after purchase a refund is still permitted.
const RefundWindow = 30 * 24 * time.Hour

// PaymentIntent carries the caller's payment instruction. TransactionID is
// the client-generated external reference that makes retries safe.
type PaymentIntent struct {
	Method        string `json:"method" validate:"required"`
	TransactionID string `json:"transaction_id" validate:"required"`
	CustomerRef   string `json:"customer_ref"`
}

// Normalize canonicalizes the intent the way the ledger and gateway expect it
func (i *PaymentIntent) Normalize() {
	i.Method = strings.ToLower(strings.TrimSpace(i.Method))
	i.TransactionID = strings.ToUpper(strings.TrimSpace(i.TransactionID))
	i.CustomerRef = strings.TrimSpace(i.CustomerRef)
}

// Outcome is the result of a single purchase. AlreadyOwned marks the
// informational success path: the caller held an active entitlement and no
// payment was captured.
type Outcome struct {
	Purchase     *models.Purchase `json:"purchase"`
	AlreadyOwned bool             `json:"already_owned"`
}

// Item statuses inside a bulk result.
const (
	BulkItemPurchased    = "purchased"
	BulkItemAlreadyOwned = "already_owned"
	BulkItemFailed       = "failed"
)

// BulkItem is the per-video outcome of a bulk purchase
type BulkItem struct {
	VideoID     uint   `json:"video_id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}

// BulkResult is the typed terminal state of one bulk purchase operation.
// It is what the idempotency ledger stores and replays, so retried
// submissions observe the original per-item outcomes.
type BulkResult struct {
	BulkID            string     `json:"bulk_id"`
	Items             []BulkItem `json:"items"`
	PurchasedCount    int        `json:"purchased_count"`
	AlreadyOwnedCount int        `json:"already_owned_count"`
	FailedCount       int        `json:"failed_count"`
	TotalAmountCents  int64      `json:"total_amount_cents"`
	PaymentExternalID string     `json:"payment_external_id,omitempty"`
	Replayed          bool       `json:"replayed,omitempty"`
}

// AccessInfo is the CheckAccess answer. Remaining is nil for perpetual
// entitlements.
type AccessInfo struct {
	HasAccess  bool           `json:"has_access"`
	PurchaseID uint           `json:"purchase_id,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Remaining  *time.Duration `json:"remaining,omitempty"`
}

// Effects receives post-commit side effects. Implementations must be
// non-blocking and best-effort; the engine never inspects their outcome.
type Effects interface {
	PurchaseCompleted(p *models.Purchase)
	BulkPurchaseCompleted(userID uint, result *BulkResult)
	EntitlementRevoked(p *models.Purchase)
}
