package jobqueue

import (
	"github.com/gofiber/fiber/v2/log"

	"github.com/vidvault/vidvault/app/models"
	"github.com/vidvault/vidvault/internal/pkg/purchase"
	"github.com/vidvault/vidvault/internal/pkg/statistics"
)

// Dispatcher turns completed purchase engine operations into queued side
// effects: receipt emails, sales counters and cache invalidation. Every
// enqueue is best effort; a full Redis never fails a committed purchase.
type Dispatcher struct {
	queue *Queue
}

// NewDispatcher creates a dispatcher bound to the given queue
func NewDispatcher(queue *Queue) *Dispatcher {
	return &Dispatcher{queue: queue}
}

var _ purchase.Effects = (*Dispatcher)(nil)

// PurchaseCompleted enqueues the side effects of a single completed purchase
func (d *Dispatcher) PurchaseCompleted(p *models.Purchase) {
	d.enqueue(JobTypeReceiptEmail, ReceiptEmailJobPayload{
		UserID:     p.UserID,
		PurchaseID: p.ID,
		ItemCount:  1,
		TotalCents: p.AmountCents,
		Currency:   p.Currency,
	}.ToMap())

	d.enqueue(JobTypePurchaseAnalytics, PurchaseAnalyticsJobPayload{
		UserID:      p.UserID,
		VideoIDs:    []uint{p.VideoID},
		AmountCents: p.AmountCents,
	}.ToMap())

	d.invalidateStats()
}

// BulkPurchaseCompleted enqueues the side effects of a finished bulk order
func (d *Dispatcher) BulkPurchaseCompleted(userID uint, result *purchase.BulkResult) {
	if result.PurchasedCount == 0 {
		return
	}

	var videoIDs []uint
	currency := "THB"
	for _, item := range result.Items {
		if item.Status == purchase.BulkItemPurchased {
			videoIDs = append(videoIDs, item.VideoID)
		}
	}

	d.enqueue(JobTypeReceiptEmail, ReceiptEmailJobPayload{
		UserID:     userID,
		BulkID:     result.BulkID,
		ItemCount:  result.PurchasedCount,
		TotalCents: result.TotalAmountCents,
		Currency:   currency,
	}.ToMap())

	d.enqueue(JobTypePurchaseAnalytics, PurchaseAnalyticsJobPayload{
		UserID:      userID,
		VideoIDs:    videoIDs,
		AmountCents: result.TotalAmountCents,
	}.ToMap())

	d.invalidateStats()
}

// EntitlementRevoked enqueues the side effects of a refund
func (d *Dispatcher) EntitlementRevoked(p *models.Purchase) {
	d.enqueue(JobTypeReceiptEmail, ReceiptEmailJobPayload{
		UserID:     p.UserID,
		PurchaseID: p.ID,
		ItemCount:  1,
		TotalCents: p.AmountCents,
		Currency:   p.Currency,
		Refund:     true,
	}.ToMap())

	d.enqueue(JobTypePurchaseAnalytics, PurchaseAnalyticsJobPayload{
		UserID:      p.UserID,
		VideoIDs:    []uint{p.VideoID},
		AmountCents: p.AmountCents,
		Refund:      true,
	}.ToMap())

	d.invalidateStats()
}

func (d *Dispatcher) invalidateStats() {
	d.enqueue(JobTypeCacheInvalidate, CacheInvalidateJobPayload{
		Keys: statistics.CacheKeys(),
	}.ToMap())
}

func (d *Dispatcher) enqueue(jobType JobType, payload map[string]interface{}) {
	if _, err := d.queue.EnqueueJob(jobType, payload); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue %s job: %v", jobType, err)
	}
}
