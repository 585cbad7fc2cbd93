package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/vidvault/vidvault/app/models"
	"github.com/vidvault/vidvault/app/repository"
	"github.com/vidvault/vidvault/internal/pkg/idempotency"
	"github.com/vidvault/vidvault/internal/pkg/payment"
	"gorm.io/gorm"
)

// Service is the purchase transaction engine. It owns the money-vs-state
// ordering rules: payment is captured before any entitlement write, and a
// failed write after a capture is compensated with a gateway refund.
type Service struct {
	repos   *repository.Repositories
	gateway payment.Provider
	ledger  *idempotency.Ledger
	effects Effects
}

// NewService wires the engine. effects may be nil when no side-effect
// pipeline is running (tests, migrations).
func NewService(repos *repository.Repositories, gateway payment.Provider, ledger *idempotency.Ledger, effects Effects) *Service {
	return &Service{repos: repos, gateway: gateway, ledger: ledger, effects: effects}
}

// Purchase grants userID a paid entitlement to videoID. Holding an active
// entitlement is not an error: the existing purchase is returned with
// AlreadyOwned set and nothing is charged.
func (s *Service) Purchase(ctx context.Context, userID, videoID uint, intent PaymentIntent) (*Outcome, error) {
	intent.Normalize()
	if err := validateIntent(&intent); err != nil {
		return nil, err
	}
	if videoID == 0 {
		return nil, newError(CodeValidation, "video id is required")
	}

	video, err := s.repos.Video.GetActiveByID(videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "video not found or not available for purchase")
		}
		return nil, newRetryableError(CodeWriteFailure, "video lookup failed", err)
	}
	if !video.IsPurchasable() {
		return nil, newError(CodeNotFound, "video not found or not available for purchase")
	}

	if existing, err := s.repos.Purchase.FindActiveEntitlement(userID, videoID); err == nil {
		return &Outcome{Purchase: existing, AlreadyOwned: true}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newRetryableError(CodeWriteFailure, "entitlement lookup failed", err)
	}

	now := time.Now()
	p := &models.Purchase{
		UserID:        userID,
		VideoID:       videoID,
		AmountCents:   video.PriceCents,
		Currency:      video.Currency,
		PaymentMethod: intent.Method,
		TransactionID: &intent.TransactionID,
		PurchaseDate:  now,
		ExpiresAt:     video.AccessExpiry(now),
	}

	var capture *payment.CaptureResult
	if video.PriceCents > 0 {
		capture, err = s.gateway.Capture(ctx, payment.CaptureRequest{
			AmountCents:   video.PriceCents,
			Currency:      video.Currency,
			Method:        intent.Method,
			CustomerRef:   intent.CustomerRef,
			Description:   fmt.Sprintf("Video purchase: %s", video.Title),
			TransactionID: intent.TransactionID,
			Metadata:      map[string]string{"user_id": fmt.Sprint(userID), "video_id": fmt.Sprint(videoID)},
		})
		if err != nil {
			var declined *payment.DeclinedError
			if errors.As(err, &declined) {
				return nil, &Error{Code: CodePaymentDeclined, Message: declined.Reason, Err: err}
			}
			return nil, newRetryableError(CodeWriteFailure, "payment capture failed", err)
		}
		p.Gateway = capture.Gateway
		p.GatewayTransactionID = capture.ExternalID
	}

	if err := s.repos.Purchase.GrantEntitlement(p); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.resolveDuplicateGrant(ctx, userID, videoID, intent.TransactionID, capture)
		}
		s.compensate(ctx, capture, video.PriceCents, "entitlement write failed")
		return nil, newRetryableError(CodeWriteFailure, "entitlement write failed", err)
	}

	if s.effects != nil {
		s.effects.PurchaseCompleted(p)
	}
	return &Outcome{Purchase: p}, nil
}

// resolveDuplicateGrant untangles the two ways a grant can hit a unique
// index. A transaction-id collision means the same logical charge already
// went through (the gateway deduplicated on the reference), so the money is
// not doubled and the stored purchase is simply returned. An owner-key
// collision means a concurrent request with a different reference won the
// race; our capture is real extra money and must be refunded.
func (s *Service) resolveDuplicateGrant(ctx context.Context, userID, videoID uint, transactionID string, capture *payment.CaptureResult) (*Outcome, error) {
	if prior, err := s.repos.Purchase.FindByTransactionID(transactionID); err == nil {
		if prior.UserID != userID {
			// The reference belongs to another user's charge. Never hand
			// their record back, and never refund their money.
			return nil, newError(CodeValidation, "payment reference already used")
		}
		return &Outcome{Purchase: prior, AlreadyOwned: true}, nil
	}

	if capture != nil {
		s.compensate(ctx, capture, 0, "lost ownership race")
	}
	existing, err := s.repos.Purchase.FindActiveEntitlement(userID, videoID)
	if err != nil {
		return nil, newRetryableError(CodeWriteFailure, "entitlement lookup after conflict failed", err)
	}
	return &Outcome{Purchase: existing, AlreadyOwned: true}, nil
}

// compensate refunds a capture whose entitlement never committed. Refund
// failures are logged for manual reconciliation, never surfaced to the
// caller on top of the original failure.
func (s *Service) compensate(ctx context.Context, capture *payment.CaptureResult, amountCents int64, cause string) {
	if capture == nil {
		return
	}
	_, err := s.gateway.Refund(ctx, payment.RefundRequest{
		ExternalID:  capture.ExternalID,
		AmountCents: amountCents, // 0 = full refund
		Reason:      cause,
	})
	if err != nil {
		log.Errorf("[Purchase] Compensating refund for %s failed (%s): %v", capture.ExternalID, cause, err)
		return
	}
	log.Warnf("[Purchase] Compensated capture %s: %s", capture.ExternalID, cause)
}

// BulkPurchase buys every video in videoIDs the caller does not already own,
// with one payment capture for the whole order. The operation is idempotent
// on (user, transaction id, video set): retries replay the stored outcome.
func (s *Service) BulkPurchase(ctx context.Context, userID uint, videoIDs []uint, intent PaymentIntent) (*BulkResult, error) {
	intent.Normalize()
	if err := validateIntent(&intent); err != nil {
		return nil, err
	}
	ids := dedupeIDs(videoIDs)
	if len(ids) == 0 {
		return nil, newError(CodeValidation, "at least one video id is required")
	}
	if len(ids) > MaxBulkVideos {
		return nil, newError(CodeValidation, fmt.Sprintf("bulk purchase is limited to %d videos", MaxBulkVideos))
	}

	key := idempotency.GenerateKey(userID, intent.TransactionID, ids)
	begin, err := s.ledger.Begin(ctx, key, userID)
	if err != nil {
		if errors.Is(err, idempotency.ErrStillProcessing) {
			return nil, &Error{Code: CodeStillProcessing, Message: "an identical bulk purchase is already processing", Retryable: true, Err: err}
		}
		return nil, newRetryableError(CodeWriteFailure, "idempotency ledger unavailable", err)
	}
	if begin.Replay {
		var cached BulkResult
		if err := json.Unmarshal([]byte(begin.ResultJSON), &cached); err != nil {
			return nil, newRetryableError(CodeWriteFailure, "stored bulk result is unreadable", err)
		}
		cached.Replayed = true
		return &cached, nil
	}

	result, err := s.executeBulk(ctx, userID, ids, intent)
	if err != nil {
		if ferr := s.ledger.Fail(ctx, key, err); ferr != nil {
			log.Errorf("[Purchase] Recording bulk failure for key %s failed: %v", key, ferr)
		}
		return nil, err
	}
	if ferr := s.ledger.Finish(ctx, key, result); ferr != nil {
		// The entitlements are committed; a lost ledger write only costs
		// replay protection for this key.
		log.Errorf("[Purchase] Recording bulk result for key %s failed: %v", key, ferr)
	}
	if s.effects != nil {
		s.effects.BulkPurchaseCompleted(userID, result)
	}
	return result, nil
}

func (s *Service) executeBulk(ctx context.Context, userID uint, ids []uint, intent PaymentIntent) (*BulkResult, error) {
	videos, err := s.repos.Video.GetActiveByIDs(ids)
	if err != nil {
		return nil, newRetryableError(CodeWriteFailure, "video lookup failed", err)
	}
	videoByID := make(map[uint]*models.Video, len(videos))
	for i := range videos {
		videoByID[videos[i].ID] = &videos[i]
	}

	owned, err := s.repos.Purchase.FindActiveEntitlements(userID, ids)
	if err != nil {
		return nil, newRetryableError(CodeWriteFailure, "entitlement lookup failed", err)
	}
	ownedSet := make(map[uint]struct{}, len(owned))
	for _, p := range owned {
		ownedSet[p.VideoID] = struct{}{}
	}

	result := &BulkResult{BulkID: uuid.New().String()}
	var purchasable []*models.Video
	var totalCents int64
	for _, id := range ids {
		if _, ok := ownedSet[id]; ok {
			result.Items = append(result.Items, BulkItem{VideoID: id, Status: BulkItemAlreadyOwned})
			result.AlreadyOwnedCount++
			continue
		}
		v, ok := videoByID[id]
		if !ok || !v.IsPurchasable() {
			result.Items = append(result.Items, BulkItem{
				VideoID:   id,
				Status:    BulkItemFailed,
				ErrorCode: CodeNotFound,
				ErrorMsg:  "video not found or not available for purchase",
			})
			result.FailedCount++
			continue
		}
		if len(purchasable) > 0 && v.Currency != purchasable[0].Currency {
			// The whole order is captured as a single charge in one currency.
			return nil, newError(CodeValidation, "bulk purchase cannot mix currencies")
		}
		purchasable = append(purchasable, v)
		totalCents += v.PriceCents
	}

	if len(purchasable) == 0 {
		if result.AlreadyOwnedCount > 0 {
			// Nothing left to buy is a success, not an error.
			return result, nil
		}
		return nil, newError(CodeNotFound, "none of the requested videos are available for purchase")
	}

	var capture *payment.CaptureResult
	paymentRef := intent.TransactionID
	if totalCents > 0 {
		capture, err = s.gateway.Capture(ctx, payment.CaptureRequest{
			AmountCents:   totalCents,
			Currency:      purchasable[0].Currency,
			Method:        intent.Method,
			CustomerRef:   intent.CustomerRef,
			Description:   fmt.Sprintf("Bulk purchase of %d videos", len(purchasable)),
			TransactionID: intent.TransactionID,
			Metadata:      map[string]string{"user_id": fmt.Sprint(userID), "bulk_id": result.BulkID},
		})
		if err != nil {
			var declined *payment.DeclinedError
			if errors.As(err, &declined) {
				return nil, &Error{Code: CodePaymentDeclined, Message: declined.Reason, Err: err}
			}
			return nil, newRetryableError(CodeWriteFailure, "payment capture failed", err)
		}
		result.PaymentExternalID = capture.ExternalID
		paymentRef = capture.ExternalID
	}

	committed, failedItems := s.commitBulk(userID, purchasable, result.BulkID, paymentRef, intent.Method, capture)
	result.Items = append(result.Items, failedItems...)
	for i := range committed {
		result.Items = append(result.Items, BulkItem{
			VideoID:     committed[i].VideoID,
			Status:      BulkItemPurchased,
			AmountCents: committed[i].AmountCents,
		})
		result.PurchasedCount++
		result.TotalAmountCents += committed[i].AmountCents
	}
	for _, item := range failedItems {
		switch item.Status {
		case BulkItemAlreadyOwned:
			result.AlreadyOwnedCount++
		case BulkItemFailed:
			result.FailedCount++
		}
	}

	if result.PurchasedCount == 0 && capture != nil {
		s.compensate(ctx, capture, 0, "no bulk entitlements committed")
		return nil, newRetryableError(CodeWriteFailure, "bulk entitlement write failed", errors.New("no batch committed"))
	}
	if uncommitted := totalCents - result.TotalAmountCents; uncommitted > 0 && capture != nil {
		s.compensate(ctx, capture, uncommitted, "partial bulk commit")
	}
	return result, nil
}

// commitBulk writes entitlements in bounded batches so one bad row cannot
// roll back the whole order. A batch that trips a unique index is retried
// item by item, turning races with concurrent purchases into already-owned
// outcomes instead of failures.
func (s *Service) commitBulk(userID uint, videos []*models.Video, bulkID, paymentRef, method string, capture *payment.CaptureResult) ([]models.Purchase, []BulkItem) {
	now := time.Now()
	gateway, gatewayTxn := "", ""
	if capture != nil {
		gateway, gatewayTxn = capture.Gateway, capture.ExternalID
	}

	rows := make([]models.Purchase, len(videos))
	for i, v := range videos {
		txnID := fmt.Sprintf("%s:%d", paymentRef, v.ID)
		rows[i] = models.Purchase{
			UserID:               userID,
			VideoID:              v.ID,
			AmountCents:          v.PriceCents,
			Currency:             v.Currency,
			PaymentMethod:        method,
			TransactionID:        &txnID,
			Gateway:              gateway,
			GatewayTransactionID: gatewayTxn,
			BulkID:               &bulkID,
			PurchaseDate:         now,
			ExpiresAt:            v.AccessExpiry(now),
		}
	}

	var committed []models.Purchase
	var failed []BulkItem
	for start := 0; start < len(rows); start += BulkBatchSize {
		end := start + BulkBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		err := s.repos.Purchase.GrantBulkBatch(batch)
		if err == nil {
			committed = append(committed, batch...)
			continue
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Errorf("[Purchase] Bulk batch %d-%d failed for user %d: %v", start, end, userID, err)
			for i := range batch {
				failed = append(failed, BulkItem{
					VideoID:   batch[i].VideoID,
					Status:    BulkItemFailed,
					ErrorCode: CodeWriteFailure,
					ErrorMsg:  "entitlement write failed",
				})
			}
			continue
		}

		// One duplicate poisons the batch insert; retry the batch one row
		// at a time so only the conflicting rows drop out.
		for i := range batch {
			row := batch[i]
			switch gerr := s.repos.Purchase.GrantEntitlement(&row); {
			case gerr == nil:
				committed = append(committed, row)
			case errors.Is(gerr, gorm.ErrDuplicatedKey):
				failed = append(failed, BulkItem{VideoID: row.VideoID, Status: BulkItemAlreadyOwned})
			default:
				log.Errorf("[Purchase] Bulk row for video %d failed for user %d: %v", row.VideoID, userID, gerr)
				failed = append(failed, BulkItem{
					VideoID:   row.VideoID,
					Status:    BulkItemFailed,
					ErrorCode: CodeWriteFailure,
					ErrorMsg:  "entitlement write failed",
				})
			}
		}
	}
	return committed, failed
}

// Refund revokes a completed entitlement and returns the money. Only the
// owner can refund, only completed purchases qualify, and only within
// RefundWindow of the purchase date.
func (s *Service) Refund(ctx context.Context, userID, purchaseID uint, reason string) (*models.Purchase, error) {
	p, err := s.repos.Purchase.GetByID(purchaseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "purchase not found")
		}
		return nil, newRetryableError(CodeWriteFailure, "purchase lookup failed", err)
	}
	if p.UserID != userID {
		// Do not reveal other users' purchases.
		return nil, newError(CodeNotFound, "purchase not found")
	}
	if p.Status != models.PurchaseStatusCompleted {
		return nil, newError(CodeValidation, "only completed purchases can be refunded")
	}
	if time.Since(p.PurchaseDate) > RefundWindow {
		return nil, newError(CodeValidation, "refund window has expired")
	}

	// Gateway first: a failed payout must leave the entitlement untouched
	// so the caller keeps access and can retry. The provider deduplicates
	// refunds on the charge reference, and the status guard inside
	// RevokeEntitlement stops a concurrent refund that already flipped the
	// row from paying out a second time.
	if p.AmountCents > 0 && p.GatewayTransactionID != "" {
		_, err = s.gateway.Refund(ctx, payment.RefundRequest{
			ExternalID:  p.GatewayTransactionID,
			AmountCents: p.AmountCents,
			Reason:      reason,
		})
		if err != nil {
			return nil, newRetryableError(CodeWriteFailure, "gateway refund failed", err)
		}
	}

	revoked, err := s.repos.Purchase.RevokeEntitlement(p.ID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrNotRefundable) {
			return nil, newError(CodeValidation, "only completed purchases can be refunded")
		}
		// The money is already on its way back; retrying the revoke is safe
		// because the gateway deduplicates the repeated refund.
		log.Errorf("[Purchase] Revoke after refund of purchase %d failed: %v", p.ID, err)
		return nil, newRetryableError(CodeWriteFailure, "refund paid but entitlement revoke failed", err)
	}

	if s.effects != nil {
		s.effects.EntitlementRevoked(revoked)
	}
	return revoked, nil
}

// CheckAccess reports whether userID currently holds an active entitlement
// to videoID. Absence of access is a normal answer, not an error.
func (s *Service) CheckAccess(userID, videoID uint) (*AccessInfo, error) {
	p, err := s.repos.Purchase.FindActiveEntitlement(userID, videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &AccessInfo{}, nil
		}
		return nil, newRetryableError(CodeWriteFailure, "entitlement lookup failed", err)
	}

	info := &AccessInfo{HasAccess: true, PurchaseID: p.ID, ExpiresAt: p.ExpiresAt}
	if remaining, bounded := p.RemainingAccess(); bounded {
		info.Remaining = &remaining
	}
	return info, nil
}

// RecordUsage folds one playback report into the entitlement's viewing
// counters. Position and completion only move forward; late or duplicate
// reports can never shrink progress.
func (s *Service) RecordUsage(userID, videoID uint, positionSec, watchedDeltaSec int64) error {
	if positionSec < 0 || watchedDeltaSec < 0 {
		return newError(CodeValidation, "playback progress cannot be negative")
	}

	p, err := s.repos.Purchase.FindActiveEntitlement(userID, videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(CodeNotFound, "no active entitlement for this video")
		}
		return newRetryableError(CodeWriteFailure, "entitlement lookup failed", err)
	}

	percent := 0
	if video, verr := s.repos.Video.GetByID(videoID); verr == nil && video.DurationSeconds > 0 {
		percent = int(positionSec * 100 / video.DurationSeconds)
		if percent > 100 {
			percent = 100
		}
	}

	if err := s.repos.Purchase.RecordUsage(p.ID, positionSec, watchedDeltaSec, percent); err != nil {
		return newRetryableError(CodeWriteFailure, "usage write failed", err)
	}
	return nil
}

// ListPurchases returns a page of the user's purchase history
func (s *Service) ListPurchases(userID uint, opts repository.PurchaseListOptions) ([]models.Purchase, int64, error) {
	purchases, total, err := s.repos.Purchase.ListByUser(userID, opts)
	if err != nil {
		return nil, 0, newRetryableError(CodeWriteFailure, "purchase history lookup failed", err)
	}
	return purchases, total, nil
}

// Stats returns the user's aggregated purchase counters
func (s *Service) Stats(userID uint) (*repository.PurchaseStats, error) {
	stats, err := s.repos.Purchase.StatsByUser(userID)
	if err != nil {
		return nil, newRetryableError(CodeWriteFailure, "purchase stats lookup failed", err)
	}
	return stats, nil
}

func validateIntent(intent *PaymentIntent) error {
	if intent.Method == "" {
		return newError(CodeValidation, "payment method is required")
	}
	if intent.TransactionID == "" {
		return newError(CodeValidation, "transaction id is required")
	}
	return nil
}

func dedupeIDs(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
