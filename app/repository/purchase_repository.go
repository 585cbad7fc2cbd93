package repository

import (
	"errors"
	"time"

	"github.com/vidvault/vidvault/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotRefundable is returned when a revoke is attempted on a purchase that
// is not in completed status anymore (already refunded, cancelled, failed).
var ErrNotRefundable = errors.New("purchase is not in a refundable status")

// purchaseRepository implements the PurchaseRepository interface
type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new purchase repository instance
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

// GetByID retrieves a purchase by its ID
func (r *purchaseRepository) GetByID(id uint) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.First(&purchase, id).Error
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// FindActiveEntitlement returns the completed, non-expired purchase for a
// (user, video) pair, or gorm.ErrRecordNotFound.
func (r *purchaseRepository) FindActiveEntitlement(userID, videoID uint) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.
		Where("user_id = ? AND video_id = ? AND status = ?", userID, videoID, models.PurchaseStatusCompleted).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		First(&purchase).Error
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// FindActiveEntitlements returns all active entitlements a user holds for the
// given video ids in one query.
func (r *purchaseRepository) FindActiveEntitlements(userID uint, videoIDs []uint) ([]models.Purchase, error) {
	if len(videoIDs) == 0 {
		return nil, nil
	}
	var purchases []models.Purchase
	err := r.db.
		Where("user_id = ? AND video_id IN ? AND status = ?", userID, videoIDs, models.PurchaseStatusCompleted).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Find(&purchases).Error
	return purchases, err
}

// FindByTransactionID resolves an external payment reference to its purchase
func (r *purchaseRepository) FindByTransactionID(transactionID string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.
		Where("transaction_id = ? OR gateway_transaction_id = ?", transactionID, transactionID).
		First(&purchase).Error
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// ListByUser retrieves a user's purchase history with pagination and filters
func (r *purchaseRepository) ListByUser(userID uint, opts PurchaseListOptions) ([]models.Purchase, int64, error) {
	q := r.db.Model(&models.Purchase{}).Where("user_id = ?", userID)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.FromDate != nil {
		q = q.Where("purchase_date >= ?", *opts.FromDate)
	}
	if opts.ToDate != nil {
		q = q.Where("purchase_date <= ?", *opts.ToDate)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	var purchases []models.Purchase
	err := q.Order("purchase_date DESC").Offset(opts.Offset).Limit(limit).Find(&purchases).Error
	return purchases, total, err
}

// GrantEntitlement writes one completed entitlement atomically: the purchase
// row, the owned-set row, the user's total-spent counter and the video's
// purchase counter commit or roll back together. The unique index on
// OwnerKey surfaces concurrent grants as gorm.ErrDuplicatedKey, which the
// engine maps to the already-exists success path.
func (r *purchaseRepository) GrantEntitlement(purchase *models.Purchase) error {
	key := models.OwnershipKey(purchase.UserID, purchase.VideoID)
	purchase.OwnerKey = &key
	purchase.Status = models.PurchaseStatusCompleted

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(purchase).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.UserVideo{UserID: purchase.UserID, VideoID: purchase.VideoID}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", purchase.UserID).
			UpdateColumn("total_spent", gorm.Expr("total_spent + ?", purchase.AmountCents)).Error; err != nil {
			return err
		}
		return tx.Model(&models.Video{}).Where("id = ?", purchase.VideoID).
			UpdateColumn("purchase_count", gorm.Expr("purchase_count + 1")).Error
	})
}

// GrantBulkBatch writes one batch of bulk-purchase entitlements in a single
// transaction. All purchases in a batch belong to the same user and bulk
// group; per-batch commits are final.
func (r *purchaseRepository) GrantBulkBatch(purchases []models.Purchase) error {
	if len(purchases) == 0 {
		return nil
	}

	userID := purchases[0].UserID
	var batchTotal int64
	ownedRows := make([]models.UserVideo, 0, len(purchases))
	videoIDs := make([]uint, 0, len(purchases))
	for i := range purchases {
		key := models.OwnershipKey(purchases[i].UserID, purchases[i].VideoID)
		purchases[i].OwnerKey = &key
		purchases[i].Status = models.PurchaseStatusCompleted
		batchTotal += purchases[i].AmountCents
		ownedRows = append(ownedRows, models.UserVideo{UserID: purchases[i].UserID, VideoID: purchases[i].VideoID})
		videoIDs = append(videoIDs, purchases[i].VideoID)
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&purchases).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ownedRows).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("total_spent", gorm.Expr("total_spent + ?", batchTotal)).Error; err != nil {
			return err
		}
		return tx.Model(&models.Video{}).Where("id IN ?", videoIDs).
			UpdateColumn("purchase_count", gorm.Expr("purchase_count + 1")).Error
	})
}

// RevokeEntitlement flips a completed purchase to refunded and undoes its
// denormalized side effects in one transaction. The status guard on the
// UPDATE makes concurrent revokes idempotent: the loser sees ErrNotRefundable.
func (r *purchaseRepository) RevokeEntitlement(purchaseID uint, reason string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&purchase, purchaseID).Error; err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Purchase{}).
			Where("id = ? AND status = ?", purchaseID, models.PurchaseStatusCompleted).
			Updates(map[string]interface{}{
				"status":        models.PurchaseStatusRefunded,
				"owner_key":     nil,
				"refunded_at":   &now,
				"refund_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotRefundable
		}

		if err := tx.Where("user_id = ? AND video_id = ?", purchase.UserID, purchase.VideoID).
			Delete(&models.UserVideo{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", purchase.UserID).
			UpdateColumn("total_spent", gorm.Expr("total_spent - ?", purchase.AmountCents)).Error; err != nil {
			return err
		}

		purchase.Status = models.PurchaseStatusRefunded
		purchase.OwnerKey = nil
		purchase.RefundedAt = &now
		purchase.RefundReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// RecordUsage applies one playback report in a single UPDATE. Increments are
// additive and position/completion only move forward, so concurrent reports
// never regress state.
func (r *purchaseRepository) RecordUsage(purchaseID uint, positionSec, watchedDeltaSec int64, completionPercent int) error {
	now := time.Now()
	return r.db.Model(&models.Purchase{}).Where("id = ?", purchaseID).
		Updates(map[string]interface{}{
			"access_count":           gorm.Expr("access_count + 1"),
			"watched_seconds":        gorm.Expr("watched_seconds + ?", watchedDeltaSec),
			"last_playback_position": gorm.Expr("GREATEST(last_playback_position, ?)", positionSec),
			"completion_percent":     gorm.Expr("GREATEST(completion_percent, ?)", completionPercent),
			"last_accessed_at":       &now,
		}).Error
}

// StatsByUser aggregates purchase counters for one user
func (r *purchaseRepository) StatsByUser(userID uint) (*PurchaseStats, error) {
	var stats PurchaseStats
	err := r.db.Model(&models.Purchase{}).
		Select(
			"COALESCE(SUM(CASE WHEN status = ? THEN amount_cents ELSE 0 END), 0) AS total_spent_cents, "+
				"COUNT(*) AS total_purchases, "+
				"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed_purchases, "+
				"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS refunded_purchases",
			models.PurchaseStatusCompleted, models.PurchaseStatusCompleted, models.PurchaseStatusRefunded).
		Where("user_id = ?", userID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
