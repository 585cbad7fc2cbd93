package repository

import (
	"time"

	"github.com/vidvault/vidvault/app/models"
	"gorm.io/gorm"
)

// idempotencyRepository implements the IdempotencyRepository interface
type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates a new idempotency repository instance
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

// InsertProcessing atomically claims a key by inserting a processing record.
// A second attempt on the same key fails with gorm.ErrDuplicatedKey; the
// ledger decides from the prior record whether to replay, reject or retry.
func (r *idempotencyRepository) InsertProcessing(record *models.IdempotencyRecord) error {
	now := time.Now()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = now.Add(models.IdempotencyRetention)
	}
	record.Status = models.IdempotencyStatusProcessing
	return r.db.Create(record).Error
}

// GetByKey retrieves an idempotency record by its key
func (r *idempotencyRepository) GetByKey(key string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.db.Where("`key` = ?", key).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// TakeOver re-claims a failed or stale-processing record for a fresh attempt.
// The conditional UPDATE guards racing takeovers: only one caller observes
// RowsAffected > 0 and may proceed.
func (r *idempotencyRepository) TakeOver(key string, notTouchedSince time.Time) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.IdempotencyRecord{}).
		Where("`key` = ? AND (status = ? OR (status = ? AND started_at < ?))",
			key, models.IdempotencyStatusFailed, models.IdempotencyStatusProcessing, notTouchedSince).
		Updates(map[string]interface{}{
			"status":       models.IdempotencyStatusProcessing,
			"started_at":   now,
			"error_msg":    "",
			"failed_at":    nil,
			"completed_at": nil,
			"expires_at":   now.Add(models.IdempotencyRetention),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkCompleted finalizes a processing record with its result payload
func (r *idempotencyRepository) MarkCompleted(key string, resultJSON string) error {
	now := time.Now()
	return r.db.Model(&models.IdempotencyRecord{}).
		Where("`key` = ? AND status = ?", key, models.IdempotencyStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.IdempotencyStatusCompleted,
			"result_json":  resultJSON,
			"completed_at": &now,
		}).Error
}

// MarkFailed finalizes a processing record with an error message
func (r *idempotencyRepository) MarkFailed(key string, errMsg string) error {
	now := time.Now()
	if len(errMsg) > 512 {
		errMsg = errMsg[:512]
	}
	return r.db.Model(&models.IdempotencyRecord{}).
		Where("`key` = ? AND status = ?", key, models.IdempotencyStatusProcessing).
		Updates(map[string]interface{}{
			"status":    models.IdempotencyStatusFailed,
			"error_msg": errMsg,
			"failed_at": &now,
		}).Error
}

// DeleteExpired purges records past their retention window
func (r *idempotencyRepository) DeleteExpired() (int64, error) {
	res := r.db.Where("expires_at < ?", time.Now()).Delete(&models.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
