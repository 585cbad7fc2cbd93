package models

import "time"

const (
	IdempotencyStatusProcessing = "processing"
	IdempotencyStatusCompleted  = "completed"
	IdempotencyStatusFailed     = "failed"
)

// IdempotencyRetention is how long finished records are kept so that late
// client retries still short-circuit to the original result.
const IdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyRecord tracks one logical bulk/complex operation attempt. The
// unique Key makes the insert race-free: whoever creates the row owns the
// attempt, everyone else observes the prior record.
type IdempotencyRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Key         string     `gorm:"type:char(64);uniqueIndex:ux_idempotency_key;not null" json:"key"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	Status      string     `gorm:"type:varchar(16);not null;default:'processing'" json:"status"`
	ResultJSON  string     `gorm:"type:longtext" json:"-"`
	ErrorMsg    string     `gorm:"type:varchar(512)" json:"error_msg,omitempty"`
	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	FailedAt    *time.Time `gorm:"type:timestamp;default:null" json:"failed_at,omitempty"`
	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsStale reports whether a processing record has outlived the staleness
// bound and may be taken over by a fresh attempt (crashed owner).
func (r *IdempotencyRecord) IsStale(bound time.Duration) bool {
	return r.Status == IdempotencyStatusProcessing && time.Since(r.StartedAt) > bound
}
