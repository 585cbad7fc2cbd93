package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	PurchaseStatusPending    = "pending"
	PurchaseStatusProcessing = "processing"
	PurchaseStatusCompleted  = "completed"
	PurchaseStatusFailed     = "failed"
	PurchaseStatusRefunded   = "refunded"
	PurchaseStatusCancelled  = "cancelled"
)

// Purchase is the durable entitlement record granting one user paid access to
// one video. Records are never deleted; refunded and cancelled rows are kept
// for audit.
//
// OwnerKey is "<user_id>:<video_id>" while the purchase is in a status that
// grants or is about to grant access (completed/processing) and NULL
// otherwise. The unique index on it is the race-safety backstop that makes
// "at most one active entitlement per (user, video)" hold even when two
// requests slip past the read-side ownership check. TransactionID carries the
// external payment reference and is unique when present so a gateway
// reference can never be consumed twice.
type Purchase struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"not null;index:idx_purchases_user_status,priority:1" json:"user_id"`
	User                 User       `gorm:"foreignKey:UserID" json:"-"`
	VideoID              uint       `gorm:"not null;index" json:"video_id"`
	Video                Video      `gorm:"foreignKey:VideoID" json:"-"`
	AmountCents          int64      `gorm:"type:bigint;not null" json:"amount_cents" validate:"gte=0"`
	Currency             string     `gorm:"type:varchar(3);not null;default:'THB'" json:"currency"`
	PaymentMethod        string     `gorm:"type:varchar(32);not null" json:"payment_method" validate:"required"`
	TransactionID        *string    `gorm:"type:varchar(191);uniqueIndex:ux_purchases_transaction_id" json:"transaction_id,omitempty"`
	GatewayTransactionID string     `gorm:"type:varchar(191)" json:"gateway_transaction_id,omitempty"`
	Gateway              string     `gorm:"type:varchar(32)" json:"gateway,omitempty"`
	BulkID               *string    `gorm:"type:char(36);index" json:"bulk_id,omitempty"`
	Status               string     `gorm:"type:varchar(16);not null;default:'pending';index:idx_purchases_user_status,priority:2" json:"status"`
	OwnerKey             *string    `gorm:"type:varchar(64);uniqueIndex:ux_purchases_owner_key" json:"-"`
	PurchaseDate         time.Time  `gorm:"not null;index" json:"purchase_date"`
	ExpiresAt            *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`
	AccessCount          int64      `gorm:"default:0" json:"access_count"`
	LastAccessedAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_accessed_at,omitempty"`
	LastPlaybackPosition int64      `gorm:"default:0" json:"last_playback_position"` // seconds, only moves forward
	WatchedSeconds       int64      `gorm:"default:0" json:"watched_seconds"`
	CompletionPercent    int        `gorm:"default:0" json:"completion_percent"`
	RefundedAt           *time.Time `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
	RefundReason         string     `gorm:"type:varchar(255)" json:"refund_reason,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// OwnershipKey builds the OwnerKey value for a (user, video) pair.
func OwnershipKey(userID, videoID uint) string {
	return fmt.Sprintf("%d:%d", userID, videoID)
}

// IsExpired reports whether a time-bounded entitlement has lapsed.
// Perpetual entitlements (ExpiresAt == nil) never expire.
func (p *Purchase) IsExpired() bool {
	if p.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*p.ExpiresAt)
}

// IsActiveEntitlement reports whether this record currently grants access.
func (p *Purchase) IsActiveEntitlement() bool {
	return p.Status == PurchaseStatusCompleted && !p.IsExpired()
}

// RemainingAccess returns the time left on a bounded entitlement, zero when
// lapsed, and (0, false) for perpetual entitlements.
func (p *Purchase) RemainingAccess() (time.Duration, bool) {
	if p.ExpiresAt == nil {
		return 0, false
	}
	remaining := time.Until(*p.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// BeforeCreate fills defaults that the engine relies on.
func (p *Purchase) BeforeCreate(tx *gorm.DB) error {
	if p.PurchaseDate.IsZero() {
		p.PurchaseDate = time.Now()
	}
	return nil
}
