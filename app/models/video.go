package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Video is a purchasable catalog asset. Pricing is stored in the smallest
// currency unit (cents/satang) to avoid float arithmetic on money.
type Video struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	UUID              string         `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"uuid"`
	Title             string         `gorm:"type:varchar(255);not null" json:"title" validate:"required,max=255"`
	Description       string         `gorm:"type:text" json:"description"`
	PriceCents        int64          `gorm:"type:bigint;not null" json:"price_cents" validate:"gte=0"`
	Currency          string         `gorm:"type:varchar(3);not null;default:'THB'" json:"currency" validate:"required,len=3"`
	DurationSeconds   int64          `gorm:"type:bigint;default:0" json:"duration_seconds"`
	AccessDurationSec *int64         `gorm:"type:bigint;default:null" json:"access_duration_sec,omitempty"` // nil = perpetual access
	IsActive          bool           `gorm:"default:true;index" json:"is_active"`
	IsReady           bool           `gorm:"default:false" json:"is_ready"` // transcoding pipeline readiness flag
	PurchaseCount     int64          `gorm:"default:0" json:"purchase_count"`
	ViewCount         int64          `gorm:"default:0" json:"view_count"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate generates the public UUID for new videos
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.UUID == "" {
		v.UUID = uuid.New().String()
	}
	return nil
}

// IsPurchasable reports whether the video can be sold right now
func (v *Video) IsPurchasable() bool {
	return v.IsActive
}

// AccessExpiry computes the entitlement expiry for a purchase made at now.
// Returns nil for perpetual access.
func (v *Video) AccessExpiry(now time.Time) *time.Time {
	if v.AccessDurationSec == nil || *v.AccessDurationSec <= 0 {
		return nil
	}
	t := now.Add(time.Duration(*v.AccessDurationSec) * time.Second)
	return &t
}
