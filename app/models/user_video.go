package models

import "time"

// UserVideo is the denormalized owned-set join table. A row exists exactly
// while the user holds an active entitlement for the video; the purchase
// engine inserts and removes rows inside the same transaction that writes the
// Purchase record.
type UserVideo struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	VideoID   uint      `gorm:"primaryKey;autoIncrement:false" json:"video_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
