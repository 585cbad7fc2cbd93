package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOwnershipKey(t *testing.T) {
	assert.Equal(t, "7:42", OwnershipKey(7, 42))
}

func TestPurchaseIsExpired(t *testing.T) {
	p := &Purchase{}
	assert.False(t, p.IsExpired(), "perpetual entitlement must never expire")

	past := time.Now().Add(-time.Hour)
	p.ExpiresAt = &past
	assert.True(t, p.IsExpired())

	future := time.Now().Add(time.Hour)
	p.ExpiresAt = &future
	assert.False(t, p.IsExpired())
}

func TestPurchaseIsActiveEntitlement(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name     string
		purchase Purchase
		want     bool
	}{
		{name: "completed perpetual", purchase: Purchase{Status: PurchaseStatusCompleted}, want: true},
		{name: "completed unexpired", purchase: Purchase{Status: PurchaseStatusCompleted, ExpiresAt: &future}, want: true},
		{name: "completed expired", purchase: Purchase{Status: PurchaseStatusCompleted, ExpiresAt: &past}, want: false},
		{name: "refunded", purchase: Purchase{Status: PurchaseStatusRefunded}, want: false},
		{name: "processing", purchase: Purchase{Status: PurchaseStatusProcessing}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.purchase.IsActiveEntitlement())
		})
	}
}

func TestPurchaseRemainingAccess(t *testing.T) {
	p := &Purchase{}
	_, bounded := p.RemainingAccess()
	assert.False(t, bounded)

	future := time.Now().Add(30 * time.Minute)
	p.ExpiresAt = &future
	remaining, bounded := p.RemainingAccess()
	assert.True(t, bounded)
	assert.InDelta(t, (30 * time.Minute).Seconds(), remaining.Seconds(), 5)

	past := time.Now().Add(-time.Minute)
	p.ExpiresAt = &past
	remaining, bounded = p.RemainingAccess()
	assert.True(t, bounded)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestVideoAccessExpiry(t *testing.T) {
	now := time.Now()

	v := &Video{}
	assert.Nil(t, v.AccessExpiry(now), "no access duration means perpetual")

	dur := int64(3600)
	v.AccessDurationSec = &dur
	expiry := v.AccessExpiry(now)
	assert.NotNil(t, expiry)
	assert.Equal(t, now.Add(time.Hour), *expiry)
}

func TestIdempotencyRecordIsStale(t *testing.T) {
	r := &IdempotencyRecord{Status: IdempotencyStatusProcessing, StartedAt: time.Now().Add(-20 * time.Minute)}
	assert.True(t, r.IsStale(15*time.Minute))

	r.StartedAt = time.Now().Add(-time.Minute)
	assert.False(t, r.IsStale(15*time.Minute))

	r.Status = IdempotencyStatusCompleted
	r.StartedAt = time.Now().Add(-time.Hour)
	assert.False(t, r.IsStale(15*time.Minute), "only processing records can be stale")
}
