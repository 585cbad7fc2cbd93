package repository

import (
	"time"

	"github.com/vidvault/vidvault/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	Count() (int64, error)
}

// VideoRepository defines the interface for catalog video operations
type VideoRepository interface {
	Create(video *models.Video) error
	GetByID(id uint) (*models.Video, error)
	GetByUUID(uuid string) (*models.Video, error)
	GetActiveByID(id uint) (*models.Video, error)
	GetActiveByIDs(ids []uint) ([]models.Video, error)
	Update(video *models.Video) error
	List(offset, limit int) ([]models.Video, error)
	Count() (int64, error)
}

// PurchaseRepository defines the interface for entitlement persistence. The
// Grant/Revoke methods are the only writers of entitlement state and each
// runs as a single atomic transaction covering the purchase row, the owned
// set, the user's total-spent counter and the video purchase counters.
type PurchaseRepository interface {
	GetByID(id uint) (*models.Purchase, error)
	FindActiveEntitlement(userID, videoID uint) (*models.Purchase, error)
	FindActiveEntitlements(userID uint, videoIDs []uint) ([]models.Purchase, error)
	FindByTransactionID(transactionID string) (*models.Purchase, error)
	ListByUser(userID uint, opts PurchaseListOptions) ([]models.Purchase, int64, error)
	GrantEntitlement(purchase *models.Purchase) error
	GrantBulkBatch(purchases []models.Purchase) error
	RevokeEntitlement(purchaseID uint, reason string) (*models.Purchase, error)
	RecordUsage(purchaseID uint, positionSec, watchedDeltaSec int64, completionPercent int) error
	StatsByUser(userID uint) (*PurchaseStats, error)
}

// IdempotencyRepository defines the interface for the idempotency ledger rows
type IdempotencyRepository interface {
	InsertProcessing(record *models.IdempotencyRecord) error
	GetByKey(key string) (*models.IdempotencyRecord, error)
	TakeOver(key string, notTouchedSince time.Time) (bool, error)
	MarkCompleted(key string, resultJSON string) error
	MarkFailed(key string, errMsg string) error
	DeleteExpired() (int64, error)
}

// PurchaseListOptions narrows ListByUser queries
type PurchaseListOptions struct {
	Status   string
	FromDate *time.Time
	ToDate   *time.Time
	Offset   int
	Limit    int
}

// PurchaseStats provides aggregated purchase counters for a single user
type PurchaseStats struct {
	TotalSpentCents    int64
	TotalPurchases     int64
	CompletedPurchases int64
	RefundedPurchases  int64
}

// Repositories struct holds all repository instances
type Repositories struct {
	User        UserRepository
	Video       VideoRepository
	Purchase    PurchaseRepository
	Idempotency IdempotencyRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:        NewUserRepository(db),
		Video:       NewVideoRepository(db),
		Purchase:    NewPurchaseRepository(db),
		Idempotency: NewIdempotencyRepository(db),
	}
}
