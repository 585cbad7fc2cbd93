package purchase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidvault/vidvault/app/models"
	"github.com/vidvault/vidvault/app/repository"
	"github.com/vidvault/vidvault/internal/pkg/idempotency"
	"github.com/vidvault/vidvault/internal/pkg/payment"
	"gorm.io/gorm"
)

// ---- in-memory fakes ----

type memVideoRepo struct {
	mu     sync.Mutex
	videos map[uint]*models.Video
}

func newMemVideoRepo(videos ...*models.Video) *memVideoRepo {
	r := &memVideoRepo{videos: make(map[uint]*models.Video)}
	for _, v := range videos {
		r.videos[v.ID] = v
	}
	return r
}

func (r *memVideoRepo) Create(v *models.Video) error { r.videos[v.ID] = v; return nil }
func (r *memVideoRepo) GetByID(id uint) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return v, nil
}
func (r *memVideoRepo) GetByUUID(string) (*models.Video, error) { return nil, gorm.ErrRecordNotFound }
func (r *memVideoRepo) GetActiveByID(id uint) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok || !v.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return v, nil
}
func (r *memVideoRepo) GetActiveByIDs(ids []uint) ([]models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Video
	for _, id := range ids {
		if v, ok := r.videos[id]; ok && v.IsActive {
			out = append(out, *v)
		}
	}
	return out, nil
}
func (r *memVideoRepo) Update(*models.Video) error           { return nil }
func (r *memVideoRepo) List(int, int) ([]models.Video, error) { return nil, nil }
func (r *memVideoRepo) Count() (int64, error)                { return int64(len(r.videos)), nil }

type memPurchaseRepo struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*models.Purchase

	failGrants     bool // force write failures
	failBatchIndex int  // 1-based batch counter to fail, 0 = never
	batchCalls     int
}

func newMemPurchaseRepo() *memPurchaseRepo {
	return &memPurchaseRepo{rows: make(map[uint]*models.Purchase)}
}

func (r *memPurchaseRepo) GetByID(id uint) (*models.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPurchaseRepo) FindActiveEntitlement(userID, videoID uint) (*models.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.UserID == userID && p.VideoID == videoID && p.IsActiveEntitlement() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPurchaseRepo) FindActiveEntitlements(userID uint, videoIDs []uint) ([]models.Purchase, error) {
	var out []models.Purchase
	for _, id := range videoIDs {
		if p, err := r.FindActiveEntitlement(userID, id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memPurchaseRepo) FindByTransactionID(transactionID string) (*models.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if (p.TransactionID != nil && *p.TransactionID == transactionID) || p.GatewayTransactionID == transactionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPurchaseRepo) ListByUser(userID uint, opts repository.PurchaseListOptions) ([]models.Purchase, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Purchase
	for _, p := range r.rows {
		if p.UserID != userID {
			continue
		}
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchaseDate.After(out[j].PurchaseDate) })
	return out, int64(len(out)), nil
}

// conflicts mirrors the unique indexes on owner_key and transaction_id
func (r *memPurchaseRepo) conflicts(row *models.Purchase) bool {
	key := models.OwnershipKey(row.UserID, row.VideoID)
	for _, p := range r.rows {
		if p.OwnerKey != nil && *p.OwnerKey == key {
			return true
		}
		if row.TransactionID != nil && p.TransactionID != nil && *p.TransactionID == *row.TransactionID {
			return true
		}
	}
	return false
}

func (r *memPurchaseRepo) insert(row *models.Purchase) error {
	if r.conflicts(row) {
		return gorm.ErrDuplicatedKey
	}
	r.nextID++
	row.ID = r.nextID
	key := models.OwnershipKey(row.UserID, row.VideoID)
	row.OwnerKey = &key
	row.Status = models.PurchaseStatusCompleted
	if row.PurchaseDate.IsZero() {
		row.PurchaseDate = time.Now()
	}
	cp := *row
	r.rows[row.ID] = &cp
	return nil
}

func (r *memPurchaseRepo) GrantEntitlement(p *models.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGrants {
		return errors.New("simulated write failure")
	}
	return r.insert(p)
}

func (r *memPurchaseRepo) GrantBulkBatch(purchases []models.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchCalls++
	if r.failGrants {
		return errors.New("simulated write failure")
	}
	if r.failBatchIndex > 0 && r.batchCalls == r.failBatchIndex {
		return errors.New("simulated batch failure")
	}
	for i := range purchases {
		if r.conflicts(&purchases[i]) {
			// all-or-nothing batch
			return gorm.ErrDuplicatedKey
		}
	}
	for i := range purchases {
		if err := r.insert(&purchases[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *memPurchaseRepo) RevokeEntitlement(purchaseID uint, reason string) (*models.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[purchaseID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if p.Status != models.PurchaseStatusCompleted {
		return nil, repository.ErrNotRefundable
	}
	now := time.Now()
	p.Status = models.PurchaseStatusRefunded
	p.OwnerKey = nil
	p.RefundedAt = &now
	p.RefundReason = reason
	cp := *p
	return &cp, nil
}

func (r *memPurchaseRepo) RecordUsage(purchaseID uint, positionSec, watchedDeltaSec int64, completionPercent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[purchaseID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.AccessCount++
	p.WatchedSeconds += watchedDeltaSec
	if positionSec > p.LastPlaybackPosition {
		p.LastPlaybackPosition = positionSec
	}
	if completionPercent > p.CompletionPercent {
		p.CompletionPercent = completionPercent
	}
	return nil
}

func (r *memPurchaseRepo) StatsByUser(userID uint) (*repository.PurchaseStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &repository.PurchaseStats{}
	for _, p := range r.rows {
		if p.UserID != userID {
			continue
		}
		stats.TotalPurchases++
		switch p.Status {
		case models.PurchaseStatusCompleted:
			stats.CompletedPurchases++
			stats.TotalSpentCents += p.AmountCents
		case models.PurchaseStatusRefunded:
			stats.RefundedPurchases++
		}
	}
	return stats, nil
}

type memIdemRepo struct {
	mu   sync.Mutex
	rows map[string]*models.IdempotencyRecord
}

func newMemIdemRepo() *memIdemRepo {
	return &memIdemRepo{rows: make(map[string]*models.IdempotencyRecord)}
}

func (r *memIdemRepo) InsertProcessing(rec *models.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[rec.Key]; ok {
		return gorm.ErrDuplicatedKey
	}
	rec.Status = models.IdempotencyStatusProcessing
	rec.StartedAt = time.Now()
	cp := *rec
	r.rows[rec.Key] = &cp
	return nil
}

func (r *memIdemRepo) GetByKey(key string) (*models.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memIdemRepo) TakeOver(key string, notTouchedSince time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[key]
	if !ok {
		return false, nil
	}
	if rec.Status == models.IdempotencyStatusFailed ||
		(rec.Status == models.IdempotencyStatusProcessing && rec.StartedAt.Before(notTouchedSince)) {
		rec.Status = models.IdempotencyStatusProcessing
		rec.StartedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (r *memIdemRepo) MarkCompleted(key string, resultJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[key]
	if !ok || rec.Status != models.IdempotencyStatusProcessing {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	rec.Status = models.IdempotencyStatusCompleted
	rec.ResultJSON = resultJSON
	rec.CompletedAt = &now
	return nil
}

func (r *memIdemRepo) MarkFailed(key string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	rec.Status = models.IdempotencyStatusFailed
	rec.ErrorMsg = errMsg
	rec.FailedAt = &now
	return nil
}

func (r *memIdemRepo) DeleteExpired() (int64, error) { return 0, nil }

type fakeGateway struct {
	mu       sync.Mutex
	captures []payment.CaptureRequest
	refunds  []payment.RefundRequest

	declineNext bool
	failNext    bool
	refundErr   error
}

func (g *fakeGateway) Capture(_ context.Context, req payment.CaptureRequest) (*payment.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.declineNext {
		g.declineNext = false
		return nil, &payment.DeclinedError{Code: "card_declined", Reason: "insufficient funds"}
	}
	if g.failNext {
		g.failNext = false
		return nil, errors.New("gateway timeout")
	}
	g.captures = append(g.captures, req)
	return &payment.CaptureResult{
		ExternalID: fmt.Sprintf("ch_%d", len(g.captures)),
		Gateway:    "stripe",
		Method:     req.Method,
		CapturedAt: time.Now(),
	}, nil
}

func (g *fakeGateway) Refund(_ context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return &payment.RefundResult{RefundID: fmt.Sprintf("re_%d", len(g.refunds)), RefundedAt: time.Now()}, nil
}

func newTestService(videos ...*models.Video) (*Service, *memPurchaseRepo, *fakeGateway) {
	purchases := newMemPurchaseRepo()
	gateway := &fakeGateway{}
	repos := &repository.Repositories{
		Video:       newMemVideoRepo(videos...),
		Purchase:    purchases,
		Idempotency: newMemIdemRepo(),
	}
	svc := NewService(repos, gateway, idempotency.NewLedger(repos.Idempotency), nil)
	return svc, purchases, gateway
}

func testVideo(id uint, priceCents int64) *models.Video {
	return &models.Video{
		ID:              id,
		Title:           fmt.Sprintf("Video %d", id),
		PriceCents:      priceCents,
		Currency:        "THB",
		DurationSeconds: 600,
		IsActive:        true,
		IsReady:         true,
	}
}

func intent(txn string) PaymentIntent {
	return PaymentIntent{Method: "card", TransactionID: txn}
}

// ---- single purchase ----

func TestPurchaseSuccess(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 19900))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)
	assert.False(t, out.AlreadyOwned)
	assert.Equal(t, models.PurchaseStatusCompleted, out.Purchase.Status)
	assert.Equal(t, int64(19900), out.Purchase.AmountCents)
	assert.Equal(t, "stripe", out.Purchase.Gateway)
	require.Len(t, gateway.captures, 1)
	assert.Equal(t, int64(19900), gateway.captures[0].AmountCents)
	assert.Empty(t, gateway.refunds)

	access, err := svc.CheckAccess(7, 1)
	require.NoError(t, err)
	assert.True(t, access.HasAccess)
	assert.Nil(t, access.ExpiresAt)
}

func TestPurchaseAlreadyOwnedNoCharge(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 19900))

	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-2"))
	require.NoError(t, err)
	assert.True(t, out.AlreadyOwned)
	assert.Len(t, gateway.captures, 1, "second purchase must not charge again")
}

func TestPurchaseVideoNotFound(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 19900))

	_, err := svc.Purchase(context.Background(), 7, 99, intent("TXN-1"))
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Empty(t, gateway.captures)
}

func TestPurchaseInactiveVideo(t *testing.T) {
	v := testVideo(1, 19900)
	v.IsActive = false
	svc, _, _ := newTestService(v)

	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestPurchaseDeclinedLeavesNoEntitlement(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 19900))
	gateway.declineNext = true

	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	assert.Equal(t, CodePaymentDeclined, CodeOf(err))
	assert.False(t, IsRetryable(err))

	access, err := svc.CheckAccess(7, 1)
	require.NoError(t, err)
	assert.False(t, access.HasAccess)
}

func TestPurchaseGatewayOutageIsRetryable(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 19900))
	gateway.failNext = true

	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	assert.Equal(t, CodeWriteFailure, CodeOf(err))
	assert.True(t, IsRetryable(err))
}

func TestPurchaseWriteFailureCompensates(t *testing.T) {
	svc, purchases, gateway := newTestService(testVideo(1, 19900))
	purchases.failGrants = true

	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	assert.Equal(t, CodeWriteFailure, CodeOf(err))
	assert.True(t, IsRetryable(err))
	require.Len(t, gateway.captures, 1)
	require.Len(t, gateway.refunds, 1, "captured money must be refunded when the write fails")
	assert.Equal(t, "ch_1", gateway.refunds[0].ExternalID)
}

func TestPurchaseRetrySameTransactionIDNoRefund(t *testing.T) {
	svc, purchases, gateway := newTestService(testVideo(1, 19900))

	first, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	// Hide the row from the ownership check so the retry reaches the
	// write; the transaction id still trips its unique index there.
	purchases.mu.Lock()
	purchases.rows[first.Purchase.ID].Status = models.PurchaseStatusPending
	purchases.mu.Unlock()

	// Same external reference resubmitted by the same user: the gateway
	// deduplicated the charge, so the stored purchase comes back and
	// nothing is refunded.
	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)
	assert.True(t, out.AlreadyOwned)
	assert.Equal(t, first.Purchase.ID, out.Purchase.ID)
	assert.Empty(t, gateway.refunds)
}

func TestPurchaseForeignTransactionIDRejected(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 19900), testVideo(2, 500))

	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	// Another user reusing the reference never gets the original buyer's
	// record, and the original charge is never refunded.
	_, err = svc.Purchase(context.Background(), 8, 2, intent("TXN-1"))
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.Empty(t, gateway.refunds)

	access, err := svc.CheckAccess(8, 2)
	require.NoError(t, err)
	assert.False(t, access.HasAccess)
}

func TestPurchaseFreeVideoSkipsGateway(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 0))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Purchase.AmountCents)
	assert.Empty(t, gateway.captures)
}

func TestPurchaseTimeBoundedAccess(t *testing.T) {
	v := testVideo(1, 9900)
	dur := int64(3600)
	v.AccessDurationSec = &dur
	svc, _, _ := newTestService(v)

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)
	require.NotNil(t, out.Purchase.ExpiresAt)

	access, err := svc.CheckAccess(7, 1)
	require.NoError(t, err)
	assert.True(t, access.HasAccess)
	require.NotNil(t, access.Remaining)
	assert.Greater(t, *access.Remaining, 59*time.Minute)
}

func TestPurchaseValidation(t *testing.T) {
	svc, _, _ := newTestService(testVideo(1, 19900))
	ctx := context.Background()

	_, err := svc.Purchase(ctx, 7, 1, PaymentIntent{TransactionID: "TXN-1"})
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = svc.Purchase(ctx, 7, 1, PaymentIntent{Method: "card"})
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = svc.Purchase(ctx, 7, 0, intent("TXN-1"))
	assert.Equal(t, CodeValidation, CodeOf(err))
}

// ---- bulk purchase ----

func TestBulkPurchaseMixedOutcome(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 100), testVideo(2, 200), testVideo(3, 300))

	// Own video 1 up front.
	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-PRE"))
	require.NoError(t, err)

	result, err := svc.BulkPurchase(context.Background(), 7, []uint{1, 2, 3, 99}, intent("BULK-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.PurchasedCount)
	assert.Equal(t, 1, result.AlreadyOwnedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, int64(500), result.TotalAmountCents)
	assert.NotEmpty(t, result.BulkID)
	assert.Len(t, result.Items, 4)

	// one capture for the whole order, only for the new videos
	require.Len(t, gateway.captures, 2) // pre-purchase + bulk
	assert.Equal(t, int64(500), gateway.captures[1].AmountCents)

	access, err := svc.CheckAccess(7, 3)
	require.NoError(t, err)
	assert.True(t, access.HasAccess)
}

func TestBulkPurchaseDedupesIDs(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 100))

	result, err := svc.BulkPurchase(context.Background(), 7, []uint{1, 1, 1}, intent("BULK-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.PurchasedCount)
	require.Len(t, gateway.captures, 1)
	assert.Equal(t, int64(100), gateway.captures[0].AmountCents)
}

func TestBulkPurchaseReplay(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 100), testVideo(2, 200))

	first, err := svc.BulkPurchase(context.Background(), 7, []uint{1, 2}, intent("BULK-1"))
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	// Identical retry: cached outcome, no second charge.
	second, err := svc.BulkPurchase(context.Background(), 7, []uint{2, 1}, intent("BULK-1"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.BulkID, second.BulkID)
	assert.Equal(t, first.PurchasedCount, second.PurchasedCount)
	assert.Len(t, gateway.captures, 1)
}

func TestBulkPurchaseAllOwnedIsSuccess(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 100))

	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-PRE"))
	require.NoError(t, err)

	result, err := svc.BulkPurchase(context.Background(), 7, []uint{1}, intent("BULK-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.PurchasedCount)
	assert.Equal(t, 1, result.AlreadyOwnedCount)
	assert.Len(t, gateway.captures, 1, "nothing new to buy must not charge")
}

func TestBulkPurchaseAllInvalidFailsAndAllowsRetry(t *testing.T) {
	svc, _, _ := newTestService(testVideo(1, 100))

	_, err := svc.BulkPurchase(context.Background(), 7, []uint{98, 99}, intent("BULK-1"))
	assert.Equal(t, CodeNotFound, CodeOf(err))

	// The failed attempt must not poison the key.
	result, err := svc.BulkPurchase(context.Background(), 7, []uint{98, 99, 1}, intent("BULK-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.PurchasedCount)
}

func TestBulkPurchaseDeclined(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 100))
	gateway.declineNext = true

	_, err := svc.BulkPurchase(context.Background(), 7, []uint{1}, intent("BULK-1"))
	assert.Equal(t, CodePaymentDeclined, CodeOf(err))

	access, aerr := svc.CheckAccess(7, 1)
	require.NoError(t, aerr)
	assert.False(t, access.HasAccess)
}

func TestBulkPurchaseMixedCurrencyRejected(t *testing.T) {
	other := testVideo(2, 500)
	other.Currency = "USD"
	svc, _, gateway := newTestService(testVideo(1, 19900), other)

	_, err := svc.BulkPurchase(context.Background(), 7, []uint{1, 2}, intent("BULK-1"))
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.Empty(t, gateway.captures, "no charge before the order validates")
}

func TestBulkPurchaseTotalWriteFailureRefundsEverything(t *testing.T) {
	svc, purchases, gateway := newTestService(testVideo(1, 100), testVideo(2, 200))
	purchases.failGrants = true

	_, err := svc.BulkPurchase(context.Background(), 7, []uint{1, 2}, intent("BULK-1"))
	assert.Equal(t, CodeWriteFailure, CodeOf(err))
	assert.True(t, IsRetryable(err))
	require.Len(t, gateway.refunds, 1)
	assert.Equal(t, int64(0), gateway.refunds[0].AmountCents, "full refund")
}

func TestBulkPurchasePartialBatchFailureRefundsRemainder(t *testing.T) {
	videos := make([]*models.Video, 0, BulkBatchSize+5)
	ids := make([]uint, 0, BulkBatchSize+5)
	for i := uint(1); i <= uint(BulkBatchSize+5); i++ {
		videos = append(videos, testVideo(i, 10))
		ids = append(ids, i)
	}
	svc, purchases, gateway := newTestService(videos...)
	purchases.failBatchIndex = 2 // second batch (the 5 trailing rows) fails

	result, err := svc.BulkPurchase(context.Background(), 7, ids, intent("BULK-1"))
	require.NoError(t, err)
	assert.Equal(t, BulkBatchSize, result.PurchasedCount)
	assert.Equal(t, 5, result.FailedCount)
	assert.Equal(t, int64(BulkBatchSize*10), result.TotalAmountCents)

	// The uncommitted 5 rows' worth of money goes back.
	require.Len(t, gateway.refunds, 1)
	assert.Equal(t, int64(50), gateway.refunds[0].AmountCents)
}

func TestBulkPurchaseRaceFallsBackToAlreadyOwned(t *testing.T) {
	svc, purchases, gateway := newTestService(testVideo(1, 100), testVideo(2, 200))

	// Simulate a concurrent single purchase landing between classification
	// and commit by seeding a conflicting completed row directly.
	seeded := &models.Purchase{UserID: 7, VideoID: 1, AmountCents: 100, Currency: "THB", PaymentMethod: "card"}
	txn := "TXN-RACE"
	seeded.TransactionID = &txn
	require.NoError(t, purchases.GrantEntitlement(seeded))
	// Hide it from the classification read; the owner key stays, which is
	// what trips the unique index during commit.
	purchases.mu.Lock()
	purchases.rows[seeded.ID].Status = models.PurchaseStatusPending
	purchases.mu.Unlock()

	result, err := svc.BulkPurchase(context.Background(), 7, []uint{1, 2}, intent("BULK-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.PurchasedCount)
	assert.Equal(t, 1, result.AlreadyOwnedCount)

	// Video 1's money was captured but its row lost the race, so it is refunded.
	require.Len(t, gateway.refunds, 1)
	assert.Equal(t, int64(100), gateway.refunds[0].AmountCents)
}

func TestBulkPurchaseValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.BulkPurchase(ctx, 7, nil, intent("BULK-1"))
	assert.Equal(t, CodeValidation, CodeOf(err))

	huge := make([]uint, MaxBulkVideos+1)
	for i := range huge {
		huge[i] = uint(i + 1)
	}
	_, err = svc.BulkPurchase(ctx, 7, huge, intent("BULK-1"))
	assert.Equal(t, CodeValidation, CodeOf(err))
}

// ---- refund ----

func TestRefundRevokesAccessAndPaysBack(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 19900))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	refunded, err := svc.Refund(context.Background(), 7, out.Purchase.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusRefunded, refunded.Status)
	assert.NotNil(t, refunded.RefundedAt)
	require.Len(t, gateway.refunds, 1)
	assert.Equal(t, int64(19900), gateway.refunds[0].AmountCents)

	access, err := svc.CheckAccess(7, 1)
	require.NoError(t, err)
	assert.False(t, access.HasAccess, "refund must revoke access")
}

func TestRefundTwiceRejected(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 19900))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), 7, out.Purchase.ID, "first")
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), 7, out.Purchase.ID, "second")
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.Len(t, gateway.refunds, 1, "gateway must be hit at most once")
}

func TestRefundWindowExpired(t *testing.T) {
	svc, purchases, _ := newTestService(testVideo(1, 19900))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	purchases.mu.Lock()
	purchases.rows[out.Purchase.ID].PurchaseDate = time.Now().Add(-RefundWindow - time.Hour)
	purchases.mu.Unlock()

	_, err = svc.Refund(context.Background(), 7, out.Purchase.ID, "too late")
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestRefundForeignPurchaseHidden(t *testing.T) {
	svc, _, _ := newTestService(testVideo(1, 19900))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), 8, out.Purchase.ID, "not mine")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestRefundFreePurchaseSkipsGateway(t *testing.T) {
	svc, _, gateway := newTestService(testVideo(1, 0))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	refunded, err := svc.Refund(context.Background(), 7, out.Purchase.ID, "free anyway")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusRefunded, refunded.Status)
	assert.Empty(t, gateway.refunds)
}

func TestRefundGatewayFailureKeepsEntitlement(t *testing.T) {
	svc, purchases, gateway := newTestService(testVideo(1, 19900))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	gateway.refundErr = errors.New("gateway down")
	_, err = svc.Refund(context.Background(), 7, out.Purchase.ID, "changed my mind")
	assert.Equal(t, CodeWriteFailure, CodeOf(err))
	assert.True(t, IsRetryable(err))

	purchases.mu.Lock()
	assert.Equal(t, models.PurchaseStatusCompleted, purchases.rows[out.Purchase.ID].Status)
	purchases.mu.Unlock()

	access, err := svc.CheckAccess(7, 1)
	require.NoError(t, err)
	assert.True(t, access.HasAccess, "a failed payout must not revoke access")

	// The retry goes through once the gateway recovers.
	gateway.refundErr = nil
	refunded, err := svc.Refund(context.Background(), 7, out.Purchase.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusRefunded, refunded.Status)
	require.Len(t, gateway.refunds, 1)
	assert.Equal(t, int64(19900), gateway.refunds[0].AmountCents)
}

// ---- usage ----

func TestRecordUsageMonotonic(t *testing.T) {
	svc, purchases, _ := newTestService(testVideo(1, 19900))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	require.NoError(t, svc.RecordUsage(7, 1, 300, 300)) // halfway through 600s
	require.NoError(t, svc.RecordUsage(7, 1, 120, 30))  // late out-of-order report

	p, err := purchases.GetByID(out.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), p.LastPlaybackPosition, "position never moves backward")
	assert.Equal(t, int64(330), p.WatchedSeconds)
	assert.Equal(t, 50, p.CompletionPercent)
	assert.Equal(t, int64(2), p.AccessCount)
}

func TestRecordUsageCompletionClamped(t *testing.T) {
	svc, purchases, _ := newTestService(testVideo(1, 19900))

	out, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)

	require.NoError(t, svc.RecordUsage(7, 1, 9000, 10))
	p, err := purchases.GetByID(out.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, p.CompletionPercent)
}

func TestRecordUsageWithoutEntitlement(t *testing.T) {
	svc, _, _ := newTestService(testVideo(1, 19900))

	err := svc.RecordUsage(7, 1, 10, 10)
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestRecordUsageNegativeRejected(t *testing.T) {
	svc, _, _ := newTestService(testVideo(1, 19900))

	err := svc.RecordUsage(7, 1, -1, 10)
	assert.Equal(t, CodeValidation, CodeOf(err))
}

// ---- history & stats ----

func TestListAndStats(t *testing.T) {
	svc, _, _ := newTestService(testVideo(1, 100), testVideo(2, 200))

	_, err := svc.Purchase(context.Background(), 7, 1, intent("TXN-1"))
	require.NoError(t, err)
	out2, err := svc.Purchase(context.Background(), 7, 2, intent("TXN-2"))
	require.NoError(t, err)
	_, err = svc.Refund(context.Background(), 7, out2.Purchase.ID, "refund me")
	require.NoError(t, err)

	all, total, err := svc.ListPurchases(7, repository.PurchaseListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	refundedOnly, _, err := svc.ListPurchases(7, repository.PurchaseListOptions{Status: models.PurchaseStatusRefunded})
	require.NoError(t, err)
	assert.Len(t, refundedOnly, 1)

	stats, err := svc.Stats(7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalPurchases)
	assert.Equal(t, int64(1), stats.CompletedPurchases)
	assert.Equal(t, int64(1), stats.RefundedPurchases)
	assert.Equal(t, int64(100), stats.TotalSpentCents)
}
