package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidvault/vidvault/app/models"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory IdempotencyRepository for ledger tests
type fakeRepo struct {
	records map[string]*models.IdempotencyRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*models.IdempotencyRecord)}
}

func (f *fakeRepo) InsertProcessing(record *models.IdempotencyRecord) error {
	if _, ok := f.records[record.Key]; ok {
		return gorm.ErrDuplicatedKey
	}
	now := time.Now()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	record.Status = models.IdempotencyStatusProcessing
	record.ExpiresAt = now.Add(models.IdempotencyRetention)
	f.records[record.Key] = record
	return nil
}

func (f *fakeRepo) GetByKey(key string) (*models.IdempotencyRecord, error) {
	r, ok := f.records[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) TakeOver(key string, notTouchedSince time.Time) (bool, error) {
	r, ok := f.records[key]
	if !ok {
		return false, nil
	}
	stale := r.Status == models.IdempotencyStatusProcessing && r.StartedAt.Before(notTouchedSince)
	if r.Status != models.IdempotencyStatusFailed && !stale {
		return false, nil
	}
	r.Status = models.IdempotencyStatusProcessing
	r.StartedAt = time.Now()
	r.ErrorMsg = ""
	return true, nil
}

func (f *fakeRepo) MarkCompleted(key string, resultJSON string) error {
	r := f.records[key]
	now := time.Now()
	r.Status = models.IdempotencyStatusCompleted
	r.ResultJSON = resultJSON
	r.CompletedAt = &now
	return nil
}

func (f *fakeRepo) MarkFailed(key string, errMsg string) error {
	r := f.records[key]
	now := time.Now()
	r.Status = models.IdempotencyStatusFailed
	r.ErrorMsg = errMsg
	r.FailedAt = &now
	return nil
}

func (f *fakeRepo) DeleteExpired() (int64, error) {
	var n int64
	for k, r := range f.records {
		if r.ExpiresAt.Before(time.Now()) {
			delete(f.records, k)
			n++
		}
	}
	return n, nil
}

func TestGenerateKeyDeterministic(t *testing.T) {
	a := GenerateKey(1, "TXN-1", []uint{3, 1, 2})
	b := GenerateKey(1, "TXN-1", []uint{2, 1, 3, 3})
	assert.Equal(t, a, b, "id order and repeats must not change the key")
	assert.Len(t, a, 64)
}

func TestGenerateKeyDiscriminates(t *testing.T) {
	base := GenerateKey(1, "TXN-1", []uint{1, 2})
	assert.NotEqual(t, base, GenerateKey(2, "TXN-1", []uint{1, 2}), "different actor")
	assert.NotEqual(t, base, GenerateKey(1, "TXN-2", []uint{1, 2}), "different transaction")
	assert.NotEqual(t, base, GenerateKey(1, "TXN-1", []uint{1, 3}), "different id set")
}

func TestBeginNewKey(t *testing.T) {
	ledger := NewLedger(newFakeRepo())

	res, err := ledger.Begin(context.Background(), "k1", 1)
	require.NoError(t, err)
	assert.False(t, res.Replay)
}

func TestBeginRejectsInFlight(t *testing.T) {
	ledger := NewLedger(newFakeRepo())
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "k1", 1)
	require.NoError(t, err)

	_, err = ledger.Begin(ctx, "k1", 1)
	assert.ErrorIs(t, err, ErrStillProcessing, "a second attempt while processing must be rejected, never double-executed")
}

func TestBeginReplaysCompletedResult(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "k1", 1)
	require.NoError(t, err)
	require.NoError(t, ledger.Finish(ctx, "k1", map[string]int{"purchased": 3}))

	res, err := ledger.Begin(ctx, "k1", 1)
	require.NoError(t, err)
	assert.True(t, res.Replay)
	assert.JSONEq(t, `{"purchased":3}`, res.ResultJSON)
}

func TestBeginRetriesAfterFailure(t *testing.T) {
	ledger := NewLedger(newFakeRepo())
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "k1", 1)
	require.NoError(t, err)
	require.NoError(t, ledger.Fail(ctx, "k1", assert.AnError))

	res, err := ledger.Begin(ctx, "k1", 1)
	require.NoError(t, err)
	assert.False(t, res.Replay, "a failed attempt must allow a fresh retry")
}

func TestBeginTakesOverStaleProcessing(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "k1", 1)
	require.NoError(t, err)

	// Simulate a crashed owner: backdate the processing record.
	repo.records["k1"].StartedAt = time.Now().Add(-2 * StalenessBound)

	res, err := ledger.Begin(ctx, "k1", 1)
	require.NoError(t, err)
	assert.False(t, res.Replay, "stale processing records are reclaimed by the next attempt")
}

func TestPurgeExpired(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "old", 1)
	require.NoError(t, err)
	repo.records["old"].ExpiresAt = time.Now().Add(-time.Hour)

	_, err = ledger.Begin(ctx, "fresh", 1)
	require.NoError(t, err)

	n, err := ledger.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
