package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/vidvault/vidvault/app/models"
	"github.com/vidvault/vidvault/app/repository"
	"gorm.io/gorm"
)

// StalenessBound is how long a processing record may sit untouched before a
// fresh attempt is allowed to take it over (crashed owner).
const StalenessBound = 15 * time.Minute

// ErrStillProcessing is returned when another attempt currently owns the key
var ErrStillProcessing = errors.New("an identical operation is still processing")

// BeginResult reports how an attempt should proceed. When Replay is true the
// operation already completed and ResultJSON carries the cached outcome; the
// caller must return it without re-executing.
type BeginResult struct {
	Replay     bool
	ResultJSON string
}

// Ledger coordinates at-most-once execution of logical operations via a
// unique-keyed durable record per attempt.
type Ledger struct {
	repo repository.IdempotencyRepository
}

// NewLedger creates a ledger from an injected repository
func NewLedger(repo repository.IdempotencyRepository) *Ledger {
	return &Ledger{repo: repo}
}

// GenerateKey derives the deterministic operation key from the actor, the
// external payment reference and the canonicalized (sorted, de-duplicated)
// resource id set.
func GenerateKey(userID uint, transactionID string, videoIDs []uint) string {
	ids := make([]uint, 0, len(videoIDs))
	seen := make(map[uint]struct{}, len(videoIDs))
	for _, id := range videoIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}

	payload := fmt.Sprintf("%d:%s:%s", userID, strings.TrimSpace(transactionID), strings.Join(parts, ","))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Begin claims key for a new attempt. Exactly one of these happens:
//   - no prior record: a processing record is inserted, the attempt proceeds;
//   - prior completed: the cached result is returned for replay;
//   - prior processing and fresh: ErrStillProcessing;
//   - prior processing but stale, or prior failed: the record is taken over
//     and the attempt proceeds as a retry.
func (l *Ledger) Begin(ctx context.Context, key string, userID uint) (*BeginResult, error) {
	_ = ctx
	err := l.repo.InsertProcessing(&models.IdempotencyRecord{Key: key, UserID: userID})
	if err == nil {
		return &BeginResult{}, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}

	existing, err := l.repo.GetByKey(key)
	if err != nil {
		return nil, err
	}

	switch existing.Status {
	case models.IdempotencyStatusCompleted:
		log.Infof("[Idempotency] Replaying completed operation %s", key)
		return &BeginResult{Replay: true, ResultJSON: existing.ResultJSON}, nil
	case models.IdempotencyStatusProcessing:
		if !existing.IsStale(StalenessBound) {
			return nil, ErrStillProcessing
		}
		log.Warnf("[Idempotency] Taking over stale processing record %s (started %s)", key, existing.StartedAt)
	}

	// failed or stale-processing: exactly one retrier wins the takeover
	won, err := l.repo.TakeOver(key, time.Now().Add(-StalenessBound))
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrStillProcessing
	}
	return &BeginResult{}, nil
}

// Finish records the successful outcome of the attempt that owns key. It is
// the only transition out of processing besides Fail.
func (l *Ledger) Finish(ctx context.Context, key string, result interface{}) error {
	_ = ctx
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotency result: %w", err)
	}
	return l.repo.MarkCompleted(key, string(data))
}

// Fail records a failed attempt; a later retry with the same key may proceed
func (l *Ledger) Fail(ctx context.Context, key string, cause error) error {
	_ = ctx
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.repo.MarkFailed(key, msg)
}

// PurgeExpired deletes records past their retention window. Called
// periodically by the background manager.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	_ = ctx
	return l.repo.DeleteExpired()
}
