package lock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block a key.
const DefaultTTL = 15 * time.Second

// Operation kinds used as lock key prefixes.
const (
	KindPurchase     = "purchase"
	KindBulkPurchase = "bulk_purchase"
	KindRefund       = "refund"
)

// Store provides distributed mutual exclusion on top of Redis. Acquisition
// is a single SET NX PX round trip; there is deliberately no read-then-set
// variant because that would open a race window between the two calls.
//
// Locking fails closed: when Redis is unreachable Acquire returns an error
// and callers must reject the request as retryable. Proceeding without the
// lock would defeat the duplicate-suppression guarantee.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a lock store from an injected Redis client
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// TTL returns the configured lock lifetime
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Acquire attempts to take the lock for key. It returns (false, nil) when
// another holder owns the key and (false, err) when the store itself failed.
func (s *Store) Acquire(ctx context.Context, key string) (bool, error) {
	acquired, err := s.client.SetNX(ctx, key, "processing", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock store unavailable: %w", err)
	}
	return acquired, nil
}

// Release frees the lock. Errors are logged, not returned: release runs on
// every exit path and a failed DEL only extends the hold until TTL expiry.
func (s *Store) Release(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		log.Errorf("[Lock] Failed to release %s: %v", key, err)
		return
	}
	log.Debugf("[Lock] Released %s", key)
}

// Key builds a lock key as <kind>:<userID>:<fingerprint>
func Key(kind string, userID uint, fingerprint string) string {
	return fmt.Sprintf("lock:%s:%d:%s", kind, userID, fingerprint)
}

// SingleFingerprint is the literal resource id for single-resource operations
func SingleFingerprint(videoID uint) string {
	return strconv.FormatUint(uint64(videoID), 10)
}

// BulkFingerprint hashes a sorted, de-duplicated id set so that two
// semantically identical bulk requests collide on the same key regardless of
// input order or repeats.
func BulkFingerprint(videoIDs []uint) string {
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
	sum := sha1.Sum([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

// TxnFingerprint falls back to the external payment reference when an
// operation carries no resource id at all.
func TxnFingerprint(transactionID string) string {
	return strings.TrimSpace(transactionID)
}
