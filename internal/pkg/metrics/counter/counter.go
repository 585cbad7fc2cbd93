package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vidvault/vidvault/internal/pkg/cache"
	"github.com/vidvault/vidvault/internal/pkg/database"
)

const (
	videoViewsKey = "video:counters:views"

	dailySalesCountKey   = "stats:sales:count:%s"   // Format with date YYYY-MM-DD
	dailySalesRevenueKey = "stats:sales:revenue:%s" // Format with date YYYY-MM-DD
	dailySalesTTL        = 48 * time.Hour
)

// AddVideoView increments the pending view counter for a video in Redis
func AddVideoView(videoID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(videoID), 10)
	return cache.GetClient().HIncrBy(ctx, videoViewsKey, field, 1).Err()
}

// AddDailySales folds a completed or refunded order into today's sales
// counters. Refunds pass negative values.
func AddDailySales(count, amountCents int64) error {
	ctx := context.Background()
	rdb := cache.GetClient()
	today := time.Now().Format("2006-01-02")

	countKey := fmt.Sprintf(dailySalesCountKey, today)
	revenueKey := fmt.Sprintf(dailySalesRevenueKey, today)

	pipe := rdb.Pipeline()
	pipe.IncrBy(ctx, countKey, count)
	pipe.Expire(ctx, countKey, dailySalesTTL)
	pipe.IncrBy(ctx, revenueKey, amountCents)
	pipe.Expire(ctx, revenueKey, dailySalesTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetDailySales returns today's sales counters (count, revenue in cents)
func GetDailySales() (int64, int64, error) {
	ctx := context.Background()
	rdb := cache.GetClient()
	today := time.Now().Format("2006-01-02")

	count, err := rdb.Get(ctx, fmt.Sprintf(dailySalesCountKey, today)).Int64()
	if err != nil && !isNil(err) {
		return 0, 0, err
	}
	revenue, err := rdb.Get(ctx, fmt.Sprintf(dailySalesRevenueKey, today)).Int64()
	if err != nil && !isNil(err) {
		return 0, 0, err
	}
	return count, revenue, nil
}

func isNil(err error) bool {
	return err != nil && err.Error() == "redis: nil"
}

// FlushAll flushes pending view counters to the database
func FlushAll() error {
	return flushHashToTable(videoViewsKey, "videos", "view_count")
}

// flushHashToTable drains a Redis hash atomically and applies batched increments to the target table.
// Uses RENAME to a temporary key for atomic drain without losing in-flight increments.
func flushHashToTable(redisKey, table, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		// Some Redis libs return redis.Nil; treat as empty
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	// Build batched UPDATE using CASE WHEN id THEN inc
	// Collect ids and increments; also sort ids for stable SQL
	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	// Compose SQL
	// UPDATE videos SET <column> = <column> + CASE id WHEN ? THEN ? ... END WHERE id IN ( ... )
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*2+len(pairs))
	builder.WriteString("UPDATE ")
	builder.WriteString(table)
	builder.WriteString(" SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE id ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")

	sql := builder.String()
	db := database.GetDB()
	if err := db.Exec(sql, args...).Error; err != nil {
		return err
	}
	return nil
}
