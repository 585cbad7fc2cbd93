package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestCheckCountsWithinWindow(t *testing.T) {
	client := setupTestRedis(t)
	limiter := NewLimiter(client, 3, time.Minute)
	ctx := context.Background()
	key := fmt.Sprintf("rate_limit:test:%d", time.Now().UnixNano())

	for i := 0; i < 3; i++ {
		res := limiter.Check(ctx, key)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3-(i+1), res.Remaining)
	}

	res := limiter.Check(ctx, key)
	assert.False(t, res.Allowed, "fourth request must exceed the ceiling")
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.ResetAt.After(time.Now()))
}

func TestCheckWindowReset(t *testing.T) {
	client := setupTestRedis(t)
	limiter := NewLimiter(client, 1, 100*time.Millisecond)
	ctx := context.Background()
	key := fmt.Sprintf("rate_limit:reset:%d", time.Now().UnixNano())

	assert.True(t, limiter.Check(ctx, key).Allowed)
	assert.False(t, limiter.Check(ctx, key).Allowed)

	time.Sleep(150 * time.Millisecond)

	assert.True(t, limiter.Check(ctx, key).Allowed, "counter must reset after the window elapses")
}

func TestCheckFailsOpenWhenStoreDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", DialTimeout: 100 * time.Millisecond})
	limiter := NewLimiter(client, 5, time.Minute)

	res := limiter.Check(context.Background(), "rate_limit:down")
	assert.True(t, res.Allowed, "a broken counter store must not block traffic")
}
