package jobqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidvault/vidvault/internal/pkg/cache"
)

// skipWithoutRedis skips tests that need a running Redis instance
func skipWithoutRedis(t *testing.T) {
	t.Helper()
	if err := cache.GetClient().Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
}

func TestEnqueueAndGetJob(t *testing.T) {
	skipWithoutRedis(t)
	q := NewQueue(1)
	ctx := context.Background()

	payload := CacheInvalidateJobPayload{Keys: []string{"statistics:test"}}
	job, err := q.EnqueueJob(JobTypeCacheInvalidate, payload.ToMap())
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)

	t.Cleanup(func() {
		cache.GetClient().Del(ctx, JobKeyPrefix+job.ID)
		cache.GetClient().LRem(ctx, JobQueueKey, 0, job.ID)
	})

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, JobTypeCacheInvalidate, stored.Type)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, int64(1))
}

func TestDequeueMovesJobToProcessing(t *testing.T) {
	skipWithoutRedis(t)
	q := NewQueue(1)
	ctx := context.Background()

	payload := CacheInvalidateJobPayload{Keys: []string{"statistics:test"}}
	job, err := q.EnqueueJob(JobTypeCacheInvalidate, payload.ToMap())
	require.NoError(t, err)

	t.Cleanup(func() {
		cache.GetClient().Del(ctx, JobKeyPrefix+job.ID)
		cache.GetClient().LRem(ctx, JobQueueKey, 0, job.ID)
		cache.GetClient().LRem(ctx, JobProcessingKey, 0, job.ID)
	})

	dequeued, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, dequeued.ID)

	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, processing, int64(1))
}
