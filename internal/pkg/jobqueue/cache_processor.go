package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/vidvault/vidvault/internal/pkg/cache"
)

// processCacheInvalidateJob drops stale cache entries after entitlement writes
func (q *Queue) processCacheInvalidateJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := CacheInvalidateJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid cache invalidate payload: %w", err)
	}

	for _, key := range payload.Keys {
		if derr := cache.Delete(key); derr != nil {
			log.Errorf("[JobQueue] Failed to invalidate cache key %s: %v", key, derr)
			err = derr
		}
	}
	return err
}
