package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vidvault/vidvault/internal/pkg/lock"
	"github.com/vidvault/vidvault/internal/pkg/usercontext"
)

// FingerprintFunc derives the operation fingerprint from the request. It may
// parse the body; fiber keeps the body available for the handler afterwards.
type FingerprintFunc func(c *fiber.Ctx) (string, error)

// PreventDuplicate rejects a request while an identical operation by the
// same user is in flight. The lock is held for the duration of the handler
// and released on every exit path. Lock store failures fail closed: a
// request that cannot be verified as unique is rejected.
func PreventDuplicate(store *lock.Store, kind string, fingerprint FingerprintFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := usercontext.GetUserID(c)
		fp, err := fingerprint(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "VALIDATION_ERROR",
				"message": "Invalid request body",
			})
		}

		key := lock.Key(kind, userID, fp)
		acquired, err := store.Acquire(c.UserContext(), key)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "DUPLICATE_IN_FLIGHT",
				"message": "Unable to verify request uniqueness, please retry",
				"retry":   true,
			})
		}
		if !acquired {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "DUPLICATE_IN_FLIGHT",
				"message": "An identical operation is already in progress",
				"retry":   true,
			})
		}
		defer store.Release(c.UserContext(), key)

		return c.Next()
	}
}
