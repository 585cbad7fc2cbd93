package middleware

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/vidvault/vidvault/app/models"
	"github.com/vidvault/vidvault/app/repository"
	"github.com/vidvault/vidvault/internal/pkg/usercontext"
)

// RequireActor authenticates requests via the X-User-ID header set by the
// upstream gateway after session validation. The user must exist and be
// active; everything else is a 401/403 JSON response.
func RequireActor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get("X-User-ID"))
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Missing user identity",
			})
		}

		userID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Invalid user identity",
			})
		}

		user, err := repository.GetGlobalRepositories().User.GetByID(uint(userID))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error":   "unauthorized",
					"message": "Unknown user",
				})
			}
			log.Printf("actor lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "internal_server_error",
				"message": "User verification failed",
			})
		}

		if user.Status != models.STATUS_ACTIVE {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "User inactive",
			})
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			IsLoggedIn: true,
			IsAdmin:    user.IsAdmin(),
		})

		return c.Next()
	}
}

// RequireAdmin ensures the authenticated actor is an admin
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "Admin access required",
		})
	}
	return c.Next()
}
