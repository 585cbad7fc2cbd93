package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/vidvault/vidvault/app/repository"
	metrics "github.com/vidvault/vidvault/internal/pkg/metrics/counter"
	"github.com/vidvault/vidvault/internal/pkg/usercontext"
)

// ProgressRequest is the body of a playback progress report
type ProgressRequest struct {
	PositionSec     int64 `json:"position_sec" validate:"gte=0"`
	WatchedDeltaSec int64 `json:"watched_delta_sec" validate:"gte=0"`
}

// HandleListVideos processes GET /videos
func HandleListVideos(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)
	if limit > 100 {
		limit = 100
	}

	repo := repository.GetGlobalRepositories().Video
	videos, err := repo.List(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "Failed to load videos",
		})
	}
	total, err := repo.Count()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "Failed to load videos",
		})
	}

	return c.JSON(fiber.Map{
		"videos": videos,
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

// HandleGetVideo processes GET /videos/:id
func HandleGetVideo(c *fiber.Ctx) error {
	videoID, err := c.ParamsInt("id")
	if err != nil || videoID <= 0 {
		return badRequest(c, "Invalid video id")
	}

	video, err := repository.GetGlobalRepositories().Video.GetActiveByID(uint(videoID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   "NOT_FOUND",
				"message": "Video not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "Failed to load video",
		})
	}

	return c.JSON(fiber.Map{"video": video})
}

// HandleCheckAccess processes GET /videos/:id/access
func HandleCheckAccess(c *fiber.Ctx) error {
	videoID, err := c.ParamsInt("id")
	if err != nil || videoID <= 0 {
		return badRequest(c, "Invalid video id")
	}

	userID := usercontext.GetUserID(c)
	access, err := purchaseController.engine.CheckAccess(userID, uint(videoID))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(access)
}

// HandleRecordProgress processes POST /videos/:id/progress
func HandleRecordProgress(c *fiber.Ctx) error {
	videoID, err := c.ParamsInt("id")
	if err != nil || videoID <= 0 {
		return badRequest(c, "Invalid video id")
	}

	var req ProgressRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	userID := usercontext.GetUserID(c)
	if err := purchaseController.engine.RecordUsage(userID, uint(videoID), req.PositionSec, req.WatchedDeltaSec); err != nil {
		return engineError(c, err)
	}

	// View counters are advisory; a broken counter store never fails the report.
	if err := metrics.AddVideoView(uint(videoID)); err != nil {
		log.Errorf("[Video] View counter for %d failed: %v", videoID, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
