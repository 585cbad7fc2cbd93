package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vidvault/vidvault/internal/pkg/jobqueue"
	"github.com/vidvault/vidvault/internal/pkg/statistics"
)

// HandleAdminStatistics processes GET /admin/statistics
func HandleAdminStatistics(c *fiber.Ctx) error {
	data := statistics.GetStatisticsData()
	return c.JSON(fiber.Map{
		"today_purchases":     data.TodayPurchases,
		"today_revenue_cents": data.TodayRevenueCents,
		"total_purchases":     data.TotalPurchases,
		"total_revenue_cents": data.TotalRevenueCents,
		"total_users":         data.TotalUsers,
		"total_videos":        data.TotalVideos,
	})
}

// HandleAdminQueueStats processes GET /admin/queue
func HandleAdminQueueStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	queue := jobqueue.GetManager().GetQueue()

	stats, err := queue.GetJobStats(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "Failed to load queue stats",
		})
	}
	pending, _ := queue.GetQueueSize(ctx)
	processing, _ := queue.GetProcessingSize(ctx)

	return c.JSON(fiber.Map{
		"stats":      stats,
		"pending":    pending,
		"processing": processing,
		"running":    jobqueue.GetManager().IsRunning(),
	})
}
