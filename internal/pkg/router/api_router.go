package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vidvault/vidvault/app/controllers"
	"github.com/vidvault/vidvault/internal/pkg/constants"
	"github.com/vidvault/vidvault/internal/pkg/lock"
	"github.com/vidvault/vidvault/internal/pkg/middleware"
	"github.com/vidvault/vidvault/internal/pkg/ratelimit"
)

// ApiRouter wires the purchase API route tree. Locks and limiters are
// injected so tests can install the routes against fakes.
type ApiRouter struct {
	locks           *lock.Store
	purchaseLimiter *ratelimit.Limiter
	bulkLimiter     *ratelimit.Limiter
}

// NewApiRouter creates the API router with its guarding stores
func NewApiRouter(locks *lock.Store, purchaseLimiter, bulkLimiter *ratelimit.Limiter) *ApiRouter {
	return &ApiRouter{
		locks:           locks,
		purchaseLimiter: purchaseLimiter,
		bulkLimiter:     bulkLimiter,
	}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "VidVault purchase API",
		})
	})

	v1 := api.Group(constants.APIv1Route, middleware.RequireActor())

	videos := v1.Group(constants.VideosRoute)
	videos.Get("/", controllers.HandleListVideos)
	videos.Get("/:id", controllers.HandleGetVideo)
	videos.Get("/:id/access", controllers.HandleCheckAccess)
	videos.Post("/:id/progress", controllers.HandleRecordProgress)

	purchases := v1.Group(constants.PurchasesRoute)
	purchases.Get("/", controllers.HandleListPurchases)
	purchases.Get("/stats", controllers.HandlePurchaseStats)
	purchases.Post("/",
		middleware.RateLimit(h.purchaseLimiter, "purchase"),
		middleware.PreventDuplicate(h.locks, lock.KindPurchase, singlePurchaseFingerprint),
		controllers.HandlePurchase,
	)
	purchases.Post("/bulk",
		middleware.RateLimit(h.bulkLimiter, "bulk"),
		middleware.PreventDuplicate(h.locks, lock.KindBulkPurchase, bulkPurchaseFingerprint),
		controllers.HandleBulkPurchase,
	)
	purchases.Post("/:id/refund",
		middleware.PreventDuplicate(h.locks, lock.KindRefund, refundFingerprint),
		controllers.HandleRefund,
	)

	admin := v1.Group(constants.AdminRoute, middleware.RequireAdmin)
	admin.Get("/statistics", controllers.HandleAdminStatistics)
	admin.Get("/queue", controllers.HandleAdminQueueStats)
}

// singlePurchaseFingerprint locks one (user, video) purchase attempt
func singlePurchaseFingerprint(c *fiber.Ctx) (string, error) {
	var req controllers.PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return "", err
	}
	return lock.SingleFingerprint(req.VideoID), nil
}

// bulkPurchaseFingerprint locks the canonicalized video id set
func bulkPurchaseFingerprint(c *fiber.Ctx) (string, error) {
	var req controllers.BulkPurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return "", err
	}
	return lock.BulkFingerprint(req.VideoIDs), nil
}

// refundFingerprint locks one purchase row
func refundFingerprint(c *fiber.Ctx) (string, error) {
	id, err := c.ParamsInt("id")
	if err != nil {
		return "", err
	}
	return lock.SingleFingerprint(uint(id)), nil
}
