package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vidvault/vidvault/app/repository"
	"github.com/vidvault/vidvault/internal/pkg/purchase"
	"github.com/vidvault/vidvault/internal/pkg/usercontext"
)

var validate = validator.New()

// PurchaseController exposes the purchase engine over HTTP
type PurchaseController struct {
	engine *purchase.Service
}

var purchaseController *PurchaseController

// InitializePurchaseController wires the controller with the engine instance
func InitializePurchaseController(engine *purchase.Service) {
	purchaseController = &PurchaseController{engine: engine}
}

// PurchaseRequest is the body of a single purchase
type PurchaseRequest struct {
	VideoID uint                   `json:"video_id" validate:"required"`
	Payment purchase.PaymentIntent `json:"payment" validate:"required"`
}

// BulkPurchaseRequest is the body of a bulk purchase
type BulkPurchaseRequest struct {
	VideoIDs []uint                 `json:"video_ids" validate:"required,min=1"`
	Payment  purchase.PaymentIntent `json:"payment" validate:"required"`
}

// RefundRequest is the body of a refund
type RefundRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// HandlePurchase processes POST /purchases
func HandlePurchase(c *fiber.Ctx) error {
	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	userID := usercontext.GetUserID(c)
	outcome, err := purchaseController.engine.Purchase(c.UserContext(), userID, req.VideoID, req.Payment)
	if err != nil {
		return engineError(c, err)
	}

	status := fiber.StatusCreated
	if outcome.AlreadyOwned {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"purchase":      outcome.Purchase,
		"already_owned": outcome.AlreadyOwned,
	})
}

// HandleBulkPurchase processes POST /purchases/bulk
func HandleBulkPurchase(c *fiber.Ctx) error {
	var req BulkPurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	userID := usercontext.GetUserID(c)
	result, err := purchaseController.engine.BulkPurchase(c.UserContext(), userID, req.VideoIDs, req.Payment)
	if err != nil {
		return engineError(c, err)
	}

	status := fiber.StatusCreated
	if result.Replayed || result.PurchasedCount == 0 {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(result)
}

// HandleRefund processes POST /purchases/:id/refund
func HandleRefund(c *fiber.Ctx) error {
	purchaseID, err := c.ParamsInt("id")
	if err != nil || purchaseID <= 0 {
		return badRequest(c, "Invalid purchase id")
	}

	var req RefundRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	userID := usercontext.GetUserID(c)
	refunded, err := purchaseController.engine.Refund(c.UserContext(), userID, uint(purchaseID), req.Reason)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(fiber.Map{"purchase": refunded})
}

// HandleListPurchases processes GET /purchases
func HandleListPurchases(c *fiber.Ctx) error {
	opts := repository.PurchaseListOptions{
		Status: c.Query("status"),
		Offset: c.QueryInt("offset", 0),
		Limit:  c.QueryInt("limit", 20),
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			opts.FromDate = &t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			end := t.Add(24 * time.Hour)
			opts.ToDate = &end
		}
	}

	userID := usercontext.GetUserID(c)
	purchases, total, err := purchaseController.engine.ListPurchases(userID, opts)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(fiber.Map{
		"purchases": purchases,
		"total":     total,
		"offset":    opts.Offset,
		"limit":     opts.Limit,
	})
}

// HandlePurchaseStats processes GET /purchases/stats
func HandlePurchaseStats(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	stats, err := purchaseController.engine.Stats(userID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(fiber.Map{
		"total_spent_cents":   stats.TotalSpentCents,
		"total_purchases":     stats.TotalPurchases,
		"completed_purchases": stats.CompletedPurchases,
		"refunded_purchases":  stats.RefundedPurchases,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   purchase.CodeValidation,
		"message": message,
	})
}

// engineError maps engine error codes to HTTP statuses
func engineError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch purchase.CodeOf(err) {
	case purchase.CodeValidation:
		status = fiber.StatusBadRequest
	case purchase.CodeNotFound:
		status = fiber.StatusNotFound
	case purchase.CodePaymentDeclined:
		status = fiber.StatusPaymentRequired
	case purchase.CodeStillProcessing, purchase.CodeDuplicateInFlight:
		status = fiber.StatusConflict
	case purchase.CodeRateLimited:
		status = fiber.StatusTooManyRequests
	}

	var engineErr *purchase.Error
	message := "Internal server error"
	code := "INTERNAL_ERROR"
	if errors.As(err, &engineErr) {
		message = engineErr.Message
		code = engineErr.Code
	}

	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
		"retry":   purchase.IsRetryable(err),
	})
}
