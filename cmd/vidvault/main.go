package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/vidvault/vidvault/app/controllers"
	"github.com/vidvault/vidvault/app/repository"
	"github.com/vidvault/vidvault/internal/pkg/cache"
	"github.com/vidvault/vidvault/internal/pkg/database"
	"github.com/vidvault/vidvault/internal/pkg/env"
	"github.com/vidvault/vidvault/internal/pkg/idempotency"
	"github.com/vidvault/vidvault/internal/pkg/jobqueue"
	"github.com/vidvault/vidvault/internal/pkg/lock"
	"github.com/vidvault/vidvault/internal/pkg/payment"
	"github.com/vidvault/vidvault/internal/pkg/purchase"
	"github.com/vidvault/vidvault/internal/pkg/ratelimit"
	"github.com/vidvault/vidvault/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// Start background workers after the wiring is in place
	manager := jobqueue.GetManager()
	manager.Start()

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Repositories and engine wiring
	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	gateway := payment.NewStripeProvider(env.GetEnv("STRIPE_SECRET_KEY", ""))
	ledger := idempotency.NewLedger(repos.Idempotency)

	manager := jobqueue.GetManager()
	manager.SetLedger(ledger)
	effects := jobqueue.NewDispatcher(manager.GetQueue())

	engine := purchase.NewService(repos, gateway, ledger, effects)
	controllers.InitializePurchaseController(engine)

	// Request guards
	locks := lock.NewStore(cache.GetClient(), lock.DefaultTTL)
	purchaseLimiter := ratelimit.NewLimiter(cache.GetClient(), envInt("RATE_LIMIT_PURCHASE", 10), time.Minute)
	bulkLimiter := ratelimit.NewLimiter(cache.GetClient(), envInt("RATE_LIMIT_BULK", 3), time.Minute)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:      "VidVault",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app, router.NewApiRouter(locks, purchaseLimiter, bulkLimiter))

	return app
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(env.GetEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return def
}
