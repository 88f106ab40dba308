package routes

import (
	"github.com/gofiber/fiber/v2"

	"lob-engine/src/config"
	"lob-engine/src/handlers"
	"lob-engine/src/middleware"
)

func SetupRoutes(app *fiber.App, cfg *config.Config, orderHandler *handlers.OrderHandler) *middleware.ServiceAvailability {
	serviceAvailability := middleware.NewServiceAvailability(cfg.Service)
	app.Use(serviceAvailability.Middleware())
	app.Use(middleware.RequestLogger(cfg.Logging))

	api := app.Group("/api/v1")

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
		api.Use(rateLimiter.Middleware())
	}

	api.Post("/markets", orderHandler.CreateMarket)
	api.Get("/markets", orderHandler.ListMarkets)
	api.Post("/orders", orderHandler.SubmitOrder)
	api.Get("/orderbook/:market", orderHandler.GetOrderBook)
	api.Get("/trades/:market", orderHandler.GetTrades)

	app.Get("/health", orderHandler.HealthCheck)
	app.Get("/metrics", orderHandler.Metrics)

	return serviceAvailability
}

// Endpoints lists the registered API for the startup log.
func Endpoints() []string {
	return []string{
		"POST   /api/v1/markets",
		"GET    /api/v1/markets",
		"POST   /api/v1/orders",
		"GET    /api/v1/orderbook/:market",
		"GET    /api/v1/trades/:market",
		"GET    /health",
		"GET    /metrics",
	}
}
