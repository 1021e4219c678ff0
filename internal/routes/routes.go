package routes

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verifid/webhook-relay/internal/handlers"
	"github.com/verifid/webhook-relay/internal/service"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, svc *service.Service) {
	healthHandler := handlers.NewHealthHandler(svc.DB, svc.RMQ)
	webhookHandler := handlers.NewWebhookHandler(
		svc.Events,
		svc.RMQ,
		&svc.Config.Webhook,
		&svc.Config.Delivery,
		svc.Logger,
	)
	retryHandler := handlers.NewRetryHandler(svc.Scheduler, svc.Logger)
	deliveriesHandler := handlers.NewDeliveriesHandler(svc.DB, svc.Logger)

	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	{
		api.Post("/webhooks/verification", webhookHandler.HandleVerificationWebhook)
		api.Post("/retries/run", retryHandler.RunRetryPass)
		api.Get("/deliveries", deliveriesHandler.GetDeliveries)
	}
}
