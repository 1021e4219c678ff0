package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/database"
	"github.com/verifid/webhook-relay/internal/delivery"
	"github.com/verifid/webhook-relay/internal/dispatcher"
	"github.com/verifid/webhook-relay/internal/logger"
	"github.com/verifid/webhook-relay/internal/rabbitmq"
	"github.com/verifid/webhook-relay/internal/routes"
	"github.com/verifid/webhook-relay/internal/scheduler"
	"github.com/verifid/webhook-relay/internal/service"
	"github.com/verifid/webhook-relay/internal/store"
	"github.com/verifid/webhook-relay/internal/worker"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// PostgreSQL
	db, err := database.Connect(&cfg.Database, logger.Logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger.Logger); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, logger.Logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// RabbitMQ
	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, logger.Logger)
	if err := rmq.Connect(); err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	// Stores and delivery path
	events := store.NewEventStore(db)
	deliveries := store.NewDeliveryStore(db)
	deliverer := delivery.NewDeliverer(deliveries, &cfg.Delivery, logger.Logger)
	sched := scheduler.NewScheduler(deliveries, deliverer, &cfg.Delivery, logger.Logger)

	// Fan-out dispatcher
	disp := dispatcher.NewDispatcher(&cfg.Delivery, rmq, events, deliveries, logger.Logger)
	if err := disp.Start(); err != nil {
		logger.Fatal("Failed to start dispatcher", zap.Error(err))
	}

	// Delivery worker
	wrk := worker.NewWorker(&cfg.Delivery, rmq, deliveries, deliverer, logger.Logger)
	if err := wrk.Start(); err != nil {
		logger.Fatal("Failed to start worker", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Verification Webhook Relay",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization," + "X-Vai-Signature",
	}))

	svc := service.NewService(db, logger.Logger, rmq, cfg, events, deliveries, sched)
	routes.SetupRoutes(app, svc)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	if err := wrk.Stop(); err != nil {
		logger.Error("Error stopping worker", zap.Error(err))
	}
	if err := disp.Stop(); err != nil {
		logger.Error("Error stopping dispatcher", zap.Error(err))
	}

	logger.Info("Server stopped")
}
