package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"faceflow/interfaces/api/routes"
	"faceflow/pkg/di"
	"faceflow/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := di.NewContainer()
	if err := container.Initialize(); err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer container.Cleanup()

	cfg := container.Config
	log.Printf("%s starting | event root: %s | workers: %d | dry run: %v",
		cfg.App.Name, cfg.App.EventRoot, cfg.Processing.WorkerCount, cfg.App.DryRun)

	if err := container.Supervisor.Start(ctx); err != nil {
		log.Fatalf("Failed to start supervisor: %v", err)
	}

	// The admin API is optional; without a port the engine runs headless.
	var app *fiber.App
	if cfg.Admin.Port != "" {
		app = fiber.New(fiber.Config{
			AppName:               cfg.App.Name,
			DisableStartupMessage: true,
		})
		app.Use(recover.New())
		routes.SetupRoutes(app, container.Handlers())

		go func() {
			logger.Startup("api_listening", "Admin API listening", map[string]interface{}{
				"port": cfg.Admin.Port,
			})
			if err := app.Listen(":" + cfg.Admin.Port); err != nil {
				logger.StartupError("api_failed", "Admin API stopped", err, nil)
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	if app != nil {
		if err := app.Shutdown(); err != nil {
			logger.StartupWarn("api_shutdown", "Admin API shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
