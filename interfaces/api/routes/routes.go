package routes

import (
	"github.com/gofiber/fiber/v2"

	"faceflow/interfaces/api/handlers"
	"faceflow/interfaces/api/middleware"
)

func SetupRoutes(app *fiber.App, h *handlers.Handlers) {
	app.Use(middleware.RequestID())

	app.Get("/health", h.Health.Health)

	api := app.Group("/api/v1")
	api.Get("/stats", h.Admin.GetStats)
	api.Get("/persons", h.Admin.GetPersons)
	api.Get("/enrollments", h.Admin.GetEnrollments)
	api.Get("/enrollments/status", h.Admin.GetEnrollmentStatus)
	api.Get("/uploads/stats", h.Admin.GetUploadStats)
	api.Get("/photos/:id/thumbnail", h.Admin.GetThumbnail)
	api.Get("/logs", h.Logs.GetLogs)

	// The one mutating operation: guest self-enrollment.
	api.Post("/enroll", h.Admin.Enroll)
}
