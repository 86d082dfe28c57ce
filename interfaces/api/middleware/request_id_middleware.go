package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"faceflow/pkg/logger"
)

// RequestID tags each request with a UUID and logs its outcome.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)

		start := time.Now()
		err := c.Next()

		logger.API("request", c.Method()+" "+c.Path(), map[string]interface{}{
			"request_id": requestID,
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).String(),
		})
		return err
	}
}
