package handlers

import (
	"github.com/gofiber/fiber/v2"

	"faceflow/pkg/logger"
)

// LogHandler serves structured log entries from the engine's log files.
type LogHandler struct {
	log *logger.Logger
}

// NewLogHandler creates a new log handler
func NewLogHandler(log *logger.Logger) *LogHandler {
	return &LogHandler{log: log}
}

// GetLogs returns today's log entries, newest first. Supports filtering
// by category, level, and a search string.
func (h *LogHandler) GetLogs(c *fiber.Ctx) error {
	opts := logger.ReadLogsOptions{
		Lines:    c.QueryInt("lines", 100),
		Level:    logger.Level(c.Query("level")),
		Category: logger.Category(c.Query("category")),
		Search:   c.Query("search"),
	}

	entries, err := h.log.ReadLogs(opts)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}
