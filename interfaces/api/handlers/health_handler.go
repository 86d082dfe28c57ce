package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"faceflow/infrastructure/faceapi"
	"faceflow/infrastructure/store"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store      *store.Store
	faceClient *faceapi.FaceClient
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(st *store.Store, faceClient *faceapi.FaceClient) *HealthHandler {
	return &HealthHandler{
		store:      st,
		faceClient: faceClient,
	}
}

// ComponentHealth represents health status of a component
type ComponentHealth struct {
	Status  string `json:"status"` // "ok", "error", "unavailable"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// Health reports database and analyzer reachability.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	response := HealthResponse{
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}

	dbHealth := h.checkDatabase(ctx)
	response.Components["database"] = dbHealth

	analyzerHealth := h.checkAnalyzer(ctx)
	response.Components["face_analyzer"] = analyzerHealth

	switch {
	case dbHealth.Status != "ok":
		response.Status = "unhealthy"
	case analyzerHealth.Status != "ok":
		response.Status = "degraded"
	default:
		response.Status = "healthy"
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}
	return c.Status(statusCode).JSON(response)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	sqlDB, err := h.store.DB().DB()
	if err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Failed to get database connection: " + err.Error(),
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Database ping failed: " + err.Error(),
		}
	}
	return ComponentHealth{
		Status:  "ok",
		Message: "Connected",
		Latency: time.Since(start).String(),
	}
}

func (h *HealthHandler) checkAnalyzer(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.faceClient == nil {
		return ComponentHealth{
			Status:  "unavailable",
			Message: "Face analyzer not configured",
		}
	}

	health, err := h.faceClient.Health(ctx)
	if err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Analyzer health check failed: " + err.Error(),
		}
	}
	return ComponentHealth{
		Status:  "ok",
		Message: "Model: " + health.Model + ", Version: " + health.Version,
		Latency: time.Since(start).String(),
	}
}
