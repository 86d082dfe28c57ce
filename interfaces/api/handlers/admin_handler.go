package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"faceflow/domain/services"
	"faceflow/infrastructure/store"
	"faceflow/infrastructure/worker"
)

// AdminHandler serves the engine's status surface plus the one mutating
// operation, guest enrollment.
type AdminHandler struct {
	store       *store.Store
	cluster     services.ClusterService
	routing     services.RoutingService
	enrollment  services.EnrollmentService
	coordinator *worker.PhaseCoordinator
	pool        *worker.Pool
}

func NewAdminHandler(
	st *store.Store,
	cluster services.ClusterService,
	routing services.RoutingService,
	enrollment services.EnrollmentService,
	coordinator *worker.PhaseCoordinator,
	pool *worker.Pool,
) *AdminHandler {
	return &AdminHandler{
		store:       st,
		cluster:     cluster,
		routing:     routing,
		enrollment:  enrollment,
		coordinator: coordinator,
		pool:        pool,
	}
}

// GetStats returns the engine-wide progress snapshot.
func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.store.GetStats(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	clusterStats, err := h.cluster.Stats(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"photos":   stats,
		"clusters": clusterStats,
		"phase":    h.coordinator.Status(),
		"workers":  h.pool.GetStats(),
	})
}

// GetPersons returns every person with routing counts and enrollment state.
func (h *AdminHandler) GetPersons(c *fiber.Ctx) error {
	summary, err := h.routing.Summary(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"persons": summary})
}

// GetEnrollments lists enrollments with their persons.
func (h *AdminHandler) GetEnrollments(c *fiber.Ctx) error {
	enrollments, err := h.store.AllEnrollments(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"enrollments": enrollments})
}

// GetUploadStats returns upload queue counts.
func (h *AdminHandler) GetUploadStats(c *fiber.Ctx) error {
	stats, err := h.store.GetUploadStats(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(stats)
}

// GetThumbnail streams a photo's thumbnail file.
func (h *AdminHandler) GetThumbnail(c *fiber.Ctx) error {
	photoID, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid photo id")
	}

	photo, err := h.store.GetPhotoByID(c.UserContext(), int64(photoID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "photo not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if photo.ThumbnailPath == "" {
		return fiber.NewError(fiber.StatusNotFound, "photo has no thumbnail")
	}
	return c.SendFile(photo.ThumbnailPath)
}

// Enroll runs the guest enrollment flow.
func (h *AdminHandler) Enroll(c *fiber.Ctx) error {
	var req services.EnrollmentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.enrollment.Enroll(c.UserContext(), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoFaceInSelfie):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "no_face", "message": err.Error(),
			})
		case errors.Is(err, services.ErrNoMatch):
			resp := fiber.Map{"error": "no_match", "message": err.Error()}
			var noMatch *services.NoMatchError
			if errors.As(err, &noMatch) {
				resp["match_confidence"] = noMatch.BestConfidence
			}
			return c.Status(fiber.StatusNotFound).JSON(resp)
		case errors.Is(err, services.ErrAlreadyEnrolled):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "already_enrolled", "message": err.Error(),
			})
		default:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(result)
}

// GetEnrollmentStatus returns enrollment progress.
func (h *AdminHandler) GetEnrollmentStatus(c *fiber.Ctx) error {
	status, err := h.enrollment.Status(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(status)
}
