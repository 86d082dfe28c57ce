package handlers

import (
	"faceflow/domain/services"
	"faceflow/infrastructure/faceapi"
	"faceflow/infrastructure/store"
	"faceflow/infrastructure/worker"
	"faceflow/pkg/logger"
)

// Handlers bundles the admin API's handler set.
type Handlers struct {
	Health *HealthHandler
	Admin  *AdminHandler
	Logs   *LogHandler
}

func NewHandlers(
	st *store.Store,
	faceClient *faceapi.FaceClient,
	cluster services.ClusterService,
	routing services.RoutingService,
	enrollment services.EnrollmentService,
	coordinator *worker.PhaseCoordinator,
	pool *worker.Pool,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(st, faceClient),
		Admin:  NewAdminHandler(st, cluster, routing, enrollment, coordinator, pool),
		Logs:   NewLogHandler(log),
	}
}
