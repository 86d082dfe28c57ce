package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"faceflow/domain/models"
	"faceflow/domain/services"
	"faceflow/infrastructure/imaging"
	"faceflow/infrastructure/store"
	"faceflow/pkg/config"
	"faceflow/pkg/logger"
)

const (
	gateRecheckTimeout = 5 * time.Second
	analyzerWaitDelay  = 10 * time.Second
)

// Pool runs the per-photo pipeline on a fixed set of workers: normalize,
// detect, cluster, route, enqueue uploads.
type Pool struct {
	queue       chan Job
	store       *store.Store
	processor   *imaging.Processor
	factory     services.AnalyzerFactory
	cluster     services.ClusterService
	router      services.RoutingService
	coordinator *PhaseCoordinator
	cfg         *config.Config

	workerCount int
	busy        int32

	// Trips when the analyzer sidecar goes down so photos wait instead
	// of failing into Admin/Errors.
	circuitBreaker *CircuitBreaker

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

func NewPool(
	queue chan Job,
	st *store.Store,
	processor *imaging.Processor,
	factory services.AnalyzerFactory,
	cluster services.ClusterService,
	router services.RoutingService,
	coordinator *PhaseCoordinator,
	cfg *config.Config,
) *Pool {
	return &Pool{
		queue:          queue,
		store:          st,
		processor:      processor,
		factory:        factory,
		cluster:        cluster,
		router:         router,
		coordinator:    coordinator,
		cfg:            cfg,
		workerCount:    cfg.Processing.WorkerCount,
		circuitBreaker: NewCircuitBreaker(10, 60*time.Second),
	}
}

// Start starts the worker pool
func (p *Pool) Start() {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.run(i)
	}

	log.Printf("✓ Worker pool started (%d workers)", p.workerCount)
}

// Stop drains the pool gracefully: one poison pill per worker, then a
// hard cancel if workers are still busy after the deadline.
func (p *Pool) Stop(deadline time.Duration) {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.mu.Unlock()

	for i := 0; i < p.workerCount; i++ {
		select {
		case p.queue <- PoisonJob():
		case <-time.After(time.Second):
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		log.Println("Worker pool deadline reached, cancelling")
		p.cancel()
		<-done
	}
	p.cancel()
	log.Println("✓ Worker pool stopped")
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

// BusyWorkers returns how many workers are mid-photo.
func (p *Pool) BusyWorkers() int {
	return int(atomic.LoadInt32(&p.busy))
}

// QueueLen returns how many jobs are waiting.
func (p *Pool) QueueLen() int {
	return len(p.queue)
}

// run is one worker's loop.
func (p *Pool) run(id int) {
	defer p.wg.Done()

	analyzer, err := p.factory()
	if err != nil {
		logger.WorkerError("init", "Failed to build analyzer", err, map[string]interface{}{"worker": id})
		return
	}

	for {
		var job Job
		select {
		case <-p.ctx.Done():
			return
		case job = <-p.queue:
		}
		if job.poison {
			return
		}

		// Wait for the processing phase; re-check shutdown between tries.
		for !p.coordinator.CanProcess(gateRecheckTimeout) {
			if p.ctx.Err() != nil {
				return
			}
		}

		// A down sidecar parks the photo instead of failing it.
		for p.circuitBreaker.IsOpen() || !analyzer.IsAvailable(p.ctx) {
			if p.ctx.Err() != nil {
				return
			}
			p.circuitBreaker.RecordFailure()
			log.Printf("Face analyzer unavailable, worker %d waiting", id)
			select {
			case <-time.After(analyzerWaitDelay):
			case <-p.ctx.Done():
				return
			}
		}
		p.circuitBreaker.RecordSuccess()

		atomic.AddInt32(&p.busy, 1)
		counted := p.processJob(analyzer, job)
		atomic.AddInt32(&p.busy, -1)

		if counted {
			p.coordinator.OnProcessed()
		}
	}
}

// processJob runs the pipeline for one photo. Returns false only when the
// photo was already claimed elsewhere; every real attempt, successful or
// not, counts toward the batch.
func (p *Pool) processJob(analyzer services.FaceAnalyzer, job Job) bool {
	ctx := p.ctx
	start := time.Now()

	if err := p.store.SetProcessing(ctx, job.PhotoID); err != nil {
		logger.Worker("skip", "Photo no longer pending, skipping", map[string]interface{}{
			"photo_id": job.PhotoID,
		})
		return false
	}

	if err := p.pipeline(ctx, analyzer, job); err != nil {
		logger.WorkerError("pipeline", "Photo failed", err, map[string]interface{}{
			"photo_id": job.PhotoID,
			"path":     job.OriginalPath,
		})
		if dbErr := p.store.SetError(ctx, job.PhotoID, err.Error()); dbErr != nil {
			logger.StoreError("set_error", "Failed to record photo error", dbErr, map[string]interface{}{
				"photo_id": job.PhotoID,
			})
		}
		if _, routeErr := p.router.RouteToErrors(ctx, job.OriginalPath); routeErr != nil {
			logger.RouterError("errors", "Failed to move original to Errors", routeErr, map[string]interface{}{
				"path": job.OriginalPath,
			})
		}
		return true
	}

	logger.Worker("done", "Photo processed", map[string]interface{}{
		"photo_id": job.PhotoID,
		"duration": time.Since(start).String(),
	})
	return true
}

func (p *Pool) pipeline(ctx context.Context, analyzer services.FaceAnalyzer, job Job) error {
	baseName := fmt.Sprintf("%06d", job.PhotoID)
	result, err := p.processor.Process(job.OriginalPath, p.cfg.ProcessedDir(), baseName)
	if err != nil {
		return fmt.Errorf("normalize failed: %w", err)
	}

	detectPath, scale, cleanup, err := p.processor.PrepareForDetection(result.ProcessedPath)
	if err != nil {
		return fmt.Errorf("detection prep failed: %w", err)
	}
	faces, err := analyzer.DetectAndEmbed(ctx, detectPath)
	cleanup()
	if err != nil {
		return fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) == 0 {
		if err := p.store.SetNoFaces(ctx, job.PhotoID, result.ProcessedPath, result.ThumbnailPath); err != nil {
			return err
		}
		return p.routeAndEnqueue(ctx, job.PhotoID)
	}

	for _, f := range faces {
		face := &models.Face{
			PhotoID:    job.PhotoID,
			Embedding:  store.MarshalEmbedding(f.Embedding),
			BboxX:      int(float64(f.BboxX) / scale),
			BboxY:      int(float64(f.BboxY) / scale),
			BboxWidth:  int(float64(f.BboxWidth) / scale),
			BboxHeight: int(float64(f.BboxHeight) / scale),
			Confidence: f.Confidence,
		}
		if err := p.store.CreateFace(ctx, face); err != nil {
			return fmt.Errorf("failed to save face: %w", err)
		}
		if _, err := p.cluster.AssignPerson(ctx, face.ID, f.Embedding); err != nil {
			return fmt.Errorf("clustering failed: %w", err)
		}
	}

	if err := p.store.SetCompleted(ctx, job.PhotoID, result.ProcessedPath, result.ThumbnailPath, len(faces)); err != nil {
		return err
	}
	return p.routeAndEnqueue(ctx, job.PhotoID)
}

// routeAndEnqueue fans the photo out locally and queues each routed file
// for upload.
func (p *Pool) routeAndEnqueue(ctx context.Context, photoID int64) error {
	photo, err := p.store.GetPhotoByID(ctx, photoID)
	if err != nil {
		return err
	}

	routed, err := p.router.RoutePhoto(ctx, photo)
	if err != nil {
		return fmt.Errorf("routing failed: %w", err)
	}

	if !p.cfg.Upload.QueueEnabled {
		return nil
	}
	for _, r := range routed {
		if err := p.store.EnqueueUpload(ctx, photoID, r.LocalPath, r.RemotePath); err != nil {
			logger.UploadError("enqueue", "Failed to enqueue upload", err, map[string]interface{}{
				"photo_id": photoID,
				"remote":   r.RemotePath,
			})
		}
	}
	return nil
}

// GetStats returns pool statistics
func (p *Pool) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"isRunning":       p.IsRunning(),
		"workerCount":     p.workerCount,
		"busyWorkers":     p.BusyWorkers(),
		"queueLength":     p.QueueLen(),
		"circuitBreaker":  !p.circuitBreaker.IsOpen(),
		"circuitFailures": p.circuitBreaker.GetFailures(),
	}
}
