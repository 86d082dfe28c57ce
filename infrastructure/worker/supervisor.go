package worker

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"faceflow/infrastructure/store"
	"faceflow/pkg/config"
	"faceflow/pkg/logger"
	"faceflow/pkg/scheduler"
)

const (
	flushCheckInterval  = 3 * time.Second
	snapshotInterval    = 2 * time.Minute
	stuckSweepInterval  = 10 * time.Minute
	stuckProcessingAge  = 10 * time.Minute
	shutdownGracePeriod = 30 * time.Second
)

// Supervisor owns the engine's lifecycle: crash recovery on start, the
// watcher, the pool, the drainer, the periodic sweeps, and graceful
// shutdown.
type Supervisor struct {
	store       *store.Store
	watcher     *Watcher
	pool        *Pool
	drainer     *Drainer
	coordinator *PhaseCoordinator
	sched       scheduler.EventScheduler
	queue       chan Job
	cfg         *config.Config

	stopFlush chan struct{}
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

func NewSupervisor(
	st *store.Store,
	watcher *Watcher,
	pool *Pool,
	drainer *Drainer,
	coordinator *PhaseCoordinator,
	sched scheduler.EventScheduler,
	queue chan Job,
	cfg *config.Config,
) *Supervisor {
	return &Supervisor{
		store:       st,
		watcher:     watcher,
		pool:        pool,
		drainer:     drainer,
		coordinator: coordinator,
		sched:       sched,
		queue:       queue,
		cfg:         cfg,
		stopFlush:   make(chan struct{}),
	}
}

// Start repairs interrupted state, re-queues pending work, and brings up
// every component.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	report, err := s.store.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if report.PhotosReset > 0 || report.UploadsReset > 0 {
		log.Printf("Recovery: %d photos reset, %d orphaned faces removed, %d uploads reset",
			report.PhotosReset, report.OrphanedFaces, report.UploadsReset)
	}

	requeued := s.requeuePending(ctx)
	if requeued > 0 {
		log.Printf("Re-queued %d pending photos", requeued)
	}

	s.pool.Start()
	s.drainer.Start()
	s.watcher.Start()

	s.sched.AddIntervalJob("progress_snapshot", snapshotInterval, s.snapshot)
	s.sched.AddIntervalJob("stuck_sweep", stuckSweepInterval, s.stuckSweep)
	s.sched.Start()

	s.wg.Add(1)
	go s.flushLoop()

	logger.Startup("supervisor", "Engine running", map[string]interface{}{
		"workers":    s.cfg.Processing.WorkerCount,
		"batch_size": s.cfg.Processing.BatchSize,
		"event_root": s.cfg.App.EventRoot,
	})
	return nil
}

// Stop shuts everything down in intake-first order so nothing new enters
// a stopping pipeline.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	s.watcher.Stop()
	close(s.stopFlush)
	s.wg.Wait()
	s.sched.Stop()
	s.pool.Stop(shutdownGracePeriod)
	s.drainer.Stop()

	s.finalStats()
}

// requeuePending pushes photos that never got processed back onto the
// queue, skipping any whose original file has disappeared.
func (s *Supervisor) requeuePending(ctx context.Context) int {
	photos, err := s.store.GetPendingPhotos(ctx, 0)
	if err != nil {
		logger.StartupError("requeue", "Failed to load pending photos", err, nil)
		return 0
	}

	requeued := 0
	for _, photo := range photos {
		if _, err := os.Stat(photo.OriginalPath); err != nil {
			logger.StartupWarn("requeue", "Pending photo's original is gone", map[string]interface{}{
				"photo_id": photo.ID,
				"path":     photo.OriginalPath,
			})
			continue
		}
		select {
		case s.queue <- Job{PhotoID: photo.ID, OriginalPath: photo.OriginalPath}:
			requeued++
		case <-ctx.Done():
			return requeued
		default:
			// Full queue; the next stuck sweep requeues the rest.
			return requeued
		}
	}
	return requeued
}

// flushLoop hands trailing partial batches to the uploader once the
// intake goes quiet.
func (s *Supervisor) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopFlush:
			return
		case <-ticker.C:
			if s.pool.QueueLen() == 0 && s.pool.BusyWorkers() == 0 {
				s.coordinator.FlushIfIdle()
			}
		}
	}
}

// snapshot logs a progress line.
func (s *Supervisor) snapshot() {
	ctx := context.Background()
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return
	}
	status := s.coordinator.Status()
	log.Printf("Progress: %d done, %d pending, %d errors | %d persons, %d faces | phase %s (%d/%d)",
		stats.PhotosCompleted, stats.PhotosPending, stats.PhotosError,
		stats.TotalPersons, stats.TotalFaces,
		status.Phase, status.ProcessedInBatch, status.BatchSize)
}

// stuckSweep frees photos and uploads that have been in-flight too long.
func (s *Supervisor) stuckSweep() {
	ctx := context.Background()

	if reset, err := s.store.ResetStuckProcessing(ctx, stuckProcessingAge); err == nil && reset > 0 {
		logger.SchedulerWarn("stuck_sweep", "Reset stuck processing photos", map[string]interface{}{
			"count": reset,
		})
	}
	if reset, err := s.store.ResetStuckUploads(ctx, stuckUploadAge); err == nil && reset > 0 {
		logger.SchedulerWarn("stuck_sweep", "Reset stuck uploads", map[string]interface{}{
			"count": reset,
		})
	}

	// A pending backlog larger than the queue waits here for free slots.
	// Duplicate jobs are harmless: the pending-only claim skips them.
	s.requeuePending(ctx)
}

func (s *Supervisor) finalStats() {
	ctx := context.Background()
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return
	}
	uploadStats, _ := s.store.GetUploadStats(ctx)

	log.Printf("Final: %d completed, %d no-faces, %d errors, %d pending | %d persons, %d enrolled",
		stats.PhotosCompleted, stats.PhotosNoFaces, stats.PhotosError, stats.PhotosPending,
		stats.TotalPersons, stats.Enrollments)
	if uploadStats != nil {
		log.Printf("Uploads: %d completed, %d pending, %d failed",
			uploadStats.Completed, uploadStats.Pending, uploadStats.Failed)
	}
}
