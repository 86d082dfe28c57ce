package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"faceflow/domain/models"
	"faceflow/domain/services"
	"faceflow/infrastructure/googledrive"
	"faceflow/infrastructure/store"
	"faceflow/pkg/config"
	"faceflow/pkg/logger"
)

const (
	uploadGateTimeout = 5 * time.Second
	stuckUploadAge    = 5 * time.Minute

	// Retry delays during a drain are capped so one flaky job cannot
	// stall the whole phase.
	drainRetryCap = 10 * time.Second
)

// Drainer empties the upload queue whenever the coordinator grants the
// uploading phase, then hands the turn back to the workers.
type Drainer struct {
	store       *store.Store
	remote      services.RemoteStore
	coordinator *PhaseCoordinator
	cfg         *config.Config

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

func NewDrainer(st *store.Store, remote services.RemoteStore, coordinator *PhaseCoordinator, cfg *config.Config) *Drainer {
	return &Drainer{
		store:       st,
		remote:      remote,
		coordinator: coordinator,
		cfg:         cfg,
	}
}

// Start starts the drainer
func (d *Drainer) Start() {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run()

	log.Println("✓ Upload drainer started")
}

// Stop stops the drainer gracefully
func (d *Drainer) Stop() {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	log.Println("✓ Upload drainer stopped")
}

// IsRunning returns whether the drainer is running
func (d *Drainer) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isRunning
}

func (d *Drainer) run() {
	defer d.wg.Done()

	for {
		if d.ctx.Err() != nil {
			return
		}
		if !d.coordinator.ShouldUpload(uploadGateTimeout) {
			continue
		}

		d.drain()

		// Fresh client for the next batch; long-lived connections to
		// Drive go stale between phases.
		if d.remote.Enabled() {
			if err := d.remote.Rebuild(d.ctx); err != nil {
				logger.UploadError("rebuild", "Client rebuild failed", err, nil)
			}
		}
		d.coordinator.OnUploadsComplete()
	}
}

// drain pushes every drainable job to the remote store in rounds. A round
// that makes no progress ends the drain; leftover jobs wait for the next
// phase.
func (d *Drainer) drain() {
	if !d.remote.Enabled() || !d.cfg.Upload.QueueEnabled || d.cfg.App.DryRun {
		return
	}

	if reset, err := d.store.ResetStuckUploads(d.ctx, stuckUploadAge); err == nil && reset > 0 {
		logger.Upload("stuck_reset", "Reset stuck uploads", map[string]interface{}{"count": reset})
	}

	total := 0
	for {
		if d.ctx.Err() != nil {
			return
		}

		jobs, err := d.store.PendingUploads(d.ctx, d.cfg.Upload.BatchSize, d.cfg.Upload.MaxRetries)
		if err != nil {
			logger.UploadError("fetch", "Failed to fetch upload jobs", err, nil)
			return
		}
		if len(jobs) == 0 {
			break
		}

		progress := 0
		for i := range jobs {
			if d.ctx.Err() != nil {
				return
			}
			if d.uploadOne(&jobs[i]) {
				progress++
			}
		}
		total += progress
		if progress == 0 {
			break
		}
	}

	if total > 0 {
		logger.Upload("drained", "Upload drain finished", map[string]interface{}{"uploaded": total})
	}
}

// uploadOne attempts one job. Reports whether the job reached a terminal
// state this round (uploaded or frozen).
func (d *Drainer) uploadOne(job *models.UploadJob) bool {
	if err := d.store.MarkUploading(d.ctx, job.ID); err != nil {
		logger.UploadError("claim", "Failed to claim job", err, map[string]interface{}{"job_id": job.ID})
		return false
	}

	// Backoff by retry count, capped during the drain.
	if job.RetryCount > 0 {
		delay := d.cfg.Upload.RetryDelay * time.Duration(1<<uint(job.RetryCount-1))
		if delay > drainRetryCap {
			delay = drainRetryCap
		}
		select {
		case <-time.After(delay):
		case <-d.ctx.Done():
			return false
		}
	}

	err := d.remote.Upload(d.ctx, job.LocalPath, job.RemotePath)
	if err == nil {
		if err := d.store.MarkUploaded(d.ctx, job.ID); err != nil {
			logger.UploadError("complete", "Failed to mark job uploaded", err, map[string]interface{}{"job_id": job.ID})
		}
		return true
	}

	// A vanished local file can never succeed; freeze it at max retries
	// so it stops occupying drain rounds.
	if errors.Is(err, services.ErrLocalFileGone) {
		logger.UploadError("missing_file", "Local file gone, freezing job", err, map[string]interface{}{
			"job_id": job.ID,
			"local":  job.LocalPath,
		})
		_ = d.store.MarkUploadFailed(d.ctx, job.ID, d.cfg.Upload.MaxRetries, "local file missing")
		return true
	}

	retry := job.RetryCount + 1
	if !googledrive.IsRetryable(err) {
		retry = d.cfg.Upload.MaxRetries
		// Auth or quota failures taint the whole client.
		if rebuildErr := d.remote.Rebuild(d.ctx); rebuildErr != nil {
			logger.UploadError("rebuild", "Client rebuild failed", rebuildErr, nil)
		}
	}
	logger.UploadError("failed", "Upload failed", err, map[string]interface{}{
		"job_id": job.ID,
		"remote": job.RemotePath,
		"retry":  retry,
	})
	_ = d.store.MarkUploadFailed(d.ctx, job.ID, retry, err.Error())
	return retry >= d.cfg.Upload.MaxRetries
}
