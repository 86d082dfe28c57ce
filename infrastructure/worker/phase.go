package worker

import (
	"sync"
	"time"

	"faceflow/pkg/logger"
)

// Phase is the engine's current mode. Processing and uploading never
// overlap: SQLite writes and bulk Drive traffic take turns.
type Phase string

const (
	PhaseProcessing Phase = "PROCESSING"
	PhaseUploading  Phase = "UPLOADING"
)

// PhaseStatus is a snapshot for logs and the admin API.
type PhaseStatus struct {
	Phase            Phase `json:"phase"`
	ProcessedInBatch int   `json:"processed_in_batch"`
	BatchSize        int   `json:"batch_size"`
}

// PhaseCoordinator alternates the engine between processing and uploading.
// Workers gate on CanProcess, the drainer gates on ShouldUpload; a closed
// channel means the corresponding phase is active.
type PhaseCoordinator struct {
	mu               sync.Mutex
	phase            Phase
	batchSize        int
	processedInBatch int

	processGate chan struct{}
	uploadGate  chan struct{}
}

func NewPhaseCoordinator(batchSize int) *PhaseCoordinator {
	if batchSize <= 0 {
		batchSize = 20
	}
	processGate := make(chan struct{})
	close(processGate)
	return &PhaseCoordinator{
		phase:       PhaseProcessing,
		batchSize:   batchSize,
		processGate: processGate,
		uploadGate:  make(chan struct{}),
	}
}

// CanProcess blocks until the processing phase is active, or gives up
// after timeout. Workers call this before taking a job.
func (c *PhaseCoordinator) CanProcess(timeout time.Duration) bool {
	c.mu.Lock()
	gate := c.processGate
	c.mu.Unlock()

	select {
	case <-gate:
		return true
	case <-time.After(timeout):
		return false
	}
}

// OnProcessed records one finished photo (success, no-faces, or error all
// count). Filling the batch hands the turn to the uploader.
func (c *PhaseCoordinator) OnProcessed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.processedInBatch++
	if c.phase == PhaseProcessing && c.processedInBatch >= c.batchSize {
		c.switchToUploading("batch_full")
	}
}

// FlushIfIdle hands an incomplete batch to the uploader. The supervisor
// calls this when the intake queue is empty and no worker is busy, so a
// trailing partial batch still reaches the cloud. Reports whether a
// switch happened.
func (c *PhaseCoordinator) FlushIfIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseProcessing || c.processedInBatch == 0 {
		return false
	}
	c.switchToUploading("idle_flush")
	return true
}

// ShouldUpload blocks until the uploading phase is active, or gives up
// after timeout.
func (c *PhaseCoordinator) ShouldUpload(timeout time.Duration) bool {
	c.mu.Lock()
	gate := c.uploadGate
	c.mu.Unlock()

	select {
	case <-gate:
		return true
	case <-time.After(timeout):
		return false
	}
}

// OnUploadsComplete returns the turn to the workers and resets the batch
// counter.
func (c *PhaseCoordinator) OnUploadsComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseUploading {
		return
	}
	c.phase = PhaseProcessing
	c.processedInBatch = 0
	c.uploadGate = make(chan struct{})
	close(c.processGate)

	logger.Worker("phase_switch", "Back to processing", map[string]interface{}{
		"phase": c.phase,
	})
}

// switchToUploading flips the gates. Caller holds the lock.
func (c *PhaseCoordinator) switchToUploading(reason string) {
	c.phase = PhaseUploading
	c.processGate = make(chan struct{})
	close(c.uploadGate)

	logger.Worker("phase_switch", "Switching to uploading", map[string]interface{}{
		"phase":     c.phase,
		"reason":    reason,
		"processed": c.processedInBatch,
	})
}

// Status returns a snapshot of the coordinator.
func (c *PhaseCoordinator) Status() PhaseStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PhaseStatus{
		Phase:            c.phase,
		ProcessedInBatch: c.processedInBatch,
		BatchSize:        c.batchSize,
	}
}
