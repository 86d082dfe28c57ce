package worker

// Job is one photo handed to the worker pool. A poison job tells a worker
// to exit; the supervisor sends one per worker on shutdown.
type Job struct {
	PhotoID      int64
	OriginalPath string
	poison       bool
}

// PoisonJob returns the shutdown sentinel.
func PoisonJob() Job {
	return Job{poison: true}
}
