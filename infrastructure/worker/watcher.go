package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"faceflow/infrastructure/store"
	"faceflow/pkg/config"
	"faceflow/pkg/logger"
)

const fileReadyInterval = 500 * time.Millisecond

// Watcher feeds the worker pool from the Incoming drop zone. Filesystem
// events give low latency; the periodic scan catches anything events
// missed (network mounts, files present before startup).
type Watcher struct {
	cfg   *config.Config
	store *store.Store
	queue chan<- Job

	scanInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

func NewWatcher(cfg *config.Config, st *store.Store, queue chan<- Job) *Watcher {
	return &Watcher{
		cfg:          cfg,
		store:        st,
		queue:        queue,
		scanInterval: cfg.Watcher.ScanInterval,
	}
}

// Start starts the watcher
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	w.wg.Add(2)
	go w.watchEvents()
	go w.scanLoop()

	log.Println("✓ Drop-zone watcher started")
}

// Stop stops the watcher gracefully
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	log.Println("✓ Drop-zone watcher stopped")
}

// IsRunning returns whether the watcher is running
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// watchEvents reacts to filesystem notifications in the drop zone.
func (w *Watcher) watchEvents() {
	defer w.wg.Done()

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WatcherError("init", "fsnotify unavailable, relying on periodic scan", err, nil)
		return
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(w.cfg.IncomingDir()); err != nil {
		logger.WatcherError("init", "Failed to watch Incoming", err, map[string]interface{}{
			"dir": w.cfg.IncomingDir(),
		})
		return
	}

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.ingest(event.Name)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			logger.WatcherError("event", "Watcher error", err, nil)
		}
	}
}

// scanLoop sweeps the drop zone on a timer.
func (w *Watcher) scanLoop() {
	defer w.wg.Done()

	// Pick up files already sitting in Incoming.
	w.scan()

	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.cfg.IncomingDir())
	if err != nil {
		logger.WatcherError("scan", "Failed to read Incoming", err, nil)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.ingest(filepath.Join(w.cfg.IncomingDir(), entry.Name()))
	}
}

// ingest registers one candidate file: extension filter, readiness check,
// hash dedup, then queue.
func (w *Watcher) ingest(path string) {
	if !w.cfg.IsSupportedExtension(path) {
		return
	}
	if !w.isFileReady(path) {
		return
	}

	hash, err := hashFile(path)
	if err != nil {
		logger.WatcherError("hash", "Failed to hash file", err, map[string]interface{}{"path": path})
		return
	}

	photo, err := w.store.CreatePhoto(w.ctx, path, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateHash) {
			logger.Watcher("duplicate", "Duplicate file ignored", map[string]interface{}{
				"path": path,
				"hash": hash[:12],
			})
			return
		}
		logger.WatcherError("register", "Failed to register photo", err, map[string]interface{}{"path": path})
		return
	}

	select {
	case w.queue <- Job{PhotoID: photo.ID, OriginalPath: path}:
		logger.Watcher("queued", "Photo queued", map[string]interface{}{
			"photo_id": photo.ID,
			"path":     path,
		})
	case <-w.ctx.Done():
	}
}

// isFileReady waits for the file size to hold still so half-copied files
// are not picked up. Zero-byte files are never ready.
func (w *Watcher) isFileReady(path string) bool {
	first, err := os.Stat(path)
	if err != nil || first.Size() == 0 {
		return false
	}

	select {
	case <-time.After(fileReadyInterval):
	case <-w.ctx.Done():
		return false
	}

	second, err := os.Stat(path)
	if err != nil {
		return false
	}
	return first.Size() == second.Size() && second.Size() > 0
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
