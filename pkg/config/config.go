package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	Store      StoreConfig
	Processing ProcessingConfig
	Watcher    WatcherConfig
	Drive      DriveConfig
	Upload     UploadConfig
	Admin      AdminConfig
}

type AppConfig struct {
	Name      string
	EventRoot string // Base directory for Incoming/Processed/People/Admin
	Env       string
	DryRun    bool // Log intended effects without mutating disk or cloud
	LogDir    string
}

type StoreConfig struct {
	DBPath string
}

type ProcessingConfig struct {
	WorkerCount      int
	ClusterThreshold float64 // Max cosine distance for a cluster match
	MaxImageSize     int     // Longest-edge pixel bound for the normalized JPEG
	ThumbnailSize    int     // Square edge pixels for the thumbnail
	BatchSize        int     // Photos processed before switching to the upload phase
	UseHardlinks     bool
	AnalyzerURL      string // Base URL of the face analyzer sidecar
}

type WatcherConfig struct {
	ScanInterval        time.Duration
	SupportedExtensions map[string]bool // lowercased, with leading dot
}

type DriveConfig struct {
	CredentialsFile string
	RootFolderID    string
}

type UploadConfig struct {
	TimeoutConnect time.Duration
	TimeoutRead    time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	BatchSize      int
	QueueEnabled   bool
}

type AdminConfig struct {
	Port string // Empty disables the read-only admin API
}

const defaultExtensions = ".jpg,.jpeg,.png,.webp,.bmp,.tiff,.tif,.gif,.cr2,.nef,.arw,.dng,.orf,.rw2,.raf,.pef"

func LoadConfig() (*Config, error) {
	// Load .env file if exists (optional for production)
	_ = godotenv.Load()

	workerCount, _ := strconv.Atoi(getEnv("WORKER_COUNT", "4"))
	threshold, _ := strconv.ParseFloat(getEnv("CLUSTER_THRESHOLD", "0.6"), 64)
	maxImageSize, _ := strconv.Atoi(getEnv("MAX_IMAGE_SIZE", "2048"))
	thumbSize, _ := strconv.Atoi(getEnv("THUMBNAIL_SIZE", "300"))
	batchSize, _ := strconv.Atoi(getEnv("PROCESS_BATCH_SIZE", "20"))
	scanInterval, _ := strconv.Atoi(getEnv("SCAN_INTERVAL", "30"))
	timeoutConnect, _ := strconv.Atoi(getEnv("UPLOAD_TIMEOUT_CONNECT", "10"))
	timeoutRead, _ := strconv.Atoi(getEnv("UPLOAD_TIMEOUT_READ", "30"))
	maxRetries, _ := strconv.Atoi(getEnv("UPLOAD_MAX_RETRIES", "3"))
	retryDelay, _ := strconv.Atoi(getEnv("UPLOAD_RETRY_DELAY", "2"))
	uploadBatch, _ := strconv.Atoi(getEnv("UPLOAD_BATCH_SIZE", "50"))

	extensions := make(map[string]bool)
	for _, ext := range strings.Split(getEnv("SUPPORTED_EXTENSIONS", defaultExtensions), ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" {
			extensions[ext] = true
		}
	}

	config := &Config{
		App: AppConfig{
			Name:      getEnv("APP_NAME", "faceflow"),
			EventRoot: getEnv("EVENT_ROOT", "./EventRoot"),
			Env:       getEnv("APP_ENV", "development"),
			DryRun:    getEnv("DRY_RUN", "false") == "true",
			LogDir:    getEnv("LOG_DIR", "logs"),
		},
		Store: StoreConfig{
			DBPath: getEnv("DB_PATH", "./data/faceflow.db"),
		},
		Processing: ProcessingConfig{
			WorkerCount:      workerCount,
			ClusterThreshold: threshold,
			MaxImageSize:     maxImageSize,
			ThumbnailSize:    thumbSize,
			BatchSize:        batchSize,
			UseHardlinks:     getEnv("USE_HARDLINKS", "true") == "true",
			AnalyzerURL:      getEnv("FACE_API_URL", "http://localhost:5000"),
		},
		Watcher: WatcherConfig{
			ScanInterval:        time.Duration(scanInterval) * time.Second,
			SupportedExtensions: extensions,
		},
		Drive: DriveConfig{
			CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", "service_account.json"),
			RootFolderID:    getEnv("DRIVE_ROOT_FOLDER_ID", ""),
		},
		Upload: UploadConfig{
			TimeoutConnect: time.Duration(timeoutConnect) * time.Second,
			TimeoutRead:    time.Duration(timeoutRead) * time.Second,
			MaxRetries:     maxRetries,
			RetryDelay:     time.Duration(retryDelay) * time.Second,
			BatchSize:      uploadBatch,
			QueueEnabled:   getEnv("UPLOAD_QUEUE_ENABLED", "true") == "true",
		},
		Admin: AdminConfig{
			Port: getEnv("ADMIN_API_PORT", ""),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Directory accessors for the on-disk event tree.

func (c *Config) IncomingDir() string {
	return filepath.Join(c.App.EventRoot, "Incoming")
}

func (c *Config) ProcessedDir() string {
	return filepath.Join(c.App.EventRoot, "Processed")
}

func (c *Config) PeopleDir() string {
	return filepath.Join(c.App.EventRoot, "People")
}

func (c *Config) NoFacesDir() string {
	return filepath.Join(c.App.EventRoot, "Admin", "NoFaces")
}

func (c *Config) ErrorsDir() string {
	return filepath.Join(c.App.EventRoot, "Admin", "Errors")
}

// EnsureDirectories creates the full event tree and the database parent dir.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.IncomingDir(),
		c.ProcessedDir(),
		c.PeopleDir(),
		c.NoFacesDir(),
		c.ErrorsDir(),
		filepath.Dir(c.Store.DBPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// IsSupportedExtension reports whether path has an accepted image suffix.
func (c *Config) IsSupportedExtension(path string) bool {
	return c.Watcher.SupportedExtensions[strings.ToLower(filepath.Ext(path))]
}
