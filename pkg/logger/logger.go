package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Category represents a log category
type Category string

const (
	CategoryStartup   Category = "startup"
	CategoryWatcher   Category = "watcher"
	CategoryWorker    Category = "worker"
	CategoryCluster   Category = "cluster"
	CategoryRouter    Category = "router"
	CategoryUpload    Category = "upload"
	CategoryDrive     Category = "drive"
	CategoryStore     Category = "store"
	CategoryEnroll    Category = "enroll"
	CategoryAPI       Category = "api"
	CategoryScheduler Category = "scheduler"
)

// Level represents log level
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Category  Category               `json:"category"`
	Action    string                 `json:"action"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Logger writes structured entries to per-category daily files and the console.
type Logger struct {
	mu      sync.Mutex
	logDir  string
	writers map[Category]*os.File
	console bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger
func Init(logDir string, console bool) error {
	var err error
	once.Do(func() {
		defaultLogger, err = NewLogger(logDir, console)
	})
	return err
}

// NewLogger creates a new logger
func NewLogger(logDir string, console bool) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Logger{
		logDir:  logDir,
		writers: make(map[Category]*os.File),
		console: console,
	}, nil
}

// getWriter returns or creates a file writer for the category
func (l *Logger) getWriter(category Category) (io.Writer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", category, today)
	path := filepath.Join(l.logDir, filename)

	if writer, exists := l.writers[category]; exists {
		if info, err := writer.Stat(); err == nil && info.Name() == filename {
			return writer, nil
		}
		writer.Close()
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l.writers[category] = file
	return file, nil
}

// Log writes a log entry
func (l *Logger) Log(entry LogEntry) {
	entry.Timestamp = time.Now()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Printf("Error marshaling log entry: %v\n", err)
		return
	}

	writer, err := l.getWriter(entry.Category)
	if err != nil {
		fmt.Printf("Error getting log writer: %v\n", err)
	} else {
		fmt.Fprintln(writer, string(jsonData))
	}

	if l.console {
		l.printToConsole(entry)
	}
}

// printToConsole prints formatted log to console
func (l *Logger) printToConsole(entry LogEntry) {
	timestamp := entry.Timestamp.Format("15:04:05.000")

	levelColors := map[Level]string{
		LevelDebug: "\033[36m", // Cyan
		LevelInfo:  "\033[32m", // Green
		LevelWarn:  "\033[33m", // Yellow
		LevelError: "\033[31m", // Red
	}
	reset := "\033[0m"

	color := levelColors[entry.Level]

	fmt.Printf("%s[%s]%s [%s] [%s] %s: %s",
		color,
		entry.Level,
		reset,
		timestamp,
		entry.Category,
		entry.Action,
		entry.Message,
	)

	if entry.Duration != "" {
		fmt.Printf(" (duration: %s)", entry.Duration)
	}
	if entry.Error != "" {
		fmt.Printf(" ERROR: %s", entry.Error)
	}
	fmt.Println()
}

// Close closes all file writers
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.writers {
		writer.Close()
	}
	l.writers = make(map[Category]*os.File)
}

// Default returns the default logger
func Default() *Logger {
	if defaultLogger == nil {
		Init("logs", true)
	}
	return defaultLogger
}

// Info logs info level message
func Info(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{
		Level:    LevelInfo,
		Category: category,
		Action:   action,
		Message:  message,
		Data:     data,
	})
}

// Error logs error level message
func Error(category Category, action, message string, err error, data map[string]interface{}) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	Default().Log(LogEntry{
		Level:    LevelError,
		Category: category,
		Action:   action,
		Message:  message,
		Error:    errStr,
		Data:     data,
	})
}

// Debug logs debug level message
func Debug(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{
		Level:    LevelDebug,
		Category: category,
		Action:   action,
		Message:  message,
		Data:     data,
	})
}

// Warn logs warning level message
func Warn(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{
		Level:    LevelWarn,
		Category: category,
		Action:   action,
		Message:  message,
		Data:     data,
	})
}

// Helper functions for common log operations

// Startup logs startup/initialization events
func Startup(action, message string, data map[string]interface{}) {
	Info(CategoryStartup, action, message, data)
}

// StartupError logs startup errors
func StartupError(action, message string, err error, data map[string]interface{}) {
	Error(CategoryStartup, action, message, err, data)
}

// StartupWarn logs startup warnings
func StartupWarn(action, message string, data map[string]interface{}) {
	Warn(CategoryStartup, action, message, data)
}

// Watcher logs drop-zone watcher events
func Watcher(action, message string, data map[string]interface{}) {
	Info(CategoryWatcher, action, message, data)
}

// WatcherError logs drop-zone watcher errors
func WatcherError(action, message string, err error, data map[string]interface{}) {
	Error(CategoryWatcher, action, message, err, data)
}

// Worker logs processing pipeline events
func Worker(action, message string, data map[string]interface{}) {
	Info(CategoryWorker, action, message, data)
}

// WorkerError logs processing pipeline errors
func WorkerError(action, message string, err error, data map[string]interface{}) {
	Error(CategoryWorker, action, message, err, data)
}

// Cluster logs clustering events
func Cluster(action, message string, data map[string]interface{}) {
	Info(CategoryCluster, action, message, data)
}

// Router logs routing events
func Router(action, message string, data map[string]interface{}) {
	Info(CategoryRouter, action, message, data)
}

// RouterError logs routing errors
func RouterError(action, message string, err error, data map[string]interface{}) {
	Error(CategoryRouter, action, message, err, data)
}

// Upload logs upload queue events
func Upload(action, message string, data map[string]interface{}) {
	Info(CategoryUpload, action, message, data)
}

// UploadError logs upload queue errors
func UploadError(action, message string, err error, data map[string]interface{}) {
	Error(CategoryUpload, action, message, err, data)
}

// Drive logs remote store operations
func Drive(action, message string, data map[string]interface{}) {
	Info(CategoryDrive, action, message, data)
}

// DriveError logs remote store errors
func DriveError(action, message string, err error, data map[string]interface{}) {
	Error(CategoryDrive, action, message, err, data)
}

// Store logs database operations
func Store(action, message string, data map[string]interface{}) {
	Debug(CategoryStore, action, message, data)
}

// StoreError logs database errors
func StoreError(action, message string, err error, data map[string]interface{}) {
	Error(CategoryStore, action, message, err, data)
}

// Enroll logs enrollment events
func Enroll(action, message string, data map[string]interface{}) {
	Info(CategoryEnroll, action, message, data)
}

// EnrollError logs enrollment errors
func EnrollError(action, message string, err error, data map[string]interface{}) {
	Error(CategoryEnroll, action, message, err, data)
}

// API logs admin API request events
func API(action, message string, data map[string]interface{}) {
	Info(CategoryAPI, action, message, data)
}

// Scheduler logs periodic job events
func Scheduler(action, message string, data map[string]interface{}) {
	Info(CategoryScheduler, action, message, data)
}

// SchedulerWarn logs periodic job warnings
func SchedulerWarn(action, message string, data map[string]interface{}) {
	Warn(CategoryScheduler, action, message, data)
}

// ReadLogsOptions options for reading logs
type ReadLogsOptions struct {
	Category Category // Filter by category (empty = all)
	Level    Level    // Filter by level (empty = all)
	Lines    int      // Number of lines to return (default 100)
	Search   string   // Search in message/action
}

// ReadLogs reads log entries from the logger's log directory
func (l *Logger) ReadLogs(opts ReadLogsOptions) ([]LogEntry, error) {
	if opts.Lines <= 0 {
		opts.Lines = 100
	}
	if opts.Lines > 1000 {
		opts.Lines = 1000
	}

	var entries []LogEntry

	today := time.Now().Format("2006-01-02")

	categories := []Category{
		CategoryStartup, CategoryWatcher, CategoryWorker, CategoryCluster,
		CategoryRouter, CategoryUpload, CategoryDrive, CategoryStore,
		CategoryEnroll, CategoryAPI, CategoryScheduler,
	}
	if opts.Category != "" {
		categories = []Category{opts.Category}
	}

	for _, cat := range categories {
		filename := fmt.Sprintf("%s_%s.log", cat, today)
		data, err := os.ReadFile(filepath.Join(l.logDir, filename))
		if err != nil {
			continue // Skip if file doesn't exist
		}

		for _, line := range strings.Split(string(data), "\n") {
			if line == "" {
				continue
			}

			var entry LogEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}

			if opts.Level != "" && entry.Level != opts.Level {
				continue
			}
			if opts.Search != "" {
				needle := strings.ToLower(opts.Search)
				if !strings.Contains(strings.ToLower(entry.Message), needle) &&
					!strings.Contains(strings.ToLower(entry.Action), needle) &&
					!strings.Contains(strings.ToLower(entry.Error), needle) {
					continue
				}
			}

			entries = append(entries, entry)
		}
	}

	// Newest first
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if len(entries) > opts.Lines {
		entries = entries[:opts.Lines]
	}

	return entries, nil
}
