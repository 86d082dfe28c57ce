package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"faceflow/domain/models"
	"faceflow/pkg/logger"
)

// Sentinel errors surfaced by typed store operations
var (
	ErrDuplicateHash = errors.New("photo with this hash already exists")
	ErrNotFound      = errors.New("record not found")
)

const (
	lockRetryAttempts = 5
	lockRetryBase     = time.Second
	lockRetryFactor   = 2
)

// Store is the single SQLite-backed persistence layer for the engine.
// It is a concrete type on purpose: its transactional behavior is part of
// the pipeline's contract, and every caller shares one instance.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the database at dbPath with WAL journaling,
// a 60 s busy timeout, and foreign keys on, then migrates the schema.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=60000&_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL", dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// WAL readers and one writer; more connections just queue on the
	// file lock anyway.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		return nil, err
	}

	logger.Store("opened", "Database opened", map[string]interface{}{"path": dbPath})
	return &Store{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Photo{},
		&models.Person{},
		&models.Face{},
		&models.Enrollment{},
		&models.UploadJob{},
	); err != nil {
		return fmt.Errorf("failed to run auto migrations: %v", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the gorm handle for read-only admin queries and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func isLockedError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// retryOnLocked runs fn, retrying with exponential backoff when SQLite
// reports a lock conflict. Other errors return immediately.
func retryOnLocked(fn func() error) error {
	delay := lockRetryBase
	var err error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isLockedError(err) {
			return err
		}
		logger.StoreError("locked", "Database locked, retrying", err, map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		})
		time.Sleep(delay)
		delay *= lockRetryFactor
	}
	return err
}
