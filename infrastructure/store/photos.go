package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"faceflow/domain/models"
)

// PhotoExists reports whether a photo with the given content hash is
// already registered.
func (s *Store) PhotoExists(ctx context.Context, fileHash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Photo{}).
		Where("file_hash = ?", fileHash).
		Count(&count).Error
	return count > 0, err
}

// CreatePhoto registers a new photo in status pending. Returns
// ErrDuplicateHash when the hash is already present.
func (s *Store) CreatePhoto(ctx context.Context, originalPath, fileHash string) (*models.Photo, error) {
	photo := &models.Photo{
		OriginalPath: originalPath,
		FileHash:     fileHash,
		Status:       models.PhotoStatusPending,
	}
	err := retryOnLocked(func() error {
		return s.db.WithContext(ctx).Create(photo).Error
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateHash
		}
		return nil, err
	}
	return photo, nil
}

// GetPhotoByID loads one photo. Returns ErrNotFound when absent.
func (s *Store) GetPhotoByID(ctx context.Context, id int64) (*models.Photo, error) {
	var photo models.Photo
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&photo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &photo, nil
}

// GetPhotoByHash loads the photo registered under a content hash.
func (s *Store) GetPhotoByHash(ctx context.Context, fileHash string) (*models.Photo, error) {
	var photo models.Photo
	err := s.db.WithContext(ctx).Where("file_hash = ?", fileHash).First(&photo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &photo, nil
}

// GetPendingPhotos returns photos still waiting for the pipeline, oldest
// first.
func (s *Store) GetPendingPhotos(ctx context.Context, limit int) ([]models.Photo, error) {
	var photos []models.Photo
	q := s.db.WithContext(ctx).
		Where("status = ?", models.PhotoStatusPending).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&photos).Error
	return photos, err
}

// SetProcessing flips a pending photo to processing. Returns ErrNotFound
// when the photo is no longer pending, so two workers cannot claim the
// same photo.
func (s *Store) SetProcessing(ctx context.Context, id int64) error {
	return retryOnLocked(func() error {
		res := s.db.WithContext(ctx).
			Model(&models.Photo{}).
			Where("id = ? AND status = ?", id, models.PhotoStatusPending).
			Update("status", models.PhotoStatusProcessing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetCompleted records a successful pipeline run.
func (s *Store) SetCompleted(ctx context.Context, id int64, processedPath, thumbnailPath string, faceCount int) error {
	now := time.Now()
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).
			Model(&models.Photo{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":         models.PhotoStatusCompleted,
				"processed_path": processedPath,
				"thumbnail_path": thumbnailPath,
				"face_count":     faceCount,
				"error_message":  "",
				"processed_at":   now,
			}).Error
	})
}

// SetNoFaces marks a photo that processed cleanly but contained no faces.
func (s *Store) SetNoFaces(ctx context.Context, id int64, processedPath, thumbnailPath string) error {
	now := time.Now()
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).
			Model(&models.Photo{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":         models.PhotoStatusNoFaces,
				"processed_path": processedPath,
				"thumbnail_path": thumbnailPath,
				"face_count":     0,
				"processed_at":   now,
			}).Error
	})
}

// SetError records a pipeline failure with its message.
func (s *Store) SetError(ctx context.Context, id int64, message string) error {
	now := time.Now()
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).
			Model(&models.Photo{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":        models.PhotoStatusError,
				"error_message": message,
				"processed_at":  now,
			}).Error
	})
}
