package store

import (
	"context"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"faceflow/domain/models"
)

// UploadStats summarizes the upload queue by status.
type UploadStats struct {
	Pending      int64 `json:"pending"`
	Uploading    int64 `json:"uploading"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	UniquePhotos int64 `json:"unique_photos"`
}

// EnqueueUpload registers one routed file for mirroring. Re-enqueuing an
// already-queued (local, remote) pair is a no-op.
func (s *Store) EnqueueUpload(ctx context.Context, photoID int64, localPath, remotePath string) error {
	return retryOnLocked(func() error {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&models.UploadJob{}).
			Where("local_path = ? AND remote_path = ?", localPath, remotePath).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return s.db.WithContext(ctx).Create(&models.UploadJob{
			PhotoID:    photoID,
			LocalPath:  localPath,
			RemotePath: remotePath,
			Status:     models.UploadStatusPending,
		}).Error
	})
}

// PendingUploads returns up to limit jobs ready to drain: pending jobs plus
// failed jobs that still have retries left, oldest first.
func (s *Store) PendingUploads(ctx context.Context, limit, maxRetries int) ([]models.UploadJob, error) {
	var jobs []models.UploadJob
	q := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry_count < ?)",
			models.UploadStatusPending, models.UploadStatusFailed, maxRetries).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// CountDrainable counts jobs PendingUploads would return.
func (s *Store) CountDrainable(ctx context.Context, maxRetries int) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.UploadJob{}).
		Where("status = ? OR (status = ? AND retry_count < ?)",
			models.UploadStatusPending, models.UploadStatusFailed, maxRetries).
		Count(&count).Error
	return count, err
}

// MarkUploading claims a job for an in-flight transfer.
func (s *Store) MarkUploading(ctx context.Context, jobID int64) error {
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).
			Model(&models.UploadJob{}).
			Where("id = ?", jobID).
			Updates(map[string]interface{}{
				"status":     models.UploadStatusUploading,
				"updated_at": time.Now(),
			}).Error
	})
}

// MarkUploaded records a completed transfer.
func (s *Store) MarkUploaded(ctx context.Context, jobID int64) error {
	now := time.Now()
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).
			Model(&models.UploadJob{}).
			Where("id = ?", jobID).
			Updates(map[string]interface{}{
				"status":        models.UploadStatusCompleted,
				"error_message": "",
				"updated_at":    now,
				"uploaded_at":   now,
			}).Error
	})
}

// MarkUploadFailed records a failed transfer and bumps the retry count.
// Passing retryCount >= maxRetries freezes the job.
func (s *Store) MarkUploadFailed(ctx context.Context, jobID int64, retryCount int, message string) error {
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).
			Model(&models.UploadJob{}).
			Where("id = ?", jobID).
			Updates(map[string]interface{}{
				"status":        models.UploadStatusFailed,
				"retry_count":   retryCount,
				"error_message": message,
				"updated_at":    time.Now(),
			}).Error
	})
}

// ResetStuckUploads returns jobs stuck in uploading longer than maxAge to
// pending. Crash recovery and the periodic sweep both use this.
func (s *Store) ResetStuckUploads(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	var affected int64
	err := retryOnLocked(func() error {
		res := s.db.WithContext(ctx).
			Model(&models.UploadJob{}).
			Where("status = ? AND updated_at < ?", models.UploadStatusUploading, cutoff).
			Updates(map[string]interface{}{
				"status":     models.UploadStatusPending,
				"updated_at": time.Now(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// RewriteUploadPaths replaces a path segment in the local and remote paths
// of jobs that have not completed yet. Used when an enrollment renames a
// person folder under queued jobs.
func (s *Store) RewriteUploadPaths(ctx context.Context, oldSegment, newSegment string) (int64, error) {
	sep := string(filepath.Separator)
	oldLocal := sep + oldSegment + sep
	newLocal := sep + newSegment + sep
	oldRemote := "/" + oldSegment + "/"
	newRemote := "/" + newSegment + "/"

	var affected int64
	err := retryOnLocked(func() error {
		res := s.db.WithContext(ctx).
			Model(&models.UploadJob{}).
			Where("status IN ? AND (local_path LIKE ? OR remote_path LIKE ?)",
				[]models.UploadStatus{models.UploadStatusPending, models.UploadStatusFailed},
				"%"+oldLocal+"%", "%"+oldRemote+"%").
			Updates(map[string]interface{}{
				"local_path":  gorm.Expr("REPLACE(local_path, ?, ?)", oldLocal, newLocal),
				"remote_path": gorm.Expr("REPLACE(remote_path, ?, ?)", oldRemote, newRemote),
				"updated_at":  time.Now(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// GetUploadStats returns queue counts by status plus the number of
// distinct photos involved.
func (s *Store) GetUploadStats(ctx context.Context) (*UploadStats, error) {
	stats := &UploadStats{}
	type row struct {
		Status models.UploadStatus
		N      int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Model(&models.UploadJob{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		switch r.Status {
		case models.UploadStatusPending:
			stats.Pending = r.N
		case models.UploadStatusUploading:
			stats.Uploading = r.N
		case models.UploadStatusCompleted:
			stats.Completed = r.N
		case models.UploadStatusFailed:
			stats.Failed = r.N
		}
	}
	if err := s.db.WithContext(ctx).
		Model(&models.UploadJob{}).
		Distinct("photo_id").
		Count(&stats.UniquePhotos).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
