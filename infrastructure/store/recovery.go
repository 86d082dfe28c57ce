package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"faceflow/domain/models"
	"faceflow/pkg/logger"
	"faceflow/pkg/vecmath"
)

// RecoveryReport summarizes what crash recovery touched.
type RecoveryReport struct {
	PhotosReset    int64
	OrphanedFaces  int64
	PersonsRebuilt int64
	PersonsDeleted int64
	UploadsReset   int64
}

// RecoverInterrupted repairs state left behind by a crash:
//
//  1. Photos stuck in processing go back to pending, and any face rows
//     already written for them are removed (the photo will be re-run from
//     scratch).
//  2. Pending photos that somehow have face rows get the same cleanup,
//     covering a crash between face insert and the status flip.
//  3. Persons whose centroid counted a removed face are recomputed from
//     their surviving faces; persons left with none are deleted.
//  4. Upload jobs stuck in uploading go back to pending.
//
// Each photo's cleanup runs in its own transaction so one bad row cannot
// wedge the whole repair.
func (s *Store) RecoverInterrupted(ctx context.Context) (*RecoveryReport, error) {
	report := &RecoveryReport{}

	var stuck []models.Photo
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.PhotoStatusProcessing).
		Find(&stuck).Error; err != nil {
		return nil, err
	}

	var pendingWithFaces []models.Photo
	if err := s.db.WithContext(ctx).
		Where("status = ? AND id IN (?)", models.PhotoStatusPending,
			s.db.Model(&models.Face{}).Select("DISTINCT photo_id")).
		Find(&pendingWithFaces).Error; err != nil {
		return nil, err
	}

	touchedPersons := make(map[int64]bool)

	cleanup := append(stuck, pendingWithFaces...)
	for i := range cleanup {
		photo := &cleanup[i]
		err := retryOnLocked(func() error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				var faces []models.Face
				if err := tx.Where("photo_id = ?", photo.ID).Find(&faces).Error; err != nil {
					return err
				}
				for _, f := range faces {
					if f.PersonID != nil {
						touchedPersons[*f.PersonID] = true
					}
				}
				if len(faces) > 0 {
					if err := tx.Where("photo_id = ?", photo.ID).Delete(&models.Face{}).Error; err != nil {
						return err
					}
					report.OrphanedFaces += int64(len(faces))
				}
				if photo.Status == models.PhotoStatusProcessing {
					if err := tx.Model(&models.Photo{}).
						Where("id = ?", photo.ID).
						Updates(map[string]interface{}{
							"status":     models.PhotoStatusPending,
							"face_count": 0,
						}).Error; err != nil {
						return err
					}
					report.PhotosReset++
				}
				return nil
			})
		})
		if err != nil {
			logger.StoreError("recovery", "Failed to clean up photo", err, map[string]interface{}{
				"photo_id": photo.ID,
			})
			return nil, err
		}
	}

	for personID := range touchedPersons {
		rebuilt, deleted, err := s.recomputePerson(ctx, personID)
		if err != nil {
			return nil, err
		}
		if rebuilt {
			report.PersonsRebuilt++
		}
		if deleted {
			report.PersonsDeleted++
		}
	}

	uploadsReset, err := s.ResetStuckUploads(ctx, 0)
	if err != nil {
		return nil, err
	}
	report.UploadsReset = uploadsReset

	logger.Store("recovery", "Crash recovery finished", map[string]interface{}{
		"photos_reset":    report.PhotosReset,
		"orphaned_faces":  report.OrphanedFaces,
		"persons_rebuilt": report.PersonsRebuilt,
		"persons_deleted": report.PersonsDeleted,
		"uploads_reset":   report.UploadsReset,
	})
	return report, nil
}

// recomputePerson rebuilds a person's centroid from its surviving faces,
// or deletes the person when none remain.
func (s *Store) recomputePerson(ctx context.Context, personID int64) (rebuilt, deleted bool, err error) {
	faces, err := s.FacesOfPerson(ctx, personID)
	if err != nil {
		return false, false, err
	}

	if len(faces) == 0 {
		if err := s.DeletePerson(ctx, personID); err != nil {
			return false, false, err
		}
		return false, true, nil
	}

	vectors := make([][]float32, 0, len(faces))
	for _, f := range faces {
		v, err := UnmarshalEmbedding(f.Embedding)
		if err != nil {
			return false, false, err
		}
		vectors = append(vectors, v)
	}
	centroid := vecmath.Mean(vectors)
	if err := s.UpdateCentroid(ctx, personID, centroid, len(faces)); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// ResetStuckProcessing returns photos stuck in processing longer than
// maxAge to pending. The supervisor sweep calls this while workers run, so
// unlike RecoverInterrupted it only touches clearly stale rows.
func (s *Store) ResetStuckProcessing(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	var affected int64
	err := retryOnLocked(func() error {
		res := s.db.WithContext(ctx).
			Model(&models.Photo{}).
			Where("status = ? AND created_at < ? AND (processed_at IS NULL OR processed_at < ?)",
				models.PhotoStatusProcessing, cutoff, cutoff).
			Update("status", models.PhotoStatusPending)
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}
