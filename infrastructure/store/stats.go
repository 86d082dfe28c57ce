package store

import (
	"context"

	"faceflow/domain/models"
)

// Stats is the engine-wide progress snapshot.
type Stats struct {
	PhotosPending    int64 `json:"photos_pending"`
	PhotosProcessing int64 `json:"photos_processing"`
	PhotosCompleted  int64 `json:"photos_completed"`
	PhotosNoFaces    int64 `json:"photos_no_faces"`
	PhotosError      int64 `json:"photos_error"`
	TotalFaces       int64 `json:"total_faces"`
	TotalPersons     int64 `json:"total_persons"`
	Enrollments      int64 `json:"enrollments"`
}

// GetStats counts photos by status plus total faces, persons, and
// enrollments.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	type row struct {
		Status models.PhotoStatus
		N      int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Model(&models.Photo{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		switch r.Status {
		case models.PhotoStatusPending:
			stats.PhotosPending = r.N
		case models.PhotoStatusProcessing:
			stats.PhotosProcessing = r.N
		case models.PhotoStatusCompleted:
			stats.PhotosCompleted = r.N
		case models.PhotoStatusNoFaces:
			stats.PhotosNoFaces = r.N
		case models.PhotoStatusError:
			stats.PhotosError = r.N
		}
	}

	if err := s.db.WithContext(ctx).Model(&models.Face{}).Count(&stats.TotalFaces).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Person{}).Count(&stats.TotalPersons).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Enrollment{}).Count(&stats.Enrollments).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
