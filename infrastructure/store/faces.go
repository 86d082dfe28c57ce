package store

import (
	"context"

	"faceflow/domain/models"
)

// CreateFace persists one detected face for a photo.
func (s *Store) CreateFace(ctx context.Context, face *models.Face) error {
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).Create(face).Error
	})
}

// AssignFace sets the face's cluster assignment.
func (s *Store) AssignFace(ctx context.Context, faceID, personID int64) error {
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).
			Model(&models.Face{}).
			Where("id = ?", faceID).
			Update("person_id", personID).Error
	})
}

// FacesOfPhoto returns every face row for a photo.
func (s *Store) FacesOfPhoto(ctx context.Context, photoID int64) ([]models.Face, error) {
	var faces []models.Face
	err := s.db.WithContext(ctx).
		Where("photo_id = ?", photoID).
		Order("id ASC").
		Find(&faces).Error
	return faces, err
}

// DistinctPersonsOfPhoto returns the distinct assigned person IDs of a
// photo's faces, ascending.
func (s *Store) DistinctPersonsOfPhoto(ctx context.Context, photoID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&models.Face{}).
		Where("photo_id = ? AND person_id IS NOT NULL", photoID).
		Distinct("person_id").
		Order("person_id ASC").
		Pluck("person_id", &ids).Error
	return ids, err
}

// FacesOfPerson returns every face assigned to a person.
func (s *Store) FacesOfPerson(ctx context.Context, personID int64) ([]models.Face, error) {
	var faces []models.Face
	err := s.db.WithContext(ctx).
		Where("person_id = ?", personID).
		Order("id ASC").
		Find(&faces).Error
	return faces, err
}

// CountFacesOfPerson counts the faces assigned to a person.
func (s *Store) CountFacesOfPerson(ctx context.Context, personID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Face{}).
		Where("person_id = ?", personID).
		Count(&count).Error
	return count, err
}
