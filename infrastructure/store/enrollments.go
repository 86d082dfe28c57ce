package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"faceflow/domain/models"
)

// CreateEnrollment records the identity binding for a person.
func (s *Store) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).Create(enrollment).Error
	})
}

// IsEnrolled reports whether a person already has an enrollment row.
func (s *Store) IsEnrolled(ctx context.Context, personID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("person_id = ?", personID).
		Count(&count).Error
	return count > 0, err
}

// EnrollmentOfPerson loads the enrollment for a person, or ErrNotFound.
func (s *Store) EnrollmentOfPerson(ctx context.Context, personID int64) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := s.db.WithContext(ctx).Where("person_id = ?", personID).First(&enrollment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// AllEnrollments returns every enrollment with its person preloaded.
func (s *Store) AllEnrollments(ctx context.Context) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := s.db.WithContext(ctx).
		Preload("Person").
		Order("created_at ASC").
		Find(&enrollments).Error
	return enrollments, err
}

// CountEnrollments counts enrollment rows.
func (s *Store) CountEnrollments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Enrollment{}).Count(&count).Error
	return count, err
}
