package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"faceflow/domain/models"
)

// NextPersonNumber returns max(id)+1 over the persons table. Deleted
// persons never free their number, so folder names stay unique for the
// lifetime of the event.
func (s *Store) NextPersonNumber(ctx context.Context) (int64, error) {
	var maxID *int64
	err := s.db.WithContext(ctx).
		Model(&models.Person{}).
		Select("MAX(id)").
		Scan(&maxID).Error
	if err != nil {
		return 0, err
	}
	if maxID == nil {
		return 1, nil
	}
	return *maxID + 1, nil
}

// CreatePerson inserts a new person with an initial centroid and one face.
func (s *Store) CreatePerson(ctx context.Context, name string, centroid []float32) (*models.Person, error) {
	person := &models.Person{
		Name:      name,
		Centroid:  MarshalEmbedding(centroid),
		FaceCount: 1,
	}
	err := retryOnLocked(func() error {
		return s.db.WithContext(ctx).Create(person).Error
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// GetPerson loads one person. Returns ErrNotFound when absent.
func (s *Store) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	var person models.Person
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&person).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// GetPersonByName loads a person by its folder name.
func (s *Store) GetPersonByName(ctx context.Context, name string) (*models.Person, error) {
	var person models.Person
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&person).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// AllPersons returns every person ordered by id.
func (s *Store) AllPersons(ctx context.Context) ([]models.Person, error) {
	var persons []models.Person
	err := s.db.WithContext(ctx).Order("id ASC").Find(&persons).Error
	return persons, err
}

// UpdateCentroid replaces a person's centroid and face count.
func (s *Store) UpdateCentroid(ctx context.Context, id int64, centroid []float32, faceCount int) error {
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).
			Model(&models.Person{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"centroid":   MarshalEmbedding(centroid),
				"face_count": faceCount,
				"updated_at": time.Now(),
			}).Error
	})
}

// RenamePerson changes a person's name, failing if the name is taken.
func (s *Store) RenamePerson(ctx context.Context, id int64, newName string) error {
	return retryOnLocked(func() error {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&models.Person{}).
			Where("name = ? AND id != ?", newName, id).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("person name %q is already taken", newName)
		}
		return s.db.WithContext(ctx).
			Model(&models.Person{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"name":       newName,
				"updated_at": time.Now(),
			}).Error
	})
}

// DeletePerson removes a person row. Faces pointing at it must be
// reassigned or cleared first.
func (s *Store) DeletePerson(ctx context.Context, id int64) error {
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Person{}).Error
	})
}

// MergePersonsTx reassigns removeID's faces to keepID, installs the blended
// centroid, and deletes removeID, all in one transaction.
func (s *Store) MergePersonsTx(ctx context.Context, keepID, removeID int64, blended []float32, mergedCount int) error {
	return retryOnLocked(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Face{}).
				Where("person_id = ?", removeID).
				Update("person_id", keepID).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Person{}).
				Where("id = ?", keepID).
				Updates(map[string]interface{}{
					"centroid":   MarshalEmbedding(blended),
					"face_count": mergedCount,
					"updated_at": time.Now(),
				}).Error; err != nil {
				return err
			}
			return tx.Where("id = ?", removeID).Delete(&models.Person{}).Error
		})
	})
}
