package serviceimpl

import (
	"context"
	"fmt"
	"sync"

	"faceflow/domain/models"
	"faceflow/domain/services"
	"faceflow/infrastructure/store"
	"faceflow/pkg/logger"
	"faceflow/pkg/vecmath"
)

type ClusterServiceImpl struct {
	store     *store.Store
	threshold float64

	// Serializes assign/merge so two workers cannot race the same
	// centroid update or both create a person for the same guest.
	mu sync.Mutex
}

func NewClusterService(st *store.Store, threshold float64) services.ClusterService {
	return &ClusterServiceImpl{
		store:     st,
		threshold: threshold,
	}
}

// AssignPerson matches the embedding against every person centroid and
// folds the face into the nearest one within the threshold, or creates a
// new Person_NNN. Ties on distance go to the smallest person ID, which
// AllPersons' id ordering already guarantees with a strict comparison.
func (s *ClusterServiceImpl) AssignPerson(ctx context.Context, faceID int64, embedding []float32) (*services.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := vecmath.Normalize(embedding)

	persons, err := s.store.AllPersons(ctx)
	if err != nil {
		return nil, err
	}

	var best *models.Person
	bestDistance := 2.0
	for i := range persons {
		centroid, err := store.UnmarshalEmbedding(persons[i].Centroid)
		if err != nil {
			return nil, fmt.Errorf("person %d has a corrupt centroid: %w", persons[i].ID, err)
		}
		d := vecmath.CosineDistance(normalized, centroid)
		if d < bestDistance {
			bestDistance = d
			best = &persons[i]
		}
	}

	// The threshold itself is out of range: a face exactly that far
	// away opens a new person.
	if best != nil && bestDistance < s.threshold {
		centroid, err := store.UnmarshalEmbedding(best.Centroid)
		if err != nil {
			return nil, err
		}
		updated := vecmath.RunningMean(centroid, normalized, best.FaceCount)
		if err := s.store.UpdateCentroid(ctx, best.ID, updated, best.FaceCount+1); err != nil {
			return nil, err
		}
		if err := s.store.AssignFace(ctx, faceID, best.ID); err != nil {
			return nil, err
		}
		logger.Cluster("matched", "Face matched existing person", map[string]interface{}{
			"face_id":   faceID,
			"person_id": best.ID,
			"distance":  bestDistance,
		})
		return &services.Assignment{
			PersonID: best.ID,
			Name:     best.Name,
			Distance: bestDistance,
		}, nil
	}

	number, err := s.store.NextPersonNumber(ctx)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("Person_%03d", number)

	person, err := s.store.CreatePerson(ctx, name, normalized)
	if err != nil {
		return nil, err
	}
	if err := s.store.AssignFace(ctx, faceID, person.ID); err != nil {
		return nil, err
	}

	logger.Cluster("new_person", "Face opened a new person", map[string]interface{}{
		"face_id":   faceID,
		"person_id": person.ID,
		"name":      name,
	})
	return &services.Assignment{
		PersonID:  person.ID,
		Name:      person.Name,
		Distance:  bestDistance,
		NewPerson: true,
	}, nil
}

// MergePersons folds removeID into keepID: faces reassigned, centroids
// blended by face count, removeID deleted. One transaction.
func (s *ClusterServiceImpl) MergePersons(ctx context.Context, keepID, removeID int64) error {
	if keepID == removeID {
		return services.ErrSelfMerge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keep, err := s.store.GetPerson(ctx, keepID)
	if err != nil {
		return services.ErrPersonNotFound
	}
	remove, err := s.store.GetPerson(ctx, removeID)
	if err != nil {
		return services.ErrPersonNotFound
	}

	keepCentroid, err := store.UnmarshalEmbedding(keep.Centroid)
	if err != nil {
		return err
	}
	removeCentroid, err := store.UnmarshalEmbedding(remove.Centroid)
	if err != nil {
		return err
	}

	blended := vecmath.WeightedBlend(keepCentroid, keep.FaceCount, removeCentroid, remove.FaceCount)
	merged := keep.FaceCount + remove.FaceCount

	if err := s.store.MergePersonsTx(ctx, keepID, removeID, blended, merged); err != nil {
		return err
	}

	logger.Cluster("merged", "Persons merged", map[string]interface{}{
		"keep_id":    keepID,
		"remove_id":  removeID,
		"face_count": merged,
	})
	return nil
}

func (s *ClusterServiceImpl) Stats(ctx context.Context) (*services.ClusterStats, error) {
	stats := &services.ClusterStats{}

	persons, err := s.store.AllPersons(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalPersons = int64(len(persons))
	for _, p := range persons {
		if int64(p.FaceCount) > stats.LargestCluster {
			stats.LargestCluster = int64(p.FaceCount)
		}
		stats.AssignedFaces += int64(p.FaceCount)
	}

	enrolled, err := s.store.CountEnrollments(ctx)
	if err != nil {
		return nil, err
	}
	stats.EnrolledCount = enrolled

	overall, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalFaces = overall.TotalFaces

	return stats, nil
}
