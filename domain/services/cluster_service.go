package services

import (
	"context"
	"errors"
)

// Custom errors for clustering
var (
	ErrPersonNotFound = errors.New("person not found")
	ErrSelfMerge      = errors.New("cannot merge a person into itself")
)

// Assignment is the outcome of matching one face against the known persons.
type Assignment struct {
	PersonID  int64
	Name      string
	Distance  float64
	NewPerson bool // True when no centroid was within the threshold
}

// ClusterStats summarizes the cluster table for the admin surface.
type ClusterStats struct {
	TotalPersons   int64 `json:"total_persons"`
	EnrolledCount  int64 `json:"enrolled_count"`
	TotalFaces     int64 `json:"total_faces"`
	AssignedFaces  int64 `json:"assigned_faces"`
	LargestCluster int64 `json:"largest_cluster"`
}

// ClusterService maintains the incremental nearest-centroid clustering of
// face embeddings into persons.
type ClusterService interface {
	// AssignPerson matches the embedding against every person centroid,
	// folds the face into the winner (or a new Person_NNN), and persists
	// both the face's person_id and the updated centroid.
	AssignPerson(ctx context.Context, faceID int64, embedding []float32) (*Assignment, error)

	// MergePersons moves every face of removeID onto keepID, blends the
	// centroids weighted by face count, and deletes removeID. Atomic.
	MergePersons(ctx context.Context, keepID, removeID int64) error

	// Stats returns cluster-table counts.
	Stats(ctx context.Context) (*ClusterStats, error)
}
