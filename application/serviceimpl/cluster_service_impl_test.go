package serviceimpl

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceflow/domain/models"
	"faceflow/domain/services"
	"faceflow/infrastructure/store"
	"faceflow/pkg/vecmath"
)

func newClusterFixture(t *testing.T) (*store.Store, services.ClusterService) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, NewClusterService(st, 0.6)
}

func addFace(t *testing.T, st *store.Store, photoID int64, embedding []float32) int64 {
	t.Helper()
	face := &models.Face{
		PhotoID:    photoID,
		Embedding:  store.MarshalEmbedding(embedding),
		Confidence: 0.9,
	}
	require.NoError(t, st.CreateFace(context.Background(), face))
	return face.ID
}

func addPhoto(t *testing.T, st *store.Store, hash string) int64 {
	t.Helper()
	photo, err := st.CreatePhoto(context.Background(), "/in/"+hash+".jpg", hash)
	require.NoError(t, err)
	return photo.ID
}

func TestAssignPersonCreatesFirstCluster(t *testing.T) {
	st, cluster := newClusterFixture(t)
	ctx := context.Background()

	photoID := addPhoto(t, st, "p1")
	embedding := []float32{1, 0, 0}
	faceID := addFace(t, st, photoID, embedding)

	assignment, err := cluster.AssignPerson(ctx, faceID, embedding)
	require.NoError(t, err)
	assert.True(t, assignment.NewPerson)
	assert.Equal(t, "Person_001", assignment.Name)

	person, err := st.GetPerson(ctx, assignment.PersonID)
	require.NoError(t, err)
	assert.Equal(t, 1, person.FaceCount)
}

func TestAssignPersonDistanceAtThresholdOpensNewPerson(t *testing.T) {
	// Orthogonal unit vectors sit at cosine distance exactly 1.0. With
	// the threshold set to 1.0 the boundary face must not match.
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	cluster := NewClusterService(st, 1.0)
	ctx := context.Background()

	photoID := addPhoto(t, st, "p1")
	first := []float32{1, 0, 0}
	firstFace := addFace(t, st, photoID, first)
	created, err := cluster.AssignPerson(ctx, firstFace, first)
	require.NoError(t, err)

	boundary := []float32{0, 1, 0}
	boundaryFace := addFace(t, st, photoID, boundary)
	assignment, err := cluster.AssignPerson(ctx, boundaryFace, boundary)
	require.NoError(t, err)

	assert.True(t, assignment.NewPerson)
	assert.NotEqual(t, created.PersonID, assignment.PersonID)
	assert.InDelta(t, 1.0, assignment.Distance, 1e-9)
}

func TestAssignPersonMatchesCloseFace(t *testing.T) {
	st, cluster := newClusterFixture(t)
	ctx := context.Background()

	photoID := addPhoto(t, st, "p1")
	first := vecmath.Normalize([]float32{1, 0, 0})
	firstFace := addFace(t, st, photoID, first)
	created, err := cluster.AssignPerson(ctx, firstFace, first)
	require.NoError(t, err)

	// A slightly rotated vector lands well within the 0.6 threshold
	second := vecmath.Normalize([]float32{0.95, 0.1, 0})
	secondFace := addFace(t, st, photoID, second)
	matched, err := cluster.AssignPerson(ctx, secondFace, second)
	require.NoError(t, err)

	assert.False(t, matched.NewPerson)
	assert.Equal(t, created.PersonID, matched.PersonID)
	assert.Less(t, matched.Distance, 0.6)

	person, err := st.GetPerson(ctx, created.PersonID)
	require.NoError(t, err)
	assert.Equal(t, 2, person.FaceCount)

	// The centroid stays unit length after the running mean update
	centroid, err := store.UnmarshalEmbedding(person.Centroid)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vecmath.Norm(centroid), 1e-5)
}

func TestAssignPersonDistantFaceOpensNewCluster(t *testing.T) {
	st, cluster := newClusterFixture(t)
	ctx := context.Background()

	photoID := addPhoto(t, st, "p1")
	a := []float32{1, 0, 0}
	faceA := addFace(t, st, photoID, a)
	_, err := cluster.AssignPerson(ctx, faceA, a)
	require.NoError(t, err)

	// Orthogonal, distance 1.0 > 0.6
	b := []float32{0, 1, 0}
	faceB := addFace(t, st, photoID, b)
	assignment, err := cluster.AssignPerson(ctx, faceB, b)
	require.NoError(t, err)

	assert.True(t, assignment.NewPerson)
	assert.Equal(t, "Person_002", assignment.Name)
}

func TestAssignPersonTieGoesToSmallestID(t *testing.T) {
	st, cluster := newClusterFixture(t)
	ctx := context.Background()

	// Two persons with identical centroids, seeded directly
	centroid := vecmath.Normalize([]float32{1, 0, 0})
	p1, err := st.CreatePerson(ctx, "Person_001", centroid)
	require.NoError(t, err)
	_, err = st.CreatePerson(ctx, "Person_002", centroid)
	require.NoError(t, err)

	photoID := addPhoto(t, st, "p1")
	faceID := addFace(t, st, photoID, centroid)
	assignment, err := cluster.AssignPerson(ctx, faceID, centroid)
	require.NoError(t, err)

	assert.Equal(t, p1.ID, assignment.PersonID)
}

func TestMergePersons(t *testing.T) {
	st, cluster := newClusterFixture(t)
	ctx := context.Background()

	photoID := addPhoto(t, st, "p1")

	a := vecmath.Normalize([]float32{1, 0.1, 0})
	faceA := addFace(t, st, photoID, a)
	keep, err := cluster.AssignPerson(ctx, faceA, a)
	require.NoError(t, err)

	b := vecmath.Normalize([]float32{0, 1, 0})
	faceB := addFace(t, st, photoID, b)
	remove, err := cluster.AssignPerson(ctx, faceB, b)
	require.NoError(t, err)
	require.NotEqual(t, keep.PersonID, remove.PersonID)

	require.NoError(t, cluster.MergePersons(ctx, keep.PersonID, remove.PersonID))

	// The removed person is gone and its face moved over
	_, err = st.GetPerson(ctx, remove.PersonID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	kept, err := st.GetPerson(ctx, keep.PersonID)
	require.NoError(t, err)
	assert.Equal(t, 2, kept.FaceCount)

	faces, err := st.FacesOfPerson(ctx, keep.PersonID)
	require.NoError(t, err)
	assert.Len(t, faces, 2)

	centroid, err := store.UnmarshalEmbedding(kept.Centroid)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vecmath.Norm(centroid), 1e-5)
}

func TestMergePersonsErrors(t *testing.T) {
	_, cluster := newClusterFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, cluster.MergePersons(ctx, 1, 1), services.ErrSelfMerge)
	assert.ErrorIs(t, cluster.MergePersons(ctx, 1, 2), services.ErrPersonNotFound)
}

func TestClusterStats(t *testing.T) {
	st, cluster := newClusterFixture(t)
	ctx := context.Background()

	photoID := addPhoto(t, st, "p1")
	for i := 0; i < 3; i++ {
		v := vecmath.Normalize([]float32{1, float32(i) * 0.01, 0})
		faceID := addFace(t, st, photoID, v)
		_, err := cluster.AssignPerson(ctx, faceID, v)
		require.NoError(t, err)
	}
	odd := []float32{0, 0, 1}
	faceID := addFace(t, st, photoID, odd)
	_, err := cluster.AssignPerson(ctx, faceID, odd)
	require.NoError(t, err)

	stats, err := cluster.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalPersons)
	assert.Equal(t, int64(3), stats.LargestCluster)
	assert.Equal(t, int64(4), stats.TotalFaces)
	assert.Equal(t, int64(4), stats.AssignedFaces)
}

func TestCosineDistanceMonotonicUnderRunningMean(t *testing.T) {
	// Folding a face in pulls the centroid toward it
	centroid := vecmath.Normalize([]float32{1, 0})
	sample := vecmath.Normalize([]float32{0.7, 0.7})

	before := vecmath.CosineDistance(centroid, sample)
	updated := vecmath.RunningMean(centroid, sample, 4)
	after := vecmath.CosineDistance(updated, sample)

	assert.Less(t, after, before)
	assert.False(t, math.IsNaN(after))
}
