package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceflow/domain/models"
	"faceflow/pkg/vecmath"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreatePhotoDuplicateHash(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.CreatePhoto(ctx, "/in/a.jpg", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhotoStatusPending, first.Status)

	// Same content under a different name is still a duplicate
	_, err = st.CreatePhoto(ctx, "/in/a_copy.jpg", "hash-1")
	assert.ErrorIs(t, err, ErrDuplicateHash)

	exists, err := st.PhotoExists(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSetProcessingClaimsOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	photo, err := st.CreatePhoto(ctx, "/in/a.jpg", "hash-1")
	require.NoError(t, err)

	require.NoError(t, st.SetProcessing(ctx, photo.ID))

	// Second claim must fail: the photo is no longer pending
	assert.ErrorIs(t, st.SetProcessing(ctx, photo.ID), ErrNotFound)
}

func TestPhotoStatusTransitions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	photo, err := st.CreatePhoto(ctx, "/in/a.jpg", "hash-1")
	require.NoError(t, err)
	require.NoError(t, st.SetProcessing(ctx, photo.ID))
	require.NoError(t, st.SetCompleted(ctx, photo.ID, "/out/000001.jpg", "/out/000001_thumb.jpg", 2))

	got, err := st.GetPhotoByID(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhotoStatusCompleted, got.Status)
	assert.Equal(t, 2, got.FaceCount)
	assert.Equal(t, "/out/000001.jpg", got.ProcessedPath)
	assert.NotNil(t, got.ProcessedAt)
}

func TestNextPersonNumberNeverReused(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.NextPersonNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	centroid := vecmath.Normalize([]float32{1, 0, 0})
	p1, err := st.CreatePerson(ctx, "Person_001", centroid)
	require.NoError(t, err)
	p2, err := st.CreatePerson(ctx, "Person_002", centroid)
	require.NoError(t, err)

	// Deleting a person must not free its number
	require.NoError(t, st.DeletePerson(ctx, p1.ID))
	n, err = st.NextPersonNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, p2.ID+1, n)
}

func TestCreateEnrollmentStoresContactDetails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	centroid := vecmath.Normalize([]float32{1, 0, 0})
	person, err := st.CreatePerson(ctx, "Person_001", centroid)
	require.NoError(t, err)

	require.NoError(t, st.CreateEnrollment(ctx, &models.Enrollment{
		PersonID:        person.ID,
		UserName:        "Alice Smith",
		Email:           "alice@example.com",
		Phone:           "+31612345678",
		ConsentGiven:    true,
		SelfiePath:      "/people/Alice_Smith/00_REFERENCE_SELFIE.jpg",
		MatchConfidence: 0.82,
	}))

	got, err := st.EnrollmentOfPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", got.UserName)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "+31612345678", got.Phone)
	assert.True(t, got.ConsentGiven)
	assert.InDelta(t, 0.82, got.MatchConfidence, 1e-9)

	enrolled, err := st.IsEnrolled(ctx, person.ID)
	require.NoError(t, err)
	assert.True(t, enrolled)
}

func TestRecoverInterruptedCleansOrphans(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	embedding := vecmath.Normalize([]float32{1, 0, 0})

	// A completed photo whose face anchors a person
	done, err := st.CreatePhoto(ctx, "/in/done.jpg", "hash-done")
	require.NoError(t, err)
	person, err := st.CreatePerson(ctx, "Person_001", embedding)
	require.NoError(t, err)
	keeper := &models.Face{PhotoID: done.ID, Embedding: MarshalEmbedding(embedding), Confidence: 0.9}
	require.NoError(t, st.CreateFace(ctx, keeper))
	require.NoError(t, st.AssignFace(ctx, keeper.ID, person.ID))
	require.NoError(t, st.SetProcessing(ctx, done.ID))
	require.NoError(t, st.SetCompleted(ctx, done.ID, "/out/d.jpg", "/out/d_thumb.jpg", 1))

	// A photo that crashed mid-processing, with a face already written
	crashed, err := st.CreatePhoto(ctx, "/in/crash.jpg", "hash-crash")
	require.NoError(t, err)
	require.NoError(t, st.SetProcessing(ctx, crashed.ID))
	orphan := &models.Face{PhotoID: crashed.ID, Embedding: MarshalEmbedding(embedding), Confidence: 0.8}
	require.NoError(t, st.CreateFace(ctx, orphan))
	require.NoError(t, st.AssignFace(ctx, orphan.ID, person.ID))
	require.NoError(t, st.UpdateCentroid(ctx, person.ID, embedding, 2))

	report, err := st.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.PhotosReset)
	assert.Equal(t, int64(1), report.OrphanedFaces)
	assert.Equal(t, int64(1), report.PersonsRebuilt)

	// The crashed photo is pending again with no faces left
	got, err := st.GetPhotoByID(ctx, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhotoStatusPending, got.Status)
	faces, err := st.FacesOfPhoto(ctx, crashed.ID)
	require.NoError(t, err)
	assert.Empty(t, faces)

	// The person's centroid was rebuilt from the surviving face
	p, err := st.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.FaceCount)

	// Running recovery again must be a no-op
	again, err := st.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.PhotosReset)
	assert.Equal(t, int64(0), again.OrphanedFaces)
}

func TestRecoverInterruptedDeletesEmptyPerson(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	embedding := vecmath.Normalize([]float32{0, 1, 0})
	crashed, err := st.CreatePhoto(ctx, "/in/crash.jpg", "hash-crash")
	require.NoError(t, err)
	require.NoError(t, st.SetProcessing(ctx, crashed.ID))

	person, err := st.CreatePerson(ctx, "Person_001", embedding)
	require.NoError(t, err)
	face := &models.Face{PhotoID: crashed.ID, Embedding: MarshalEmbedding(embedding), Confidence: 0.9}
	require.NoError(t, st.CreateFace(ctx, face))
	require.NoError(t, st.AssignFace(ctx, face.ID, person.ID))

	report, err := st.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.PersonsDeleted)

	_, err = st.GetPerson(ctx, person.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRewriteUploadPathsOnlyTouchesUnfinished(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	photo, err := st.CreatePhoto(ctx, "/in/a.jpg", "hash-1")
	require.NoError(t, err)

	mk := func(local, remote string, status models.UploadStatus) int64 {
		job := &models.UploadJob{PhotoID: photo.ID, LocalPath: local, RemotePath: remote, Status: status}
		require.NoError(t, st.DB().Create(job).Error)
		return job.ID
	}

	pendingID := mk("/root/People/Person_001/Solo/1.jpg", "People/Person_001/Solo/1.jpg", models.UploadStatusPending)
	failedID := mk("/root/People/Person_001/Group/2.jpg", "People/Person_001/Group/2.jpg", models.UploadStatusFailed)
	doneID := mk("/root/People/Person_001/Solo/3.jpg", "People/Person_001/Solo/3.jpg", models.UploadStatusCompleted)

	affected, err := st.RewriteUploadPaths(ctx, "Person_001", "Alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	var job models.UploadJob
	require.NoError(t, st.DB().First(&job, pendingID).Error)
	assert.Contains(t, job.RemotePath, "People/Alice/")
	job = models.UploadJob{}
	require.NoError(t, st.DB().First(&job, failedID).Error)
	assert.Contains(t, job.LocalPath, "/Alice/")

	// Completed history keeps the name it was uploaded under
	job = models.UploadJob{}
	require.NoError(t, st.DB().First(&job, doneID).Error)
	assert.Contains(t, job.RemotePath, "People/Person_001/")
}

func TestResetStuckUploads(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	photo, err := st.CreatePhoto(ctx, "/in/a.jpg", "hash-1")
	require.NoError(t, err)
	require.NoError(t, st.EnqueueUpload(ctx, photo.ID, "/local/1.jpg", "People/P/Solo/1.jpg"))

	jobs, err := st.PendingUploads(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, st.MarkUploading(ctx, jobs[0].ID))

	// Fresh in-flight jobs stay put
	reset, err := st.ResetStuckUploads(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reset)

	// Age the job past the cutoff
	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.DB().Model(&models.UploadJob{}).
		Where("id = ?", jobs[0].ID).
		UpdateColumn("updated_at", old).Error)

	reset, err = st.ResetStuckUploads(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	jobs, err = st.PendingUploads(ctx, 10, 3)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestPendingUploadsIncludesRetryableFailed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	photo, err := st.CreatePhoto(ctx, "/in/a.jpg", "hash-1")
	require.NoError(t, err)
	require.NoError(t, st.EnqueueUpload(ctx, photo.ID, "/local/1.jpg", "r/1.jpg"))
	require.NoError(t, st.EnqueueUpload(ctx, photo.ID, "/local/2.jpg", "r/2.jpg"))

	jobs, err := st.PendingUploads(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// One failure below the cap stays drainable, one frozen at the cap drops out
	require.NoError(t, st.MarkUploadFailed(ctx, jobs[0].ID, 1, "boom"))
	require.NoError(t, st.MarkUploadFailed(ctx, jobs[1].ID, 3, "gone"))

	drainable, err := st.PendingUploads(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, drainable, 1)
	assert.Equal(t, jobs[0].ID, drainable[0].ID)
}

func TestEnqueueUploadIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	photo, err := st.CreatePhoto(ctx, "/in/a.jpg", "hash-1")
	require.NoError(t, err)
	require.NoError(t, st.EnqueueUpload(ctx, photo.ID, "/local/1.jpg", "r/1.jpg"))
	require.NoError(t, st.EnqueueUpload(ctx, photo.ID, "/local/1.jpg", "r/1.jpg"))

	stats, err := st.GetUploadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.0, 0}
	got, err := UnmarshalEmbedding(MarshalEmbedding(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = UnmarshalEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestGetStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreatePhoto(ctx, "/in/a.jpg", "hash-a")
	require.NoError(t, err)
	_, err = st.CreatePhoto(ctx, "/in/b.jpg", "hash-b")
	require.NoError(t, err)
	require.NoError(t, st.SetProcessing(ctx, a.ID))
	require.NoError(t, st.SetCompleted(ctx, a.ID, "/out/a.jpg", "/out/a_thumb.jpg", 1))

	stats, err := st.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PhotosCompleted)
	assert.Equal(t, int64(1), stats.PhotosPending)
}
