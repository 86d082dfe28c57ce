package serviceimpl

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceflow/domain/models"
	"faceflow/domain/services"
	"faceflow/infrastructure/imaging"
	"faceflow/infrastructure/store"
	"faceflow/pkg/config"
	"faceflow/pkg/vecmath"
)

type fakeAnalyzer struct {
	faces []services.DetectedFace
	err   error
}

func (f *fakeAnalyzer) DetectAndEmbed(ctx context.Context, path string) ([]services.DetectedFace, error) {
	return f.faces, f.err
}

func (f *fakeAnalyzer) IsAvailable(ctx context.Context) bool { return f.err == nil }

type fakeRemote struct {
	enabled bool
	renames [][3]string
}

func (f *fakeRemote) Enabled() bool { return f.enabled }

func (f *fakeRemote) EnsureFolderPath(ctx context.Context, parts ...string) (string, error) {
	return filepath.Join(parts...), nil
}

func (f *fakeRemote) Upload(ctx context.Context, localPath, remotePath string) error { return nil }

func (f *fakeRemote) RenameFolder(ctx context.Context, parentPath, oldName, newName string) (bool, error) {
	f.renames = append(f.renames, [3]string{parentPath, oldName, newName})
	return true, nil
}

func (f *fakeRemote) ShareFolder(ctx context.Context, folderPath string) (string, error) {
	return "https://example.invalid/share", nil
}

func (f *fakeRemote) Rebuild(ctx context.Context) error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		App: config.AppConfig{
			Name:      "faceflow-test",
			EventRoot: root,
			LogDir:    filepath.Join(root, "logs"),
		},
		Store: config.StoreConfig{
			DBPath: filepath.Join(root, "data", "test.db"),
		},
		Processing: config.ProcessingConfig{
			WorkerCount:      1,
			ClusterThreshold: 0.6,
			MaxImageSize:     2048,
			ThumbnailSize:    300,
			BatchSize:        20,
			UseHardlinks:     false,
			AnalyzerURL:      "http://localhost:5000",
		},
		Watcher: config.WatcherConfig{
			ScanInterval:        time.Second,
			SupportedExtensions: map[string]bool{".jpg": true, ".jpeg": true, ".png": true},
		},
		Upload: config.UploadConfig{
			MaxRetries:   3,
			RetryDelay:   time.Millisecond,
			BatchSize:    50,
			QueueEnabled: true,
		},
	}
	require.NoError(t, cfg.EnsureDirectories())
	return cfg
}

func writeSelfie(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "selfie.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, 200, 200)), nil))
	require.NoError(t, f.Close())
	return path
}

// seedPerson creates a clustered person with one assigned face and a
// matching local folder.
func seedPerson(t *testing.T, st *store.Store, cfg *config.Config, name string, centroid []float32) *models.Person {
	t.Helper()
	ctx := context.Background()

	person, err := st.CreatePerson(ctx, name, centroid)
	require.NoError(t, err)

	photo, err := st.CreatePhoto(ctx, "/in/"+name+".jpg", "hash-"+name)
	require.NoError(t, err)
	face := &models.Face{
		PhotoID:    photo.ID,
		Embedding:  store.MarshalEmbedding(centroid),
		Confidence: 0.95,
	}
	require.NoError(t, st.CreateFace(ctx, face))
	require.NoError(t, st.AssignFace(ctx, face.ID, person.ID))

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.PeopleDir(), name, "Solo"), 0o755))
	return person
}

func newEnrollmentFixture(t *testing.T, analyzer services.FaceAnalyzer, remote services.RemoteStore) (*store.Store, *config.Config, services.EnrollmentService) {
	t.Helper()
	cfg := testConfig(t)
	st, err := store.NewStore(cfg.Store.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	processor := imaging.NewProcessor(cfg.Processing.MaxImageSize, cfg.Processing.ThumbnailSize, nil)
	svc := NewEnrollmentService(st, analyzer, remote, processor, cfg)
	return st, cfg, svc
}

func TestEnrollClaimsNearestCluster(t *testing.T) {
	ctx := context.Background()
	centroid := vecmath.Normalize([]float32{1, 0, 0})
	analyzer := &fakeAnalyzer{faces: []services.DetectedFace{
		{BboxWidth: 100, BboxHeight: 100, Confidence: 0.9, Embedding: centroid},
	}}

	st, cfg, svc := newEnrollmentFixture(t, analyzer, &fakeRemote{})
	person := seedPerson(t, st, cfg, "Person_001", centroid)

	// A queued upload still pointing at the anonymous folder name
	require.NoError(t, st.EnqueueUpload(ctx, 1,
		filepath.Join(cfg.PeopleDir(), "Person_001", "Solo", "000001.jpg"),
		"People/Person_001/Solo/000001.jpg"))

	selfie := writeSelfie(t, t.TempDir())
	result, err := svc.Enroll(ctx, &services.EnrollmentRequest{
		UserName:     "Alice Smith",
		Email:        "alice@example.com",
		Phone:        "+31612345678",
		ConsentGiven: true,
		SelfiePath:   selfie,
	})
	require.NoError(t, err)

	assert.Equal(t, person.ID, result.PersonID)
	assert.Equal(t, "Alice_Smith", result.FolderName)
	assert.Greater(t, result.MatchConfidence, 0.4)
	assert.Equal(t, 1, result.PhotoCount)

	// The person row and the folder on disk both carry the new name
	renamed, err := st.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice_Smith", renamed.Name)
	assert.DirExists(t, filepath.Join(cfg.PeopleDir(), "Alice_Smith", "Solo"))
	assert.NoDirExists(t, filepath.Join(cfg.PeopleDir(), "Person_001"))

	// Queued uploads were rewritten to the new folder
	jobs, err := st.PendingUploads(ctx, 10, cfg.Upload.MaxRetries)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].RemotePath, "People/Alice_Smith/")

	// The selfie was saved as a reference image in the claimed folder
	assert.FileExists(t, filepath.Join(cfg.PeopleDir(), "Alice_Smith", "00_REFERENCE_SELFIE.jpg"))

	// Contact details and consent landed on the enrollment row
	enrollment, err := st.EnrollmentOfPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", enrollment.Email)
	assert.Equal(t, "+31612345678", enrollment.Phone)
	assert.True(t, enrollment.ConsentGiven)
}

func TestEnrollNoFaceInSelfie(t *testing.T) {
	_, _, svc := newEnrollmentFixture(t, &fakeAnalyzer{}, &fakeRemote{})

	_, err := svc.Enroll(context.Background(), &services.EnrollmentRequest{
		UserName:   "Bob",
		SelfiePath: "/tmp/selfie.jpg",
	})
	assert.ErrorIs(t, err, services.ErrNoFaceInSelfie)
}

func TestEnrollNoMatch(t *testing.T) {
	centroid := vecmath.Normalize([]float32{1, 0, 0})
	stranger := vecmath.Normalize([]float32{0, 1, 0})
	analyzer := &fakeAnalyzer{faces: []services.DetectedFace{
		{BboxWidth: 100, BboxHeight: 100, Confidence: 0.9, Embedding: stranger},
	}}

	st, cfg, svc := newEnrollmentFixture(t, analyzer, &fakeRemote{})
	seedPerson(t, st, cfg, "Person_001", centroid)

	_, err := svc.Enroll(context.Background(), &services.EnrollmentRequest{
		UserName:   "Bob",
		SelfiePath: "/tmp/selfie.jpg",
	})
	assert.ErrorIs(t, err, services.ErrNoMatch)

	// The rejection still reports how close the nearest cluster was
	var noMatch *services.NoMatchError
	require.ErrorAs(t, err, &noMatch)
	assert.InDelta(t, 0.0, noMatch.BestConfidence, 1e-6)
}

func TestEnrollDistanceAtThresholdIsNoMatch(t *testing.T) {
	// Orthogonal vectors sit at distance exactly 1.0; with the threshold
	// at 1.0 the boundary selfie must be rejected.
	centroid := vecmath.Normalize([]float32{1, 0, 0})
	stranger := vecmath.Normalize([]float32{0, 1, 0})
	analyzer := &fakeAnalyzer{faces: []services.DetectedFace{
		{BboxWidth: 100, BboxHeight: 100, Confidence: 0.9, Embedding: stranger},
	}}

	cfg := testConfig(t)
	cfg.Processing.ClusterThreshold = 1.0
	st, err := store.NewStore(cfg.Store.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	processor := imaging.NewProcessor(cfg.Processing.MaxImageSize, cfg.Processing.ThumbnailSize, nil)
	svc := NewEnrollmentService(st, analyzer, &fakeRemote{}, processor, cfg)

	seedPerson(t, st, cfg, "Person_001", centroid)

	_, err = svc.Enroll(context.Background(), &services.EnrollmentRequest{
		UserName:   "Bob",
		SelfiePath: "/tmp/selfie.jpg",
	})
	assert.ErrorIs(t, err, services.ErrNoMatch)
}

func TestEnrollAlreadyEnrolled(t *testing.T) {
	ctx := context.Background()
	centroid := vecmath.Normalize([]float32{1, 0, 0})
	analyzer := &fakeAnalyzer{faces: []services.DetectedFace{
		{BboxWidth: 100, BboxHeight: 100, Confidence: 0.9, Embedding: centroid},
	}}

	st, cfg, svc := newEnrollmentFixture(t, analyzer, &fakeRemote{})
	seedPerson(t, st, cfg, "Person_001", centroid)

	selfie := writeSelfie(t, t.TempDir())
	_, err := svc.Enroll(ctx, &services.EnrollmentRequest{UserName: "Alice", SelfiePath: selfie})
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, &services.EnrollmentRequest{UserName: "Mallory", SelfiePath: selfie})
	assert.ErrorIs(t, err, services.ErrAlreadyEnrolled)
}

func TestEnrollPicksLargestFace(t *testing.T) {
	ctx := context.Background()
	target := vecmath.Normalize([]float32{1, 0, 0})
	bystander := vecmath.Normalize([]float32{0, 1, 0})

	// The guest's own face is the big one in the selfie
	analyzer := &fakeAnalyzer{faces: []services.DetectedFace{
		{BboxWidth: 40, BboxHeight: 40, Confidence: 0.99, Embedding: bystander},
		{BboxWidth: 200, BboxHeight: 200, Confidence: 0.9, Embedding: target},
	}}

	st, cfg, svc := newEnrollmentFixture(t, analyzer, &fakeRemote{})
	person := seedPerson(t, st, cfg, "Person_001", target)
	seedPerson(t, st, cfg, "Person_002", bystander)

	selfie := writeSelfie(t, t.TempDir())
	result, err := svc.Enroll(ctx, &services.EnrollmentRequest{UserName: "Alice", SelfiePath: selfie})
	require.NoError(t, err)
	assert.Equal(t, person.ID, result.PersonID)
}

func TestEnrollRejectsInvalidRequest(t *testing.T) {
	_, _, svc := newEnrollmentFixture(t, &fakeAnalyzer{}, &fakeRemote{})

	_, err := svc.Enroll(context.Background(), &services.EnrollmentRequest{
		UserName:   "",
		SelfiePath: "/tmp/selfie.jpg",
	})
	assert.Error(t, err)

	_, err = svc.Enroll(context.Background(), &services.EnrollmentRequest{
		UserName:   "Alice",
		Email:      "not-an-email",
		SelfiePath: "/tmp/selfie.jpg",
	})
	assert.Error(t, err)
}

func TestEnrollNameCollisionGetsSuffix(t *testing.T) {
	ctx := context.Background()
	centroid := vecmath.Normalize([]float32{1, 0, 0})
	analyzer := &fakeAnalyzer{faces: []services.DetectedFace{
		{BboxWidth: 100, BboxHeight: 100, Confidence: 0.9, Embedding: centroid},
	}}

	st, cfg, svc := newEnrollmentFixture(t, analyzer, &fakeRemote{})
	person := seedPerson(t, st, cfg, "Person_001", centroid)

	// Another person already claimed the folder name Alice
	other := vecmath.Normalize([]float32{0, 0, 1})
	seedPerson(t, st, cfg, "Alice", other)

	selfie := writeSelfie(t, t.TempDir())
	result, err := svc.Enroll(ctx, &services.EnrollmentRequest{UserName: "Alice", SelfiePath: selfie})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Alice_%d", person.ID), result.FolderName)
}

func TestSanitizeFolderName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "Alice", "Alice"},
		{"spaces to underscores", "Alice Smith", "Alice_Smith"},
		{"strips path characters", "../etc/passwd", "etcpasswd"},
		{"strips punctuation", "O'Brien!", "OBrien"},
		{"keeps hyphens", "Jean-Luc", "Jean-Luc"},
		{"collapses whitespace", "  A   B  ", "A_B"},
		{"empty becomes placeholder", "!!!", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeFolderName(tt.input))
		})
	}
}

func TestSanitizeFolderNameCapsLength(t *testing.T) {
	long := ""
	for i := 0; i < 20; i++ {
		long += "abcdefghij"
	}
	assert.Len(t, sanitizeFolderName(long), 50)
}
