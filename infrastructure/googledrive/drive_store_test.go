package googledrive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"faceflow/domain/services"
	"faceflow/pkg/config"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"server error", &googleapi.Error{Code: 500}, true},
		{"backend unavailable", &googleapi.Error{Code: 503}, true},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"unauthorized", &googleapi.Error{Code: 401}, false},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"wrapped api error", fmt.Errorf("upload: %w", &googleapi.Error{Code: 500}), true},
		{"network error", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestDriveStoreDisabledWithoutCredentials(t *testing.T) {
	store := NewDriveStore(config.DriveConfig{
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
		RootFolderID:    "root",
	}, config.UploadConfig{})
	assert.False(t, store.Enabled())

	_, err := store.EnsureFolderPath(context.Background(), "People")
	assert.ErrorIs(t, err, services.ErrRemoteDisabled)
	assert.ErrorIs(t, store.Upload(context.Background(), "/l/a.jpg", "r/a.jpg"), services.ErrRemoteDisabled)
}

func TestDriveStoreDisabledWithoutRootFolder(t *testing.T) {
	creds := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))

	store := NewDriveStore(config.DriveConfig{CredentialsFile: creds}, config.UploadConfig{})
	assert.False(t, store.Enabled())
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `O\'Brien`, escapeQuery("O'Brien"))
	assert.Equal(t, `a\\b`, escapeQuery(`a\b`))
	assert.Equal(t, "plain", escapeQuery("plain"))
}

func TestAcquirePathLockSerializes(t *testing.T) {
	store := NewDriveStore(config.DriveConfig{}, config.UploadConfig{})
	ctx := context.Background()

	release, err := store.acquirePathLock(ctx, "People/Alice", time.Second)
	require.NoError(t, err)

	// Second acquisition on the same path times out while held
	_, err = store.acquirePathLock(ctx, "People/Alice", 50*time.Millisecond)
	assert.Error(t, err)

	// A different path is independent
	otherRelease, err := store.acquirePathLock(ctx, "People/Bob", 50*time.Millisecond)
	require.NoError(t, err)
	otherRelease()

	release()
	release2, err := store.acquirePathLock(ctx, "People/Alice", 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestInvalidatePrefix(t *testing.T) {
	store := NewDriveStore(config.DriveConfig{}, config.UploadConfig{})
	store.folderIDs = map[string]string{
		"People":                 "id1",
		"People/Person_001":      "id2",
		"People/Person_001/Solo": "id3",
		"People/Person_0011":     "id4",
		"Admin/NoFaces":          "id5",
	}

	store.invalidatePrefix("People/Person_001")

	assert.Contains(t, store.folderIDs, "People")
	assert.NotContains(t, store.folderIDs, "People/Person_001")
	assert.NotContains(t, store.folderIDs, "People/Person_001/Solo")

	// Prefix match is per path segment, not per string
	assert.Contains(t, store.folderIDs, "People/Person_0011")
	assert.Contains(t, store.folderIDs, "Admin/NoFaces")
}
