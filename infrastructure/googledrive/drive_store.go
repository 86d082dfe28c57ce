package googledrive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"faceflow/domain/services"
	"faceflow/pkg/config"
	"faceflow/pkg/logger"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveStore mirrors the event tree to Google Drive using a service
// account. It implements services.RemoteStore.
//
// Folder IDs are cached per path. Concurrent EnsureFolderPath calls on the
// same path serialize on a per-path lock so a folder is never created
// twice.
type DriveStore struct {
	cfg config.DriveConfig

	timeoutConnect time.Duration
	timeoutRead    time.Duration

	mu        sync.Mutex
	service   *drive.Service
	folderIDs map[string]string        // path -> folder ID
	pathLocks map[string]chan struct{} // path -> holder token
}

// NewDriveStore builds a DriveStore. A missing credentials file or root
// folder ID leaves the store disabled rather than failing startup, so the
// engine can run fully local.
func NewDriveStore(cfg config.DriveConfig, uploadCfg config.UploadConfig) *DriveStore {
	store := &DriveStore{
		cfg:            cfg,
		timeoutConnect: uploadCfg.TimeoutConnect,
		timeoutRead:    uploadCfg.TimeoutRead,
		folderIDs:      make(map[string]string),
		pathLocks:      make(map[string]chan struct{}),
	}

	if !store.Enabled() {
		logger.Drive("disabled", "Remote store disabled, running local only", map[string]interface{}{
			"credentials_file": cfg.CredentialsFile,
			"root_folder_set":  cfg.RootFolderID != "",
		})
	}
	return store
}

// Enabled reports whether credentials and a root folder are configured.
func (d *DriveStore) Enabled() bool {
	if d.cfg.RootFolderID == "" || d.cfg.CredentialsFile == "" {
		return false
	}
	_, err := os.Stat(d.cfg.CredentialsFile)
	return err == nil
}

// getService lazily builds the Drive service.
func (d *DriveStore) getService(ctx context.Context) (*drive.Service, error) {
	if !d.Enabled() {
		return nil, services.ErrRemoteDisabled
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.service != nil {
		return d.service, nil
	}

	data, err := os.ReadFile(d.cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	// Separate connect and read timeouts; one slow upload must not be
	// killed by a short overall deadline.
	base := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: d.timeoutConnect,
			}).DialContext,
			ResponseHeaderTimeout: d.timeoutRead,
		},
	}
	clientCtx := context.WithValue(ctx, oauth2.HTTPClient, base)
	client := oauth2.NewClient(clientCtx, creds.TokenSource)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	d.service = srv
	logger.Drive("service_created", "Drive service created", nil)
	return srv, nil
}

// Rebuild discards the cached service and folder IDs. The next call
// rebuilds both from scratch.
func (d *DriveStore) Rebuild(ctx context.Context) error {
	d.mu.Lock()
	d.service = nil
	d.folderIDs = make(map[string]string)
	d.mu.Unlock()
	logger.Drive("rebuilt", "Drive client caches discarded", nil)
	return nil
}

// acquirePathLock serializes folder operations per remote path. Returns an
// error when the lock cannot be acquired within the timeout.
func (d *DriveStore) acquirePathLock(ctx context.Context, p string, timeout time.Duration) (release func(), err error) {
	d.mu.Lock()
	lock, ok := d.pathLocks[p]
	if !ok {
		lock = make(chan struct{}, 1)
		d.pathLocks[p] = lock
	}
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for folder lock on %q", p)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnsureFolderPath creates the folder chain if missing and returns the
// leaf folder's ID. Idempotent; existing folders are reused.
func (d *DriveStore) EnsureFolderPath(ctx context.Context, parts ...string) (string, error) {
	srv, err := d.getService(ctx)
	if err != nil {
		return "", err
	}

	parentID := d.cfg.RootFolderID
	current := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		current = path.Join(current, part)

		d.mu.Lock()
		cached, ok := d.folderIDs[current]
		d.mu.Unlock()
		if ok {
			parentID = cached
			continue
		}

		release, err := d.acquirePathLock(ctx, current, 30*time.Second)
		if err != nil {
			return "", err
		}
		id, err := d.findOrCreateFolder(ctx, srv, parentID, part)
		release()
		if err != nil {
			return "", fmt.Errorf("failed to ensure folder %q: %w", current, err)
		}

		d.mu.Lock()
		d.folderIDs[current] = id
		d.mu.Unlock()
		parentID = id
	}
	return parentID, nil
}

func (d *DriveStore) findOrCreateFolder(ctx context.Context, srv *drive.Service, parentID, name string) (string, error) {
	query := fmt.Sprintf("mimeType='%s' and trashed=false and name='%s' and '%s' in parents",
		folderMimeType, escapeQuery(name), parentID)

	result, err := srv.Files.List().
		Context(ctx).
		Q(query).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Do()
	if err != nil {
		return "", err
	}
	if len(result.Files) > 0 {
		return result.Files[0].Id, nil
	}

	folder, err := srv.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Context(ctx).SupportsAllDrives(true).Fields("id").Do()
	if err != nil {
		return "", err
	}
	logger.Drive("folder_created", "Created remote folder", map[string]interface{}{
		"name":   name,
		"parent": parentID,
	})
	return folder.Id, nil
}

// Upload sends the local file to remotePath, replacing any existing file
// with the same name in the destination folder.
func (d *DriveStore) Upload(ctx context.Context, localPath, remotePath string) error {
	srv, err := d.getService(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return services.ErrLocalFileGone
		}
		return err
	}
	defer f.Close()

	dir, name := path.Split(remotePath)
	parts := strings.Split(strings.Trim(dir, "/"), "/")
	folderID, err := d.EnsureFolderPath(ctx, parts...)
	if err != nil {
		return err
	}

	// Replace rather than duplicate on retried uploads.
	existing, err := srv.Files.List().
		Context(ctx).
		Q(fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeQuery(name), folderID)).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Do()
	if err != nil {
		return err
	}

	if len(existing.Files) > 0 {
		_, err = srv.Files.Update(existing.Files[0].Id, &drive.File{}).
			Context(ctx).
			Media(f).
			SupportsAllDrives(true).
			Do()
	} else {
		_, err = srv.Files.Create(&drive.File{
			Name:    name,
			Parents: []string{folderID},
		}).Context(ctx).Media(f).SupportsAllDrives(true).Fields("id").Do()
	}
	if err != nil {
		return err
	}

	logger.Drive("uploaded", "File uploaded", map[string]interface{}{
		"local":  localPath,
		"remote": remotePath,
	})
	return nil
}

// RenameFolder renames a folder under parentPath. Returns false with nil
// error when the folder does not exist remotely yet, which is normal when
// uploads lag behind enrollment.
func (d *DriveStore) RenameFolder(ctx context.Context, parentPath, oldName, newName string) (bool, error) {
	srv, err := d.getService(ctx)
	if err != nil {
		return false, err
	}

	parentID := d.cfg.RootFolderID
	if parentPath != "" {
		parts := strings.Split(strings.Trim(parentPath, "/"), "/")
		parentID, err = d.EnsureFolderPath(ctx, parts...)
		if err != nil {
			return false, err
		}
	}

	oldPath := path.Join(parentPath, oldName)
	release, err := d.acquirePathLock(ctx, oldPath, 30*time.Second)
	if err != nil {
		return false, err
	}
	defer release()

	query := fmt.Sprintf("mimeType='%s' and trashed=false and name='%s' and '%s' in parents",
		folderMimeType, escapeQuery(oldName), parentID)
	result, err := srv.Files.List().
		Context(ctx).
		Q(query).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Do()
	if err != nil {
		return false, err
	}
	if len(result.Files) == 0 {
		return false, nil
	}

	_, err = srv.Files.Update(result.Files[0].Id, &drive.File{Name: newName}).
		Context(ctx).
		SupportsAllDrives(true).
		Do()
	if err != nil {
		return false, err
	}

	// Every cached ID under the old path is now wrong.
	d.invalidatePrefix(oldPath)

	logger.Drive("folder_renamed", "Remote folder renamed", map[string]interface{}{
		"parent": parentPath,
		"old":    oldName,
		"new":    newName,
	})
	return true, nil
}

func (d *DriveStore) invalidatePrefix(prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for p := range d.folderIDs {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			delete(d.folderIDs, p)
		}
	}
}

// ShareFolder grants public read access to the folder and returns its web
// view link.
func (d *DriveStore) ShareFolder(ctx context.Context, folderPath string) (string, error) {
	srv, err := d.getService(ctx)
	if err != nil {
		return "", err
	}

	parts := strings.Split(strings.Trim(folderPath, "/"), "/")
	folderID, err := d.EnsureFolderPath(ctx, parts...)
	if err != nil {
		return "", err
	}

	_, err = srv.Permissions.Create(folderID, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).SupportsAllDrives(true).Do()
	if err != nil {
		return "", fmt.Errorf("failed to share folder: %w", err)
	}

	meta, err := srv.Files.Get(folderID).
		Context(ctx).
		Fields("webViewLink").
		SupportsAllDrives(true).
		Do()
	if err != nil {
		return "", err
	}
	return meta.WebViewLink, nil
}

// escapeQuery escapes single quotes and backslashes for Drive query
// string literals.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// IsRetryable classifies a Drive error: rate limits and server errors are
// retryable, auth and bad-request errors are not. Unknown errors (network
// level) count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return true
		case apiErr.Code >= 500:
			return true
		case apiErr.Code == 400, apiErr.Code == 401, apiErr.Code == 403, apiErr.Code == 404:
			return false
		}
	}
	return true
}
