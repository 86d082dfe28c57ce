package services

import (
	"context"
	"errors"
)

// Custom errors for the remote store
var (
	ErrRemoteDisabled = errors.New("remote store is disabled")
	ErrLocalFileGone  = errors.New("local file no longer exists")
)

// RemoteStore mirrors the local event tree to a cloud folder hierarchy.
// All paths are relative to the configured remote root and use forward
// slashes. Implementations must make EnsureFolderPath idempotent and safe
// for concurrent callers.
type RemoteStore interface {
	// Enabled reports whether a remote backend is configured. When false
	// every other call returns ErrRemoteDisabled.
	Enabled() bool

	// EnsureFolderPath creates the folder chain (e.g. "People/Alice/Solo")
	// if missing and returns the ID of the leaf folder.
	EnsureFolderPath(ctx context.Context, parts ...string) (string, error)

	// Upload sends the local file to remotePath, creating parent folders
	// as needed. Replaces an existing file with the same name.
	Upload(ctx context.Context, localPath, remotePath string) error

	// RenameFolder renames a folder under parentPath from oldName to
	// newName. Returns false with nil error when the folder does not
	// exist remotely yet.
	RenameFolder(ctx context.Context, parentPath, oldName, newName string) (bool, error)

	// ShareFolder grants public read access to the folder and returns a
	// shareable link.
	ShareFolder(ctx context.Context, folderPath string) (string, error)

	// Rebuild discards the underlying client and caches and builds fresh
	// ones. Called between upload batches to shed stale connections.
	Rebuild(ctx context.Context) error
}
