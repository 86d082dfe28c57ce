package services

import (
	"context"

	"faceflow/domain/models"
)

// RoutedFile is one destination a photo landed in, paired with the path the
// remote mirror should use.
type RoutedFile struct {
	LocalPath  string
	RemotePath string // Relative to the remote root, forward slashes
}

// PersonRouting is one person's folder usage for the admin summary.
type PersonRouting struct {
	PersonID   int64  `json:"person_id"`
	Name       string `json:"name"`
	Enrolled   bool   `json:"enrolled"`
	SoloCount  int    `json:"solo_count"`
	GroupCount int    `json:"group_count"`
}

// RoutingService places processed photos into the person-folder tree and
// the admin fallback folders.
type RoutingService interface {
	// RoutePhoto fans the processed JPEG out to each detected person's
	// Solo or Group folder, or to Admin/NoFaces when the photo has no
	// assigned persons. Returns every destination written.
	RoutePhoto(ctx context.Context, photo *models.Photo) ([]RoutedFile, error)

	// RouteToErrors moves the original file into Admin/Errors. Used when
	// the pipeline fails on a photo.
	RouteToErrors(ctx context.Context, originalPath string) (string, error)

	// Summary reports per-person solo/group counts.
	Summary(ctx context.Context) ([]PersonRouting, error)
}
