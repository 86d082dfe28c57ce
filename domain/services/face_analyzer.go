package services

import (
	"context"
	"errors"
)

// Custom errors for face analysis
var (
	ErrAnalyzerUnavailable = errors.New("face analyzer is not available")
)

// DetectedFace represents a face detected in an image
type DetectedFace struct {
	BboxX      int       `json:"bbox_x"`
	BboxY      int       `json:"bbox_y"`
	BboxWidth  int       `json:"bbox_width"`
	BboxHeight int       `json:"bbox_height"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"-"` // Hidden from JSON, used internally
}

// FaceAnalyzer detects faces and computes embeddings for an image on disk.
// Implementations must be safe for use by a single worker goroutine; the
// worker pool creates one analyzer per worker via AnalyzerFactory.
type FaceAnalyzer interface {
	// DetectAndEmbed returns every face found in the image at path, with
	// bounding boxes in the image's own pixel coordinates.
	DetectAndEmbed(ctx context.Context, path string) ([]DetectedFace, error)

	// IsAvailable reports whether the analyzer backend is reachable.
	IsAvailable(ctx context.Context) bool
}

// AnalyzerFactory builds a FaceAnalyzer for a worker. Backends with
// thread-affine state get one instance per worker goroutine.
type AnalyzerFactory func() (FaceAnalyzer, error)
