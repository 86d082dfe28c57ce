package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"faceflow/domain/services"
)

// FaceClient talks to the InsightFace sidecar over HTTP. It implements
// services.FaceAnalyzer.
type FaceClient struct {
	baseURL    string
	httpClient *http.Client
}

// detectedFace is the sidecar's wire representation of one face. Bounding
// boxes come back in pixel coordinates of the submitted image.
type detectedFace struct {
	BboxX      int       `json:"bbox_x"`
	BboxY      int       `json:"bbox_y"`
	BboxWidth  int       `json:"bbox_width"`
	BboxHeight int       `json:"bbox_height"`
	Embedding  []float32 `json:"embedding"`
	Confidence float64   `json:"confidence"`
}

type extractResponse struct {
	Success bool           `json:"success"`
	Faces   []detectedFace `json:"faces"`
	Error   string         `json:"error,omitempty"`

	ProcessingTimeMs int `json:"processing_time_ms"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Version string `json:"version"`
}

// NewFaceClient creates a face analyzer bound to the sidecar at baseURL.
func NewFaceClient(baseURL string) *FaceClient {
	return &FaceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Face processing can take time, especially on CPU
		},
	}
}

// NewFactory returns an AnalyzerFactory producing clients for the worker
// pool. The HTTP client is goroutine safe, so every worker shares one.
func NewFactory(baseURL string) services.AnalyzerFactory {
	client := NewFaceClient(baseURL)
	return func() (services.FaceAnalyzer, error) {
		return client, nil
	}
}

// DetectAndEmbed posts the image bytes at path to the sidecar and returns
// every detected face.
func (c *FaceClient) DetectAndEmbed(ctx context.Context, path string) ([]services.DetectedFace, error) {
	imageData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/extract-bytes", bytes.NewBuffer(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call face API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("face API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result extractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("face extraction failed: %s", result.Error)
	}

	faces := make([]services.DetectedFace, 0, len(result.Faces))
	for _, f := range result.Faces {
		faces = append(faces, services.DetectedFace{
			BboxX:      f.BboxX,
			BboxY:      f.BboxY,
			BboxWidth:  f.BboxWidth,
			BboxHeight: f.BboxHeight,
			Embedding:  f.Embedding,
			Confidence: f.Confidence,
		})
	}
	return faces, nil
}

// Health checks if the face API is healthy
func (c *FaceClient) Health(ctx context.Context) (*healthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call health API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	var result healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// IsAvailable checks if the face API is available
func (c *FaceClient) IsAvailable(ctx context.Context) bool {
	health, err := c.Health(ctx)
	if err != nil {
		return false
	}
	return health.Status == "ok"
}
