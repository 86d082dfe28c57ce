package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// Custom errors for image processing
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecodeFailed      = errors.New("failed to decode image")
	ErrNoRawDecoder      = errors.New("no RAW decoder configured")
)

const (
	normalizedQuality = 95
	thumbnailQuality  = 85
	selfieQuality     = 95

	// Faces below this edge length detect poorly; smaller inputs are
	// upscaled for detection only.
	minDetectionSize = 640
)

var rawExtensions = map[string]bool{
	".cr2": true, ".nef": true, ".arw": true, ".dng": true,
	".orf": true, ".rw2": true, ".raf": true, ".pef": true,
}

// RawDecoder converts a camera RAW file into a decodable image file at
// dst. Injected because RAW support needs an external toolchain; a nil
// decoder makes every RAW input fail with ErrNoRawDecoder.
type RawDecoder func(src, dst string) error

// Processor normalizes dropped photos into bounded JPEGs plus square
// thumbnails.
type Processor struct {
	maxSize    int
	thumbSize  int
	rawDecoder RawDecoder
}

func NewProcessor(maxSize, thumbSize int, rawDecoder RawDecoder) *Processor {
	return &Processor{
		maxSize:    maxSize,
		thumbSize:  thumbSize,
		rawDecoder: rawDecoder,
	}
}

// ProcessResult carries the outputs of one normalization run.
type ProcessResult struct {
	ProcessedPath string
	ThumbnailPath string
	Width         int
	Height        int
}

// Process decodes the photo at srcPath, applies its EXIF orientation,
// downscales so the longest edge is at most maxSize, and writes a quality
// 95 JPEG plus a center-cropped square thumbnail into destDir. The output
// name is baseName + ".jpg" with a "_thumb" sibling.
func (p *Processor) Process(srcPath, destDir, baseName string) (*ProcessResult, error) {
	img, err := p.decode(srcPath)
	if err != nil {
		return nil, err
	}

	img = p.bound(img, p.maxSize)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	processedPath := filepath.Join(destDir, baseName+".jpg")
	if err := writeJPEG(processedPath, img, normalizedQuality); err != nil {
		return nil, err
	}

	thumb := p.centerCrop(img, p.thumbSize)
	thumbnailPath := filepath.Join(destDir, baseName+"_thumb.jpg")
	if err := writeJPEG(thumbnailPath, thumb, thumbnailQuality); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &ProcessResult{
		ProcessedPath: processedPath,
		ThumbnailPath: thumbnailPath,
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
	}, nil
}

// ProcessSelfie normalizes an enrollment selfie to at most maxEdge pixels
// and writes it to destPath as a quality 95 JPEG.
func (p *Processor) ProcessSelfie(srcPath, destPath string, maxEdge int) error {
	img, err := p.decode(srcPath)
	if err != nil {
		return err
	}
	img = p.bound(img, maxEdge)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return writeJPEG(destPath, img, selfieQuality)
}

// PrepareForDetection returns a path suitable for the face analyzer. When
// the normalized image's longest edge is below 640 px it writes an
// upscaled temp copy and returns scale > 1; detected boxes must be divided
// by scale. cleanup removes the temp file and is always safe to call.
func (p *Processor) PrepareForDetection(processedPath string) (path string, scale float64, cleanup func(), err error) {
	noop := func() {}

	img, err := p.decode(processedPath)
	if err != nil {
		return "", 0, noop, err
	}

	bounds := img.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}
	if longest >= minDetectionSize {
		return processedPath, 1.0, noop, nil
	}

	scale = float64(minDetectionSize) / float64(longest)
	newWidth := int(float64(bounds.Dx()) * scale)
	newHeight := int(float64(bounds.Dy()) * scale)

	upscaled := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(upscaled, upscaled.Bounds(), img, bounds, draw.Over, nil)

	tmp, err := os.CreateTemp("", "detect-*.jpg")
	if err != nil {
		return "", 0, noop, err
	}
	tmpPath := tmp.Name()
	if err := jpeg.Encode(tmp, upscaled, &jpeg.Options{Quality: normalizedQuality}); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, noop, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, noop, err
	}

	return tmpPath, scale, func() { os.Remove(tmpPath) }, nil
}

// decode opens and decodes any supported format, routing RAW files
// through the injected decoder and honoring JPEG EXIF orientation.
func (p *Processor) decode(path string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if rawExtensions[ext] {
		if p.rawDecoder == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoRawDecoder, ext)
		}
		tmp, err := os.CreateTemp("", "rawdec-*.jpg")
		if err != nil {
			return nil, err
		}
		tmpPath := tmp.Name()
		tmp.Close()
		defer os.Remove(tmpPath)
		if err := p.rawDecoder(path, tmpPath); err != nil {
			return nil, fmt.Errorf("raw decode failed: %w", err)
		}
		path = tmpPath
		ext = ".jpg"
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var img image.Image
	switch ext {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	case ".gif":
		img, err = gif.Decode(f)
	case ".webp":
		img, err = webp.Decode(f)
	case ".bmp":
		img, err = bmp.Decode(f)
	case ".tiff", ".tif":
		img, err = tiff.Decode(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	if ext == ".jpg" || ext == ".jpeg" || ext == ".tiff" || ext == ".tif" {
		if orientation, err := readOrientation(path); err == nil && orientation > 1 {
			img = applyOrientation(img, orientation)
		}
	}

	return img, nil
}

// bound downscales img so its longest edge is at most maxSize. Images
// already inside the bound pass through untouched.
func (p *Processor) bound(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		if width <= maxSize {
			return img
		}
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		if height <= maxSize {
			return img
		}
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// centerCrop cuts the largest centered square out of img and scales it to
// size x size.
func (p *Processor) centerCrop(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	edge := width
	if height < edge {
		edge = height
	}
	x0 := bounds.Min.X + (width-edge)/2
	y0 := bounds.Min.Y + (height-edge)/2
	square := image.Rect(x0, y0, x0+edge, y0+edge)

	thumb := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, square, draw.Over, nil)
	return thumb
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
