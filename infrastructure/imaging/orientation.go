package imaging

import (
	"encoding/binary"
	"errors"
	"image"
	"io"
	"os"

	"golang.org/x/image/draw"
)

var errNoOrientation = errors.New("no orientation tag")

// readOrientation extracts the EXIF orientation (1-8) from a JPEG or TIFF
// file. Returns errNoOrientation when the tag is absent or the file has no
// EXIF block.
func readOrientation(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var marker [2]byte
	if _, err := io.ReadFull(f, marker[:]); err != nil {
		return 0, err
	}

	// Bare TIFF files start directly with the byte-order mark.
	if (marker[0] == 'I' && marker[1] == 'I') || (marker[0] == 'M' && marker[1] == 'M') {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		tiffData, err := io.ReadAll(io.LimitReader(f, 1<<16))
		if err != nil {
			return 0, err
		}
		return parseTIFFOrientation(tiffData)
	}

	if marker[0] != 0xFF || marker[1] != 0xD8 { // SOI
		return 0, errNoOrientation
	}

	// Walk JPEG segments looking for APP1/Exif.
	for {
		if _, err := io.ReadFull(f, marker[:]); err != nil {
			return 0, errNoOrientation
		}
		if marker[0] != 0xFF {
			return 0, errNoOrientation
		}
		if marker[1] == 0xDA { // SOS, no EXIF before image data
			return 0, errNoOrientation
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			return 0, err
		}
		segLen := int(binary.BigEndian.Uint16(lenBuf[:])) - 2
		if segLen < 0 {
			return 0, errNoOrientation
		}

		if marker[1] != 0xE1 { // not APP1
			if _, err := f.Seek(int64(segLen), io.SeekCurrent); err != nil {
				return 0, err
			}
			continue
		}

		seg := make([]byte, segLen)
		if _, err := io.ReadFull(f, seg); err != nil {
			return 0, err
		}
		if len(seg) < 6 || string(seg[:6]) != "Exif\x00\x00" {
			continue
		}
		return parseTIFFOrientation(seg[6:])
	}
}

// parseTIFFOrientation walks IFD0 of a TIFF structure for tag 0x0112.
func parseTIFFOrientation(data []byte) (int, error) {
	if len(data) < 8 {
		return 0, errNoOrientation
	}

	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return 0, errNoOrientation
	}

	ifdOffset := order.Uint32(data[4:8])
	if int(ifdOffset)+2 > len(data) {
		return 0, errNoOrientation
	}

	count := int(order.Uint16(data[ifdOffset : ifdOffset+2]))
	entryBase := int(ifdOffset) + 2
	for i := 0; i < count; i++ {
		off := entryBase + i*12
		if off+12 > len(data) {
			break
		}
		tag := order.Uint16(data[off : off+2])
		if tag != 0x0112 {
			continue
		}
		orientation := int(order.Uint16(data[off+8 : off+10]))
		if orientation >= 1 && orientation <= 8 {
			return orientation, nil
		}
		return 0, errNoOrientation
	}
	return 0, errNoOrientation
}

// applyOrientation bakes the EXIF orientation into the pixels so every
// downstream consumer sees an upright image.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipHorizontal(img)
	case 3:
		return rotate180(img)
	case 4:
		return flipVertical(img)
	case 5:
		return flipHorizontal(rotate90(img))
	case 6:
		return rotate90(img)
	case 7:
		return flipHorizontal(rotate270(img))
	case 8:
		return rotate270(img)
	default:
		return img
	}
}

func rotate90(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dy(), bounds.Dx()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(bounds.Max.Y-1-y, x-bounds.Min.X, img.At(x, y))
		}
	}
	return dst
}

func rotate180(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(bounds.Max.X-1-x, bounds.Max.Y-1-y, img.At(x, y))
		}
	}
	return dst
}

func rotate270(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dy(), bounds.Dx()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(y-bounds.Min.Y, bounds.Max.X-1-x, img.At(x, y))
		}
	}
	return dst
}

func flipHorizontal(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Copy(dst, image.Point{}, img, bounds, draw.Src, nil)
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx()/2; x++ {
			mirror := bounds.Dx() - 1 - x
			a := dst.RGBAAt(x, y)
			dst.SetRGBA(x, y, dst.RGBAAt(mirror, y))
			dst.SetRGBA(mirror, y, a)
		}
	}
	return dst
}

func flipVertical(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Copy(dst, image.Point{}, img, bounds, draw.Src, nil)
	for y := 0; y < bounds.Dy()/2; y++ {
		mirror := bounds.Dy() - 1 - y
		for x := 0; x < bounds.Dx(); x++ {
			a := dst.RGBAAt(x, y)
			dst.SetRGBA(x, y, dst.RGBAAt(x, mirror))
			dst.SetRGBA(x, mirror, a)
		}
	}
	return dst
}
