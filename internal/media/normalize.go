package media

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// MaxDimension is the largest width or height a stored avatar may have.
const MaxDimension = 300

// MaxPixels bounds width*height of any image the store will decode. A small
// compressed file can declare a huge canvas; the header is checked first.
const MaxPixels = 40_000_000

// ErrInvalidImage is returned when bytes cannot be decoded as a supported image.
var ErrInvalidImage = errors.New("invalid image")

func checkPixels(cfg image.Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	return nil
}

// FitWithin returns the size of a w×h image scaled down, aspect ratio kept,
// so neither edge exceeds limit. Images already inside the box are unchanged.
func FitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	scale := math.Min(float64(limit)/float64(w), float64(limit)/float64(h))
	nw := clamp(int(math.Round(float64(w)*scale)), 1, limit)
	nh := clamp(int(math.Round(float64(h)*scale)), 1, limit)
	return nw, nh
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Thumbnail scales src down to fit within limit×limit. It never upscales.
func Thumbnail(src image.Image, limit int) image.Image {
	b := src.Bounds()
	nw, nh := FitWithin(b.Dx(), b.Dy(), limit)
	if nw == b.Dx() && nh == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// Normalize shrinks the image at rel in place so it fits MaxDimension.
// It reports whether the file was rewritten. The output keeps the input's
// encoding. Decode failures wrap ErrInvalidImage.
func (s *Store) Normalize(rel string) (bool, error) {
	path, err := s.Path(rel)
	if err != nil {
		return false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidImage, rel, err)
	}
	if err := checkPixels(cfg); err != nil {
		return false, fmt.Errorf("%s: %w", rel, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("rewind %s: %w", rel, err)
	}
	src, format, err := image.Decode(f)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidImage, rel, err)
	}

	b := src.Bounds()
	if b.Dx() <= MaxDimension && b.Dy() <= MaxDimension {
		return false, nil
	}
	thumb := Thumbnail(src, MaxDimension)
	if err := writeAtomic(path, func(w io.Writer) error { return encode(w, thumb, format) }); err != nil {
		return false, fmt.Errorf("rewrite %s: %w", rel, err)
	}
	return true, nil
}

func encode(w io.Writer, img image.Image, format string) error {
	switch format {
	case "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "png":
		return png.Encode(w, img)
	case "gif":
		return gif.Encode(w, img, nil)
	case "bmp":
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, format)
	}
}
