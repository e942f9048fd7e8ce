// Package media stores uploaded profile images under a root directory and
// keeps them within the avatar size limit.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/diewo77/go-blog/internal/models"
	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the store's byte limit.
var ErrTooLarge = errors.New("upload too large")

var extensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"bmp":  ".bmp",
}

// Store keeps files below Root. Paths handed in and out are relative,
// slash-separated, and never escape Root.
type Store struct {
	Root     string
	MaxBytes int64
}

// NewStore creates a store rooted at root. maxBytes <= 0 means no limit.
func NewStore(root string, maxBytes int64) *Store {
	return &Store{Root: root, MaxBytes: maxBytes}
}

// Path maps a relative media path to a file path under Root.
func (s *Store) Path(rel string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(rel, "\\", "/"))
	if clean == "/" || rel == "" {
		return "", fmt.Errorf("invalid media path %q", rel)
	}
	return filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Exists reports whether rel is a regular file.
func (s *Store) Exists(rel string) bool {
	p, err := s.Path(rel)
	if err != nil {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// SaveUpload writes an uploaded image to profile_pics/<uuid><ext> and
// returns its relative path. The content must decode as a supported image.
func (s *Store) SaveUpload(r io.Reader) (string, error) {
	limited := r
	if s.MaxBytes > 0 {
		limited = io.LimitReader(r, s.MaxBytes+1)
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return "", ErrTooLarge
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := checkPixels(cfg); err != nil {
		return "", err
	}
	ext, ok := extensions[format]
	if !ok {
		return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, format)
	}

	rel := path.Join(models.ImageUploadDir, uuid.NewString()+ext)
	dst, err := s.Path(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	if err := writeAtomic(dst, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return rel, nil
}

// Remove deletes rel. The default image is never removed and a missing
// file is not an error.
func (s *Store) Remove(rel string) error {
	if rel == "" || rel == models.DefaultImage {
		return nil
	}
	p, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// EnsurePlaceholder writes a plain default avatar if none exists yet.
func (s *Store) EnsurePlaceholder() (bool, error) {
	if s.Exists(models.DefaultImage) {
		return false, nil
	}
	p, err := s.Path(models.DefaultImage)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return false, err
	}
	img := image.NewRGBA(image.Rect(0, 0, 125, 125))
	bg := color.RGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff}
	for y := 0; y < 125; y++ {
		for x := 0; x < 125; x++ {
			img.Set(x, y, bg)
		}
	}
	err = writeAtomic(p, func(w io.Writer) error { return jpeg.Encode(w, img, nil) })
	return err == nil, err
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place, so readers never see a partial file.
func writeAtomic(dst string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
