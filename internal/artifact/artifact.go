// Package artifact saves one image per accepted transition.
package artifact

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/platewatch/internal/model"
)

const (
	FormatJPEG = "jpg"
	FormatPNG  = "png"

	defaultJPEGQuality = 90
	nameTimeLayout     = "20060102-150405"
)

// ErrExists is returned when an artifact for the same plate and second
// already exists. Artifacts are never overwritten.
var ErrExists = errors.New("artifact: already exists")

// Store writes images named <plate>_<YYYYMMDD-HHMMSS>.<ext> into a directory.
// Safe for concurrent use.
type Store struct {
	dir         string
	format      string
	jpegQuality int
	loc         *time.Location
	saved       atomic.Uint64
	failed      atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithJPEGQuality sets the JPEG quality (1-100). Default: 90.
func WithJPEGQuality(q int) Option {
	return func(s *Store) { s.jpegQuality = q }
}

// WithLocation sets the time zone used in file names. Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// New creates the directory if needed. format is "jpg" (also "jpeg") or
// "png".
func New(dir, format string, opts ...Option) (*Store, error) {
	switch format {
	case FormatJPEG, "jpeg", "":
		format = FormatJPEG
	case FormatPNG:
	default:
		return nil, fmt.Errorf("artifact: unsupported format %q (must be jpg or png)", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create directory: %w", err)
	}

	s := &Store{dir: dir, format: format, jpegQuality: defaultJPEGQuality, loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	if s.jpegQuality < 1 || s.jpegQuality > 100 {
		s.jpegQuality = defaultJPEGQuality
	}
	return s, nil
}

// Name returns the file name for an artifact of plate at t.
func (s *Store) Name(plate model.Plate, at time.Time) string {
	return fmt.Sprintf("%s_%s.%s", plate, at.In(s.loc).Format(nameTimeLayout), s.format)
}

// Save encodes img to a new file and returns its path.
func (s *Store) Save(plate model.Plate, at time.Time, img image.Image) (string, error) {
	path := filepath.Join(s.dir, s.Name(plate, at))
	if err := s.write(path, img); err != nil {
		s.failed.Add(1)
		return "", err
	}
	s.saved.Add(1)
	return path, nil
}

func (s *Store) write(path string, img image.Image) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err != nil {
		return fmt.Errorf("artifact: create: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("artifact: close: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	switch s.format {
	case FormatPNG:
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: s.jpegQuality})
	}
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", s.format, err)
	}
	return nil
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// Stats returns the number of saved and failed artifacts.
func (s *Store) Stats() (saved, failed uint64) {
	return s.saved.Load(), s.failed.Load()
}
