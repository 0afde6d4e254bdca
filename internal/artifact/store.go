// Package artifact stores task images on the local filesystem and maps them
// to the public references (/uploads/..., /output/...) kept on task records.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/phrazzld/vista-api/internal/domain"
)

// Public reference prefixes.
const (
	UploadsPrefix = "/uploads/"
	OutputPrefix  = "/output/"
)

// ErrBadRef is returned for references outside the artifact directories.
var ErrBadRef = errors.New("invalid artifact reference")

// Store keeps originals in one directory and produced images in another.
type Store struct {
	uploadDir string
	outputDir string
	logger    *slog.Logger
}

// NewStore creates both directories if needed.
func NewStore(uploadDir, outputDir string, logger *slog.Logger) (*Store, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact directory %s: %w", dir, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		uploadDir: uploadDir,
		outputDir: outputDir,
		logger:    logger.With(slog.String("component", "artifact_store")),
	}, nil
}

// UploadDir returns the directory holding originals.
func (s *Store) UploadDir() string { return s.uploadDir }

// OutputDir returns the directory holding produced images.
func (s *Store) OutputDir() string { return s.outputDir }

// OriginalName is the file name of a task's normalised upload.
func OriginalName(taskID string) string {
	return taskID + "_original.png"
}

// DefaultMaxImagePixels caps width*height of an accepted upload.
const DefaultMaxImagePixels = 40_000_000

// DecodeImage decodes an uploaded payload, applying EXIF orientation.
// The header is checked first, so images declaring more than maxPixels
// pixels fail with domain.ErrImageTooLarge before any pixel data is
// allocated. A non-positive maxPixels uses DefaultMaxImagePixels.
// Payloads that are not images fail with domain.ErrInvalidImage.
func DecodeImage(r io.Reader, maxPixels int64) (image.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}

	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels",
			domain.ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(io.MultiReader(&header, r), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	return img, nil
}

// SaveOriginal writes img as the task's PNG original and returns its reference.
func (s *Store) SaveOriginal(taskID string, img image.Image) (string, error) {
	name := OriginalName(taskID)
	if err := imaging.Save(img, filepath.Join(s.uploadDir, name)); err != nil {
		return "", fmt.Errorf("save original for task %s: %w", taskID, err)
	}
	return UploadsPrefix + name, nil
}

// SaveOutput writes img under name in the output directory. The format
// follows the extension; JPEGs use quality 90.
func (s *Store) SaveOutput(name string, img image.Image) (string, error) {
	if name != filepath.Base(name) || name == "" {
		return "", fmt.Errorf("%w: %q", ErrBadRef, name)
	}
	if err := imaging.Save(img, filepath.Join(s.outputDir, name), imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("save output %s: %w", name, err)
	}
	s.logger.Debug("output saved", slog.String("name", name))
	return OutputPrefix + name, nil
}

// Resolve maps a public reference to a file path inside the artifact directories.
func (s *Store) Resolve(ref string) (string, error) {
	var dir, name string
	switch {
	case strings.HasPrefix(ref, UploadsPrefix):
		dir, name = s.uploadDir, strings.TrimPrefix(ref, UploadsPrefix)
	case strings.HasPrefix(ref, OutputPrefix):
		dir, name = s.outputDir, strings.TrimPrefix(ref, OutputPrefix)
	default:
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}

	if name == "" || name != path.Base(name) || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return filepath.Join(dir, name), nil
}

// Open decodes the image behind a reference.
func (s *Store) Open(ref string) (image.Image, error) {
	p, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return img, nil
}
