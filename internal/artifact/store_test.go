package artifact

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/vista-api/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 200, A: 255})))
	return buf.Bytes()
}

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "output"), nil)
	require.NoError(t, err)
	return s
}

func TestDecodeImage(t *testing.T) {
	t.Parallel()

	img, err := DecodeImage(bytes.NewReader(pngBytes(t, 4, 3)), 0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())

	_, err = DecodeImage(strings.NewReader("definitely not an image"), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidImage)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDecodeImage_PixelLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		w, h      int
		maxPixels int64
		wantErr   bool
	}{
		{name: "at the limit", w: 10, h: 10, maxPixels: 100},
		{name: "one row over", w: 10, h: 11, maxPixels: 100, wantErr: true},
		{name: "wide and short", w: 400, h: 1, maxPixels: 100, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			img, err := DecodeImage(bytes.NewReader(pngBytes(t, tc.w, tc.h)), tc.maxPixels)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrImageTooLarge)
				assert.ErrorIs(t, err, domain.ErrInvalidImage)
				assert.Nil(t, img)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, tc.w, tc.h), img.Bounds())
		})
	}
}

// A header claiming huge dimensions is rejected without reading pixel data.
func TestDecodeImage_RejectsHeaderBeforeDecoding(t *testing.T) {
	t.Parallel()

	payload := pngBytes(t, 2, 2)
	// IHDR width and height live at bytes 16..23 and its CRC at 29..32.
	bomb := append([]byte(nil), payload...)
	binary.BigEndian.PutUint32(bomb[16:20], 60000)
	binary.BigEndian.PutUint32(bomb[20:24], 60000)
	binary.BigEndian.PutUint32(bomb[29:33], crc32.ChecksumIEEE(bomb[12:29]))

	_, err := DecodeImage(bytes.NewReader(bomb), 0)
	assert.ErrorIs(t, err, domain.ErrImageTooLarge)
}

func TestStore_SaveAndOpen(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	img := imaging.New(8, 6, color.NRGBA{G: 255, A: 255})

	ref, err := s.SaveOriginal("abc", img)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/abc_original.png", ref)
	_, err = os.Stat(filepath.Join(s.UploadDir(), "abc_original.png"))
	require.NoError(t, err)

	opened, err := s.Open(ref)
	require.NoError(t, err)
	assert.Equal(t, 8, opened.Bounds().Dx())

	out, err := s.SaveOutput("abc_processed.jpg", img)
	require.NoError(t, err)
	assert.Equal(t, "/output/abc_processed.jpg", out)
}

func TestStore_Resolve(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	p, err := s.Resolve("/output/x.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.OutputDir(), "x.png"), p)

	for _, bad := range []string{"/etc/passwd", "/uploads/../secret", "/uploads/", "/output/a/b.png", "relative.png"} {
		_, err := s.Resolve(bad)
		assert.ErrorIs(t, err, ErrBadRef, bad)
	}

	_, err = s.SaveOutput("../escape.png", imaging.New(1, 1, color.Black))
	assert.ErrorIs(t, err, ErrBadRef)
}
